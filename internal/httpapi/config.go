package httpapi

import "time"

const defaultMaxBodyBytes int64 = 8 << 20

// maxBodyBytes bounds request bodies. Hidden states of long prompts are
// large, so the default is above the usual 1 MiB.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes sets the request body limit; n <= 0 restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// opTimeout bounds every engine call made by a handler. Zero disables it.
var opTimeout time.Duration

// SetOpTimeout sets the per-request engine timeout (d <= 0 disables).
func SetOpTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	opTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// swaggerEnabled mounts /swagger/* when set.
var swaggerEnabled = true

func SetSwaggerEnabled(on bool) { swaggerEnabled = on }
