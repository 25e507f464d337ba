package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shardd/internal/engine"
	"shardd/internal/tensor"
	"shardd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *engine.Engine implements it.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Defaults() (temperature float64, topK int)

	Encode(ctx context.Context, shard types.Shard, text string) ([]int, error)
	Decode(ctx context.Context, shard types.Shard, ids []int) (string, error)
	Sample(ctx context.Context, logits *tensor.Tensor, temperature float64, topK int) ([]int, error)
	InferStep(ctx context.Context, requestID string, shard types.Shard, in tensor.Input) (engine.StepResult, error)
	InferTensor(ctx context.Context, requestID string, shard types.Shard, t *tensor.Tensor) (engine.StepResult, error)

	SessionTokens(requestID string) ([]int, bool)
	EndSession(requestID string) bool
}

var _ Service = (*engine.Engine)(nil)

// RequestIDHeader echoes the session id used by /infer.
const RequestIDHeader = "X-Shardd-Request-Id"

func NewMux(svc Service) http.Handler {
	h := &handlers{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{RequestIDHeader},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no shard"))
	})
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/encode", h.encode)
	r.Post("/decode", h.decode)
	r.Post("/sample", h.sample)
	r.Post("/infer", h.infer)
	r.Get("/sessions/{id}", h.session)
	r.Delete("/sessions/{id}", h.endSession)

	if swaggerEnabled {
		MountSwagger(r)
	}
	return r
}

// contentType returns the lower-cased media type of r without parameters.
func contentType(r *http.Request) string {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// wantsRelay reports whether the client asked for an Arrow response.
func wantsRelay(r *http.Request, relayIn bool) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "application/json") {
		return false
	}
	return relayIn || strings.Contains(accept, relayContentType)
}
