package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo describes the API served under /swagger/.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "shardd API",
	Description:      "Shard-resident inference: encode, decode, sample and per-session inference steps over one model layer range.",
	InfoInstanceName: swag.Name,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI and doc.json under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/encode": {
            "post": {
                "summary": "Tokenize text with the shard's tokenizer",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.EncodeRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EncodeResponse"}},
                    "422": {"description": "Tokenization failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Shard unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/decode": {
            "post": {
                "summary": "Detokenize ids with the shard's tokenizer",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.DecodeRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DecodeResponse"}},
                    "422": {"description": "Tokenization failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sample": {
            "post": {
                "summary": "Sample one token per batch row from the final position",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.SampleRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SampleResponse"}},
                    "400": {"description": "Sampling failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/infer": {
            "post": {
                "summary": "Run one inference step of a session on a shard",
                "consumes": ["application/json", "application/vnd.apache.arrow.stream"],
                "produces": ["application/json", "application/vnd.apache.arrow.stream"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/types.InferRequest"}}],
                "responses": {
                    "200": {"description": "Sampled token or hidden state", "schema": {"$ref": "#/definitions/types.InferResponse"}},
                    "400": {"description": "Bad request or sampling failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Inference failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too busy", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Shard load failure", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Shard unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "summary": "Token history of a session",
                "produces": ["application/json"],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SessionResponse"}},
                    "404": {"description": "Unknown session", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "delete": {
                "summary": "End a session and drop its token history",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "Ended"},
                    "404": {"description": "Unknown session", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "summary": "List model directories",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "summary": "Engine status",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.Shard": {
            "type": "object",
            "properties": {
                "model_id": {"type": "string", "example": "llama-3.2-1b"},
                "start_layer": {"type": "integer", "example": 0},
                "end_layer": {"type": "integer", "example": 8},
                "n_layers": {"type": "integer", "example": 16}
            }
        },
        "types.TensorPayload": {
            "type": "object",
            "properties": {
                "shape": {"type": "array", "items": {"type": "integer"}},
                "data": {"type": "array", "items": {"type": "number"}}
            }
        },
        "types.StepInput": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["tokens", "hidden"]},
                "tokens": {"type": "array", "items": {"type": "integer"}},
                "hidden": {"$ref": "#/definitions/types.TensorPayload"}
            }
        },
        "types.InferRequest": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "shard": {"$ref": "#/definitions/types.Shard"},
                "input": {"$ref": "#/definitions/types.StepInput"},
                "tensor": {"$ref": "#/definitions/types.TensorPayload"}
            }
        },
        "types.InferResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "kind": {"type": "string", "enum": ["token", "hidden"]},
                "token": {"type": "integer"},
                "hidden": {"$ref": "#/definitions/types.TensorPayload"}
            }
        },
        "types.EncodeRequest": {
            "type": "object",
            "properties": {"shard": {"$ref": "#/definitions/types.Shard"}, "text": {"type": "string"}}
        },
        "types.EncodeResponse": {
            "type": "object",
            "properties": {"tokens": {"type": "array", "items": {"type": "integer"}}}
        },
        "types.DecodeRequest": {
            "type": "object",
            "properties": {"shard": {"$ref": "#/definitions/types.Shard"}, "tokens": {"type": "array", "items": {"type": "integer"}}}
        },
        "types.DecodeResponse": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "types.SampleRequest": {
            "type": "object",
            "properties": {
                "logits": {"$ref": "#/definitions/types.TensorPayload"},
                "temperature": {"type": "number", "example": 0.6},
                "top_k": {"type": "integer", "example": 25}
            }
        },
        "types.SampleResponse": {
            "type": "object",
            "properties": {"tokens": {"type": "array", "items": {"type": "integer"}}}
        },
        "types.SessionResponse": {
            "type": "object",
            "properties": {"request_id": {"type": "string"}, "tokens": {"type": "array", "items": {"type": "integer"}}}
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "path": {"type": "string"},
                "model_type": {"type": "string"},
                "n_layers": {"type": "integer"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "enum": ["idle", "loading", "ready", "error"]},
                "shard": {"$ref": "#/definitions/types.Shard"},
                "loaded_at_unix": {"type": "integer"},
                "device": {"type": "string"},
                "sessions": {"type": "integer"},
                "queue_depth": {"type": "integer"},
                "loads_total": {"type": "integer"},
                "load_failures_total": {"type": "integer"},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "integer"},
                "kind": {"type": "string"}
            }
        }
    }
}`
