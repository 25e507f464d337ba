package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shardd/internal/engine"
	"shardd/internal/relay"
	"shardd/internal/tensor"
	"shardd/pkg/types"
)

const relayContentType = relay.ContentType

type handlers struct {
	svc Service
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body into v. On failure it writes
// the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if contentType(r) != "application/json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, kindBadRequest, "Content-Type must be application/json")
		return false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, kindBadRequest, "request body too large")
			return false
		}
		badRequest(w, "read body: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// fail writes err unless the request was abandoned, and logs the outcome.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, ol *opLog, err error) {
	if abandoned(r) {
		ol.end(499, err)
		return
	}
	status, kind := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeJSONError(w, status, kind, err.Error())
	ol.end(status, err)
}

func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	models := h.svc.ListModels()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *handlers) encode(w http.ResponseWriter, r *http.Request) {
	ol := startOp(r, "encode")
	var req types.EncodeRequest
	if !decodeJSON(w, r, &req) {
		ol.end(http.StatusBadRequest, nil)
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	ids, err := h.svc.Encode(ctx, req.Shard, req.Text)
	if err != nil {
		h.fail(w, r, ol, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, types.EncodeResponse{Tokens: ids})
	ol.end(http.StatusOK, nil)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request) {
	ol := startOp(r, "decode")
	var req types.DecodeRequest
	if !decodeJSON(w, r, &req) {
		ol.end(http.StatusBadRequest, nil)
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	text, err := h.svc.Decode(ctx, req.Shard, req.Tokens)
	if err != nil {
		h.fail(w, r, ol, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DecodeResponse{Text: text})
	ol.end(http.StatusOK, nil)
}

func (h *handlers) sample(w http.ResponseWriter, r *http.Request) {
	ol := startOp(r, "sample")
	var req types.SampleRequest
	if !decodeJSON(w, r, &req) {
		ol.end(http.StatusBadRequest, nil)
		return
	}
	logits, err := tensor.FromData(req.Logits.Data, req.Logits.Shape...)
	if err != nil {
		badRequest(w, "logits: "+err.Error())
		ol.end(http.StatusBadRequest, err)
		return
	}
	temp, topK := h.svc.Defaults()
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	if req.TopK != nil {
		topK = *req.TopK
	}
	ctx, cancel := opContext(r)
	defer cancel()
	ids, err := h.svc.Sample(ctx, logits, temp, topK)
	if err != nil {
		h.fail(w, r, ol, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SampleResponse{Tokens: ids})
	ol.end(http.StatusOK, nil)
}

// stepCall is a parsed /infer request.
type stepCall struct {
	requestID string
	shard     types.Shard
	input     *tensor.Input
	untagged  *tensor.Tensor
}

func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	ol := startOp(r, "infer")
	var (
		call    stepCall
		relayIn bool
		ok      bool
	)
	switch contentType(r) {
	case relayContentType:
		relayIn = true
		call, ok = parseRelayStep(w, r)
	case "application/json":
		call, ok = parseJSONStep(w, r)
	default:
		writeJSONError(w, http.StatusUnsupportedMediaType, kindBadRequest,
			fmt.Sprintf("Content-Type must be application/json or %s", relayContentType))
		ol.end(http.StatusUnsupportedMediaType, nil)
		return
	}
	if !ok {
		ol.end(http.StatusBadRequest, nil)
		return
	}
	if call.requestID == "" {
		call.requestID = uuid.NewString()
	}
	ol.requestID = call.requestID
	ol.debug(func(ev *zerolog.Event) *zerolog.Event {
		ev = ev.Str("shard", call.shard.String())
		if call.input != nil {
			ev = ev.Str("mode", call.input.Mode.String()).Ints("tokens", call.input.Tokens)
		}
		return ev
	})

	ctx, cancel := opContext(r)
	defer cancel()
	var (
		res engine.StepResult
		err error
	)
	if call.input != nil {
		res, err = h.svc.InferStep(ctx, call.requestID, call.shard, *call.input)
	} else {
		res, err = h.svc.InferTensor(ctx, call.requestID, call.shard, call.untagged)
	}
	w.Header().Set(RequestIDHeader, call.requestID)
	if err != nil {
		h.fail(w, r, ol, err)
		return
	}

	if wantsRelay(r, relayIn) {
		writeRelayStep(w, call, res)
	} else {
		resp := types.InferResponse{RequestID: call.requestID}
		if res.IsHidden() {
			resp.Kind = types.OutputHidden
			resp.Hidden = &types.TensorPayload{Shape: res.Hidden.Shape, Data: res.Hidden.Data}
		} else {
			tok := res.Token
			resp.Kind = types.OutputToken
			resp.Token = &tok
		}
		writeJSON(w, http.StatusOK, resp)
	}
	ol.end(http.StatusOK, nil)
}

func parseJSONStep(w http.ResponseWriter, r *http.Request) (stepCall, bool) {
	var req types.InferRequest
	if !decodeJSON(w, r, &req) {
		return stepCall{}, false
	}
	call := stepCall{requestID: strings.TrimSpace(req.RequestID), shard: req.Shard}
	switch {
	case req.Input != nil:
		var in tensor.Input
		switch req.Input.Kind {
		case types.InputTokens:
			in = tensor.Tokens(req.Input.Tokens...)
		case types.InputHidden:
			if req.Input.Hidden == nil {
				badRequest(w, "input.hidden is required for kind=hidden")
				return stepCall{}, false
			}
			t, err := tensor.FromData(req.Input.Hidden.Data, req.Input.Hidden.Shape...)
			if err != nil {
				badRequest(w, "input.hidden: "+err.Error())
				return stepCall{}, false
			}
			in = tensor.Hidden(t)
		default:
			badRequest(w, fmt.Sprintf("input.kind must be %q or %q", types.InputTokens, types.InputHidden))
			return stepCall{}, false
		}
		call.input = &in
	case req.Tensor != nil:
		t, err := tensor.FromData(req.Tensor.Data, req.Tensor.Shape...)
		if err != nil {
			badRequest(w, "tensor: "+err.Error())
			return stepCall{}, false
		}
		call.untagged = t
	default:
		badRequest(w, "input or tensor is required")
		return stepCall{}, false
	}
	return call, true
}

func parseRelayStep(w http.ResponseWriter, r *http.Request) (stepCall, bool) {
	body := &countingReader{r: http.MaxBytesReader(w, r.Body, maxBodyBytes)}
	f, err := relay.Decode(body)
	relayBytes.WithLabelValues("in").Add(float64(body.n))
	if err != nil {
		badRequest(w, err.Error())
		return stepCall{}, false
	}
	call := stepCall{requestID: f.RequestID, shard: f.Shard}
	var in tensor.Input
	switch f.Kind {
	case types.InputTokens:
		in = tensor.Tokens(f.Tokens...)
	case types.InputHidden:
		in = tensor.Hidden(f.Tensor)
	default:
		badRequest(w, fmt.Sprintf("relay frame kind must be %q or %q, got %q", types.InputTokens, types.InputHidden, f.Kind))
		return stepCall{}, false
	}
	call.input = &in
	return call, true
}

func writeRelayStep(w http.ResponseWriter, call stepCall, res engine.StepResult) {
	f := relay.Frame{RequestID: call.requestID, Shard: call.shard}
	if res.IsHidden() {
		f.Kind = types.OutputHidden
		f.Tensor = res.Hidden
	} else {
		f.Kind = types.OutputToken
		f.Tokens = []int{res.Token}
	}
	var buf bytes.Buffer
	if err := relay.Encode(&buf, f); err != nil {
		writeJSONError(w, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	relayBytes.WithLabelValues("out").Add(float64(buf.Len()))
	w.Header().Set("Content-Type", relayContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	toks, ok := h.svc.SessionTokens(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, kindBadRequest, "unknown session "+id)
		return
	}
	writeJSON(w, http.StatusOK, types.SessionResponse{RequestID: id, Tokens: toks})
}

func (h *handlers) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.svc.EndSession(id) {
		writeJSONError(w, http.StatusNotFound, kindBadRequest, "unknown session "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
