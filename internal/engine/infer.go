package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"shardd/internal/executor"
	"shardd/internal/tensor"
	"shardd/pkg/types"
)

// InferStep runs one generation step of session requestID on shard.
//
// A token input is appended to the session's history and the model sees
// the whole history; it is only valid on the first shard. A hidden input
// is passed to the model as is and is only valid on the other shards.
// An interior shard returns its hidden state; the terminal shard samples
// one token from the final position with the engine's temperature and
// top-k. The history grows only when the whole step succeeds.
func (e *Engine) InferStep(ctx context.Context, requestID string, shard types.Shard, in tensor.Input) (StepResult, error) {
	if requestID == "" {
		return StepResult{}, ErrBadRequest(errors.New("empty request id"))
	}
	if err := in.Validate(); err != nil {
		return StepResult{}, ErrInference(err)
	}
	switch {
	case in.Mode == tensor.TokenMode && !shard.IsFirst():
		return StepResult{}, ErrInference(fmt.Errorf("%w: token input for shard %s, which does not start at layer 0", tensor.ErrShape, shard))
	case in.Mode == tensor.HiddenMode && shard.IsFirst():
		return StepResult{}, ErrInference(fmt.Errorf("%w: hidden input for first shard %s", tensor.ErrShape, shard))
	}

	l, err := e.ensure(ctx, shard)
	if err != nil {
		return StepResult{}, err
	}
	release, err := e.admit(ctx, "infer")
	if err != nil {
		return StepResult{}, err
	}
	defer release()

	start := time.Now()
	res, err := executor.Submit(ctx, e.exec, func() (StepResult, error) {
		return e.step(l, requestID, in)
	})
	mode := in.Mode.String()
	e.metrics.steps.WithLabelValues(mode).Inc()
	e.metrics.stepDur.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		var pe *executor.PanicError
		if errors.As(err, &pe) {
			err = ErrInference(err)
		}
		log.Debug().Err(err).Str("request_id", requestID).Str("shard", shard.String()).Str("mode", mode).Msg("step failed")
		return StepResult{}, err
	}
	return res, nil
}

// step runs on the executor.
func (e *Engine) step(l *loaded, requestID string, in tensor.Input) (StepResult, error) {
	var (
		out tensor.Output
		err error
	)
	if in.Mode == tensor.TokenMode {
		out, err = l.model.Forward(e.sessions.history(requestID, in.Tokens), nil)
	} else {
		out, err = l.model.Forward(nil, in.Hidden)
	}
	if err != nil {
		return StepResult{}, ErrInference(err)
	}
	if err := out.Validate(); err != nil {
		return StepResult{}, ErrInference(err)
	}

	res := StepResult{RequestID: requestID}
	if out.IsHidden() {
		res.Hidden = out.Hidden
	} else {
		ids, err := e.sampler.Batch(out.Logits, e.temperature, e.topK)
		if err != nil {
			return StepResult{}, ErrSampling(err)
		}
		if len(ids) != 1 {
			return StepResult{}, ErrInference(fmt.Errorf("%w: logits batch of %d, want 1", tensor.ErrShape, len(ids)))
		}
		res.Token = ids[0]
	}
	if in.Mode == tensor.TokenMode {
		e.sessionsEvicted(e.sessions.commit(requestID, in.Tokens))
	}
	return res, nil
}

// InferTensor is InferStep for untagged inputs: shape (1,1) is a token,
// rank 3 is a hidden state, and anything else is an InferenceFailure.
func (e *Engine) InferTensor(ctx context.Context, requestID string, shard types.Shard, t *tensor.Tensor) (StepResult, error) {
	in, err := tensor.InferInput(t)
	if err != nil {
		return StepResult{}, ErrInference(err)
	}
	return e.InferStep(ctx, requestID, shard, in)
}
