package engine

import (
	"context"
	"errors"

	"shardd/internal/executor"
	"shardd/internal/sample"
	"shardd/internal/tensor"
)

// Sample draws one token per batch row from the final position of logits,
// shaped [batch, vocab] or [batch, seq, vocab]. temperature must be
// positive and finite and topK within [1, vocab].
func (e *Engine) Sample(ctx context.Context, logits *tensor.Tensor, temperature float64, topK int) ([]int, error) {
	if logits == nil {
		return nil, ErrSampling(errors.New("no logits"))
	}
	if err := logits.Validate(); err != nil {
		return nil, ErrSampling(err)
	}
	if logits.Rank() != 2 && logits.Rank() != 3 {
		return nil, ErrSampling(tensor.ErrShape)
	}
	if err := sample.Validate(temperature, topK, logits.Dim(-1)); err != nil {
		return nil, ErrSampling(err)
	}
	release, err := e.admit(ctx, "sample")
	if err != nil {
		return nil, err
	}
	defer release()
	ids, err := executor.Submit(ctx, e.exec, func() ([]int, error) {
		return e.sampler.Batch(logits, temperature, topK)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, executor.ErrClosed) {
			return nil, err
		}
		return nil, ErrSampling(err)
	}
	return ids, nil
}
