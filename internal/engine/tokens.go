package engine

import (
	"context"
	"errors"

	"shardd/internal/executor"
	"shardd/pkg/types"
)

// Encode tokenizes text with shard's tokenizer.
func (e *Engine) Encode(ctx context.Context, shard types.Shard, text string) ([]int, error) {
	l, err := e.ensure(ctx, shard)
	if err != nil {
		return nil, err
	}
	release, err := e.admit(ctx, "encode")
	if err != nil {
		return nil, err
	}
	defer release()
	ids, err := executor.Submit(ctx, e.exec, func() ([]int, error) {
		return l.tok.Encode(text)
	})
	if err != nil {
		return nil, tokenizerErr("encode", err)
	}
	return ids, nil
}

// Decode converts token ids back to text with shard's tokenizer.
func (e *Engine) Decode(ctx context.Context, shard types.Shard, ids []int) (string, error) {
	l, err := e.ensure(ctx, shard)
	if err != nil {
		return "", err
	}
	release, err := e.admit(ctx, "decode")
	if err != nil {
		return "", err
	}
	defer release()
	text, err := executor.Submit(ctx, e.exec, func() (string, error) {
		return l.tok.Decode(ids)
	})
	if err != nil {
		return "", tokenizerErr("decode", err)
	}
	return text, nil
}

// tokenizerErr wraps tokenizer failures, leaving context errors as they are.
func tokenizerErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, executor.ErrClosed) {
		return err
	}
	return ErrTokenization(op, err)
}
