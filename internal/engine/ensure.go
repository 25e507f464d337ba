package engine

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"shardd/internal/download"
	"shardd/internal/executor"
	"shardd/internal/model"
	"shardd/pkg/types"
)

// EnsureShard makes shard the loaded shard. It returns at once when shard
// is already loaded. Otherwise it resolves, builds and loads a replacement
// and commits it only when every step succeeded; on failure the previously
// loaded shard, if any, stays in place.
//
// Concurrent calls for the same shard share one load. A caller whose
// context ends stops waiting, but the load runs on and still commits.
func (e *Engine) EnsureShard(ctx context.Context, shard types.Shard) error {
	_, err := e.ensure(ctx, shard)
	return err
}

func (e *Engine) ensure(ctx context.Context, shard types.Shard) (*loaded, error) {
	if err := shard.Validate(); err != nil {
		return nil, ErrBadRequest(err)
	}
	e.mu.RLock()
	cur := e.cur
	e.mu.RUnlock()
	if cur != nil && cur.shard == shard {
		return cur, nil
	}

	ch := e.loads.DoChan(shard.String(), func() (any, error) {
		return e.load(context.WithoutCancel(ctx), shard)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*loaded), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) load(ctx context.Context, shard types.Shard) (*loaded, error) {
	e.mu.Lock()
	if e.cur != nil && e.cur.shard == shard {
		cur := e.cur
		e.mu.Unlock()
		return cur, nil
	}
	e.inflight++
	e.mu.Unlock()

	start := time.Now()
	log.Info().Str("shard", shard.String()).Msg("ensure_start")
	e.publish(Event{Name: "ensure_start", Shard: shard})

	l, err := e.build(ctx, shard)

	e.mu.Lock()
	e.inflight--
	if err != nil {
		e.loadsBad++
		e.err = err.Error()
	} else {
		e.cur = l
		e.loadsOK++
		e.err = ""
	}
	e.mu.Unlock()

	dur := time.Since(start)
	if err != nil {
		e.metrics.loads.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("shard", shard.String()).Dur("dur_ms", dur).Msg("ensure_failed")
		e.publish(Event{Name: "ensure_failed", Shard: shard, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	e.metrics.loads.WithLabelValues("ok").Inc()
	log.Info().Str("shard", shard.String()).Str("dir", l.dir).Dur("dur_ms", dur).Msg("ensure_ready")
	e.publish(Event{Name: "ensure_ready", Shard: shard, Fields: map[string]any{"dur_ms": dur.Milliseconds()}})
	return l, nil
}

// build assembles a replacement shard without touching committed state.
func (e *Engine) build(ctx context.Context, shard types.Shard) (*loaded, error) {
	if e.downloader == nil {
		return nil, ErrShardUnavailable(shard, errors.New("no downloader configured"))
	}
	dir, err := e.downloader.EnsureShard(ctx, shard, e.name)
	if err != nil {
		return nil, ErrShardUnavailable(shard, err)
	}
	cfg, err := model.LoadConfig(filepath.Join(dir, download.ConfigFile))
	if err != nil {
		return nil, ErrShardLoad(shard, StageConfig, err)
	}
	if cfg.NumHiddenLayers != shard.NLayers {
		return nil, ErrShardLoad(shard, StageConfig, errors.New("n_layers does not match num_hidden_layers"))
	}
	tok, err := e.tokenizers.Resolve(dir)
	if err != nil {
		return nil, ErrShardLoad(shard, StageTokenizer, err)
	}
	m, err := executor.Submit(ctx, e.exec, func() (model.Model, error) {
		return e.builder.Build(cfg, shard, model.BuildOptions{Device: e.device, UseCache: false})
	})
	if err != nil {
		return nil, execLoadErr(shard, StageBuild, err)
	}
	err = e.exec.Run(ctx, func() error {
		return e.weights.LoadWeights(dir, shard, m)
	})
	if err != nil {
		return nil, execLoadErr(shard, StageWeights, err)
	}
	return &loaded{
		shard:    shard,
		dir:      dir,
		cfg:      cfg,
		model:    m,
		tok:      tok,
		loadedAt: time.Now(),
	}, nil
}

// execLoadErr classifies an error from an executor submission. A closed
// executor is a shutdown, not a broken shard, and is returned as is.
func execLoadErr(shard types.Shard, stage Stage, err error) error {
	if errors.Is(err, executor.ErrClosed) {
		return err
	}
	return ErrShardLoad(shard, stage, err)
}
