package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shardd/internal/config"
	"shardd/internal/download"
	"shardd/internal/engine"
	"shardd/internal/httpapi"
	"shardd/internal/registry"
	"shardd/internal/tokenizer"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shard inference API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg)
		},
	}
	f := cmd.Flags()
	f.String("addr", opts.cfg.Addr, "HTTP listen address (defaults SHARDD_ADDR or :8080)")
	f.Float64("temperature", opts.cfg.Temperature, "Sampling temperature for terminal shards")
	f.Int("top-k", opts.cfg.TopK, "Top-k candidates for terminal shards")
	f.Int64("seed", opts.cfg.Seed, "Sampler seed (negative for random)")
	f.Int("max-sessions", opts.cfg.MaxSessions, "Session table capacity")
	f.Bool("cors", opts.cfg.CORSEnabled, "Enable CORS")
	f.String("cors-origins", "", "Comma-separated CORS allowed origins")
	return cmd
}

// newEngine wires an engine over the models dir from cfg.
func newEngine(cfg config.Config, reg prometheus.Registerer) (*engine.Engine, error) {
	dl, err := download.NewLocal(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	models, err := registry.LoadDir(dl.Root)
	if err != nil {
		return nil, err
	}
	log.Info().Str("models_dir", dl.Root).Int("models", len(models)).Msg("registry loaded")
	return engine.NewWithConfig(engine.Config{
		Downloader:    dl,
		Tokenizers:    tokenizer.FileResolver{Fixed: cfg.FixedTokenizer},
		Seed:          cfg.Seed,
		Temperature:   cfg.Temperature,
		TopK:          cfg.TopK,
		Device:        cfg.Device,
		EngineName:    cfg.EngineName,
		MaxSessions:   cfg.MaxSessions,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitSeconds) * time.Second,
		Registry:      models,
		Registerer:    reg,
	}), nil
}

func serve(ctx context.Context, cfg config.Config) error {
	eng, err := newEngine(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer eng.Close()

	httpapi.SetLogger(log.Logger)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetOpTimeout(time.Duration(cfg.OpTimeoutSeconds) * time.Second)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	httpapi.SetSwaggerEnabled(!cfg.DisableSwagger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("device", eng.Device()).Msg("shardd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
			return err
		}
		log.Info().Msg("server stopped")
		return nil
	})
	return g.Wait()
}
