package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/blob"
	"github.com/byebiz/layerone/internal/live"
	"github.com/byebiz/layerone/internal/resilience"
	"github.com/byebiz/layerone/internal/stage"
	"github.com/byebiz/layerone/internal/store"
	"github.com/byebiz/layerone/internal/trigger"
	"github.com/byebiz/layerone/pkg/reasoning"
)

// pipelineEnv holds the wired store, blob store, bus, stages and dispatcher
// needed by the serve command.
type pipelineEnv struct {
	Store    store.Store
	Blobs    blob.Store
	Bus      *live.Bus
	Dispatch *trigger.Dispatcher
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Dispatch != nil {
		pe.Dispatch.Close()
	}
	if pe.Bus != nil {
		pe.Bus.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore builds the configured record store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		zap.L().Info("using postgres store")
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		zap.L().Info("using sqlite store", zap.String("path", cfg.Store.SQLitePath))
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initBlobs builds the configured document store backend.
func initBlobs(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "s3":
		zap.L().Info("using s3 blob store", zap.String("bucket", cfg.Blob.Bucket))
		return blob.NewS3(ctx, cfg.Blob.Region, cfg.Blob.Bucket, cfg.Blob.Prefix)
	case "local":
		zap.L().Info("using local blob store", zap.String("dir", cfg.Blob.Dir))
		return blob.NewLocal(cfg.Blob.Dir)
	default:
		return nil, eris.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

// initPipeline sets up the store, blob store, reasoning client, stages and
// dispatcher. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	raw, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := raw.Migrate(ctx); err != nil {
		_ = raw.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := initBlobs(ctx)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	bus := live.NewBus(raw.GetRecord)
	st := live.WrapStore(raw, bus)

	client := reasoning.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model, cfg.Anthropic.RequestsPerSecond)
	stageCfg := stage.Config{
		CallTimeout: cfg.Stage.CallTimeout(),
		MaxTokens:   cfg.Stage.MaxTokens,
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Trigger.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Trigger.MaxAttempts
	}
	if cfg.Trigger.InitialBackoffMS > 0 {
		retry.InitialBackoff = cfg.Trigger.InitialBackoff()
	}

	dispatch := trigger.NewDispatcher(cfg.Trigger.Workers, retry,
		stage.NewOSINT(st, client, stageCfg),
		stage.NewFinancial(st, blobs, client, stageCfg),
	)

	return &pipelineEnv{
		Store:    st,
		Blobs:    blobs,
		Bus:      bus,
		Dispatch: dispatch,
	}, nil
}
