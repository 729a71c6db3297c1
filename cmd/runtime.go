package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/beyondbrewing/brewery-idb/idb"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
)

// runtime is one engine, loop and Env, alive for a single command.
type runtime struct {
	engine db.Store
	loop   *host.Loop
	env    *idb.Env
	log    logger.Logger
}

func openEngine(opts *RootOptions, log logger.Logger) (db.Store, error) {
	switch opts.Engine {
	case "memory":
		return db.NewMemStore(), nil
	case "pebble":
		return db.Open(filepath.Join(opts.DataDir, "pebble"), db.WithLogger(log))
	case "bolt":
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return db.OpenBolt(filepath.Join(opts.DataDir, "brewery.bolt"), db.WithLogger(log))
	}
	return nil, fmt.Errorf("unknown engine %q", opts.Engine)
}

func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	log := logger.Default()
	engine, err := openEngine(opts, log)
	if err != nil {
		return nil, err
	}

	loopOpts := []host.LoopOption{host.WithLoopLogger(log)}
	if opts.Legacy {
		loopOpts = append(loopOpts, host.WithLateMicrotasks())
	}
	loop := host.NewLoop(loopOpts...)
	factory := host.NewFactory(loop, engine, host.WithLogger(log))
	rt := &runtime{
		engine: engine,
		loop:   loop,
		env:    idb.New(factory, idb.WithLogger(log)),
		log:    log,
	}

	if opts.Probe {
		if _, err := rt.env.DetectLegacyFlush(ctx); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("probe flush strategy: %w", err)
		}
	}
	return rt, nil
}

// Close stops the loop, then closes the engine.
func (rt *runtime) Close() error {
	return errors.Join(rt.loop.Close(), rt.engine.Close())
}

// withRuntime opens a runtime for the command and runs fn holding its loop.
func withRuntime(ctx context.Context, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) (err error) {
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return rt.env.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, rt)
	})
}
