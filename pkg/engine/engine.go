// Package engine is the runtime that owns the session registry and loads
// settings, chains and multichains into it. Every top-level load call carries
// its own recursion state, so concurrent loads never observe each other.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/chain"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/contextid"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/loader"
	"github.com/wehubfusion/Daedalus/pkg/multichain"
	"github.com/wehubfusion/Daedalus/pkg/registry"
)

// Engine loads executor definitions into sessions and runs them.
type Engine struct {
	config   Config
	registry *registry.Registry
	ids      *contextid.Allocator
	loader   *loader.Loader
	limiter  *concurrency.Limiter
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates an engine from a configuration.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []registry.Option{registry.WithLogger(cfg.Logger)}
	if cfg.Publisher != nil {
		opts = append(opts, registry.WithPublisher(cfg.Publisher))
	}
	reg := registry.New(opts...)

	e := &Engine{
		config:   cfg,
		registry: reg,
		ids:      contextid.New(cfg.ContextIDBase),
		loader:   loader.New(reg, cfg.Logger),
		limiter:  concurrency.NewLimiter(cfg.MaxConcurrentLoads, concurrency.WithoutCircuitBreaker()),
		logger:   cfg.Logger,
		tracer:   otel.Tracer("daedalus/engine"),
	}
	e.logger.Info("Engine created",
		zap.Int("max_concurrent_loads", cfg.MaxConcurrentLoads),
		zap.Int64("context_id_base", e.ids.Last()+1))
	return e, nil
}

// Registry returns the session registry of the engine.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Config returns the validated configuration of the engine.
func (e *Engine) Config() Config {
	return e.config
}

// NewSession returns a fresh session id.
func (e *Engine) NewSession() string {
	return uuid.NewString()
}

// CloseSession drops every executor registered in a session and returns how
// many were removed.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) int {
	n := e.registry.RemoveSession(ctx, sessionID)
	e.logger.Info("Session closed", zap.String("session_id", sessionID), zap.Int("executors", n))
	return n
}

func (e *Engine) env() chain.Env {
	return chain.Env{Registry: e.registry, IDs: e.ids, Logger: e.logger}
}

func (e *Engine) newOp(sessionID string) *loadOp {
	return &loadOp{
		e:           e,
		session:     sessionID,
		chains:      make(map[string]*chain.Definition),
		multichains: make(map[string]*multichain.Definition),
		saved:       make(map[string]bool),
	}
}

func (e *Engine) startSpan(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("session.id", sessionID)}, attrs...)
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// LoadSettings loads shared settings from files or directories.
func (e *Engine) LoadSettings(ctx context.Context, sessionID string, paths ...string) (result *loader.Result, err error) {
	ctx, span := e.startSpan(ctx, "engine.LoadSettings", sessionID, attribute.StringSlice("paths", paths))
	defer func() { endSpan(span, err) }()

	return e.loader.Load(ctx, sessionID, paths, loader.Options{Recursive: e.config.RecursiveScan})
}

// LoadChain loads a chain file, its includes and its main settings.
func (e *Engine) LoadChain(ctx context.Context, sessionID, path string) (def *chain.Definition, err error) {
	ctx, span := e.startSpan(ctx, "engine.LoadChain", sessionID, attribute.String("path", path))
	defer func() { endSpan(span, err) }()

	model, err := chain.ParseFile(path)
	if err != nil {
		return nil, err
	}
	op := e.newOp(sessionID)
	if def, err = op.loadChain(ctx, model); err != nil {
		op.rollback(ctx)
		return nil, err
	}
	span.SetAttributes(attribute.String("executor.id", def.Model.ID))
	return def, nil
}

// LoadMultiChain loads a multichain file and its variants.
func (e *Engine) LoadMultiChain(ctx context.Context, sessionID, path string) (def *multichain.Definition, err error) {
	ctx, span := e.startSpan(ctx, "engine.LoadMultiChain", sessionID, attribute.String("path", path))
	defer func() { endSpan(span, err) }()

	model, err := multichain.ParseFile(path)
	if err != nil {
		return nil, err
	}
	op := e.newOp(sessionID)
	if def, err = op.loadMultiChain(ctx, model); err != nil {
		op.rollback(ctx)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("executor.id", def.Model.ID),
		attribute.StringSlice("blocked", def.BlockedVariantNames()))
	return def, nil
}

// Load loads any supported document, dispatching on its "app" field. A
// directory is scanned and every recognized document in it is loaded. It
// returns the ids of the registered executors. A failed load leaves the
// session as it was.
func (e *Engine) Load(ctx context.Context, sessionID, path string) (ids []string, err error) {
	ctx, span := e.startSpan(ctx, "engine.Load", sessionID, attribute.String("path", path))
	defer func() { endSpan(span, err) }()

	op := e.newOp(sessionID)
	if err := op.loadPath(ctx, path, true); err != nil {
		op.rollback(ctx)
		return nil, err
	}
	return op.registered, nil
}

// LoadAll loads several paths concurrently, bounded by MaxConcurrentLoads.
// Each path is an independent load operation; a failed load never affects
// later calls.
func (e *Engine) LoadAll(ctx context.Context, sessionID string, paths ...string) (err error) {
	ctx, span := e.startSpan(ctx, "engine.LoadAll", sessionID, attribute.StringSlice("paths", paths))
	defer func() { endSpan(span, err) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		g.Go(func() error {
			return e.limiter.Do(gctx, func() error {
				_, err := e.Load(gctx, sessionID, path)
				return err
			})
		})
	}
	return g.Wait()
}

// Execute creates the executor registered under id, runs it once and
// releases it.
func (e *Engine) Execute(ctx context.Context, sessionID, id string, in executor.Input) (out executor.Output, err error) {
	ctx, span := e.startSpan(ctx, "engine.Execute", sessionID, attribute.String("executor.id", id))
	defer func() { endSpan(span, err) }()

	exec, err := e.registry.Create(sessionID, id)
	if err != nil {
		return executor.Output{}, err
	}
	if closer, ok := exec.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				e.logger.Warn("Failed to close executor",
					zap.String("session_id", sessionID),
					zap.String("executor_id", id),
					zap.Error(cerr))
			}
		}()
	}
	return exec.Execute(ctx, in)
}

// documentApp returns the "app" discriminator of a JSON document.
func documentApp(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return "", data, nil
	}
	return gjson.GetBytes(data, "app").String(), data, nil
}
