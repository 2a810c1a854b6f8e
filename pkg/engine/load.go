package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/chain"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/loader"
	"github.com/wehubfusion/Daedalus/pkg/multichain"
	"github.com/wehubfusion/Daedalus/pkg/registry"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

type frame struct {
	id   string
	path string
}

// prior is the registration an id had before a load operation touched it.
type prior struct {
	id    string
	entry registry.Entry
	had   bool
}

// loadOp is the state of one top-level load call: the stack of chain and
// multichain loads in progress, the documents already loaded by the call and
// the registrations it replaced.
type loadOp struct {
	e       *Engine
	session string
	stack   []frame

	// keyed by absolute path
	chains      map[string]*chain.Definition
	multichains map[string]*multichain.Definition

	registered []string
	saved      map[string]bool
	undo       []prior
}

func absPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// loadPath loads one file or directory. A file is loaded strictly: it must
// be a supported document. Directory scans skip unrecognized documents.
func (op *loadOp) loadPath(ctx context.Context, path string, strict bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return op.loadDir(ctx, path)
	}

	app, data, err := documentApp(path)
	if err != nil {
		return err
	}
	switch {
	case app == chain.App:
		model, err := chain.Parse(data, path)
		if err != nil {
			return err
		}
		_, err = op.loadChain(ctx, model)
		return err
	case app == multichain.App:
		model, err := multichain.Parse(data, path)
		if err != nil {
			return err
		}
		_, err = op.loadMultiChain(ctx, model)
		return err
	case app == "" || settings.IsSettingsApp(app):
		if !strict && (app == "" || settings.App(app) == settings.AppMainSettings) {
			return nil
		}
		spec, err := settings.Parse(data, path)
		if err != nil {
			return err
		}
		opts := loader.Options{Main: settings.App(app) == settings.AppMainSettings}
		return op.registerSpecifications(ctx, []*settings.Specification{spec}, opts)
	case strict:
		return fmt.Errorf("%w %q in %s", ErrUnknownApp, app, path)
	}
	op.e.logger.Debug("Skipping unrecognized document", zap.String("path", path), zap.String("app", app))
	return nil
}

// loadDir loads the settings of a directory together, so that they can
// reference each other, then its chains and multichains in lexical order.
func (op *loadOp) loadDir(ctx context.Context, dir string) error {
	files, err := loader.ScanDir(dir, op.e.config.RecursiveScan)
	if err != nil {
		return err
	}
	var settingsFiles, others []string
	for _, f := range files {
		app, _, err := documentApp(f)
		if err != nil {
			return err
		}
		switch app {
		case string(settings.AppSettings), string(settings.AppMapping):
			settingsFiles = append(settingsFiles, f)
		case chain.App, multichain.App:
			others = append(others, f)
		}
	}
	if len(settingsFiles) > 0 {
		specs := make([]*settings.Specification, 0, len(settingsFiles))
		for _, f := range settingsFiles {
			spec, err := settings.ParseFile(f)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}
		if err := op.registerSpecifications(ctx, specs, loader.Options{}); err != nil {
			return err
		}
	}
	for _, f := range others {
		if err := op.loadPath(ctx, f, false); err != nil {
			return err
		}
	}
	return nil
}

func (op *loadOp) push(id, path string) error {
	for _, f := range op.stack {
		if f.id == id || (path != "" && f.path == path) {
			return fmt.Errorf("%w: %s", ErrRecursiveLoad, op.describeStack(id))
		}
	}
	op.stack = append(op.stack, frame{id: id, path: path})
	return nil
}

func (op *loadOp) pop() {
	op.stack = op.stack[:len(op.stack)-1]
}

func (op *loadOp) describeStack(next string) string {
	s := ""
	for _, f := range op.stack {
		s += f.id + " -> "
	}
	return s + next
}

func (op *loadOp) onStack(id, path string) bool {
	for _, f := range op.stack {
		if (id != "" && f.id == id) || (path != "" && f.path == path) {
			return true
		}
	}
	return false
}

func (op *loadOp) owner(name, path string) *executor.Owner {
	return &executor.Owner{ContextID: op.e.ids.Next(), ContextName: name, ContextPath: path}
}

// remember records the current registration of ids the first time the
// operation is about to replace them.
func (op *loadOp) remember(ids ...string) {
	for _, id := range ids {
		if id == "" || op.saved[id] {
			continue
		}
		op.saved[id] = true
		entry, had := op.e.registry.Lookup(op.session, id)
		op.undo = append(op.undo, prior{id: id, entry: entry, had: had})
	}
}

// rollback restores every registration the operation replaced and removes
// the ones it added, newest first.
func (op *loadOp) rollback(ctx context.Context) {
	if len(op.undo) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(op.undo) - 1; i >= 0; i-- {
		p := op.undo[i]
		if !p.had {
			op.e.registry.Unregister(ctx, op.session, p.id)
			continue
		}
		if err := op.e.registry.Register(ctx, op.session, p.entry); err != nil {
			op.e.logger.Error("Failed to restore executor",
				zap.String("session_id", op.session),
				zap.String("executor_id", p.id),
				zap.Error(err))
		}
	}
	op.e.logger.Info("Load rolled back",
		zap.String("session_id", op.session),
		zap.Int("executors", len(op.undo)))
	op.undo = nil
	op.saved = make(map[string]bool)
	op.registered = nil
}

func (op *loadOp) registerSpecifications(ctx context.Context, specs []*settings.Specification, opts loader.Options) error {
	for _, spec := range specs {
		op.remember(spec.ID, spec.SplitID, spec.GetNamesID)
	}
	result, err := op.e.loader.RegisterSpecifications(ctx, op.session, specs, opts)
	if err != nil {
		return err
	}
	op.registered = append(op.registered, result.ExecutorIDs...)
	return nil
}

func (op *loadOp) registerBuilder(ctx context.Context, b *settings.Builder, opts loader.Options) error {
	for _, kind := range b.Kinds() {
		op.remember(b.ExecutorID(kind))
	}
	ids, err := op.e.loader.RegisterBuilder(ctx, op.session, b, opts)
	if err != nil {
		return err
	}
	op.registered = append(op.registered, ids...)
	return nil
}

func (op *loadOp) register(ctx context.Context, entry registry.Entry) error {
	if err := entry.Spec.Validate(); err != nil {
		return fmt.Errorf("%s %s: %w", entry.Spec.Platform, entry.Spec.ID, err)
	}
	op.remember(entry.Spec.ID)
	if err := op.e.registry.Register(ctx, op.session, entry); err != nil {
		return err
	}
	op.registered = append(op.registered, entry.Spec.ID)
	return nil
}

// loadChain loads the includes and main settings of a chain, then registers
// the chain implementation. Block executors are checked before anything of
// the chain itself is registered.
func (op *loadOp) loadChain(ctx context.Context, model *chain.Model) (*chain.Definition, error) {
	key := absPath(model.Path())
	if def, ok := op.chains[key]; ok && key != "" {
		return def, nil
	}
	if err := op.push(model.ID, key); err != nil {
		return nil, err
	}
	defer op.pop()

	for _, inc := range model.IncludePaths() {
		if err := op.loadPath(ctx, inc, true); err != nil {
			return nil, fmt.Errorf("chain %s include %s: %w", model.ID, inc, err)
		}
	}

	main, err := model.MainSettingsSpecification()
	if err != nil {
		return nil, err
	}
	def := chain.NewDefinition(model, op.session, main)
	owned := map[string]bool{}
	if main != nil {
		if main.ID == model.ID {
			return nil, &loader.DuplicateIDError{
				ID:     model.ID,
				First:  fmt.Sprintf("chain %q", model.Name),
				Second: fmt.Sprintf("main settings of chain %q", model.Name),
			}
		}
		for _, id := range []string{main.ID, main.SplitID, main.GetNamesID} {
			if id != "" {
				owned[id] = true
			}
		}
	}
	for _, b := range model.Blocks {
		if owned[b.ExecutorID] {
			continue
		}
		if _, ok := op.e.registry.Lookup(op.session, b.ExecutorID); !ok {
			return nil, fmt.Errorf("%w: chain %s block %s references %q", chain.ErrUnknownExecutor, model.ID, b.ID, b.ExecutorID)
		}
	}
	if main != nil {
		err := op.registerSpecifications(ctx, []*settings.Specification{main}, loader.Options{
			Main:        true,
			Owner:       op.owner(model.Name, model.Path()),
			Environment: def.Environment(),
		})
		if err != nil {
			return nil, err
		}
	}

	env := op.e.env()
	err = op.register(ctx, registry.Entry{
		Spec: def.ImplementationSpecification(),
		Factory: func() (executor.Executor, error) {
			c, err := chain.New(def, env)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if key != "" {
		op.chains[key] = def
	}
	op.e.logger.Info("Chain loaded",
		zap.String("session_id", op.session),
		zap.String("chain_id", model.ID),
		zap.String("path", model.Path()))
	return def, nil
}

// loadMultiChain builds a multichain through this operation and registers its
// full settings combiner and implementation.
func (op *loadOp) loadMultiChain(ctx context.Context, model *multichain.Model) (*multichain.Definition, error) {
	key := absPath(model.Path())
	if def, ok := op.multichains[key]; ok && key != "" {
		return def, nil
	}
	if err := op.push(model.ID, key); err != nil {
		return nil, err
	}
	defer op.pop()

	def, err := multichain.Build(ctx, model, op, multichain.BuildOptions{
		SessionID: op.session,
		Resolve:   op.e.registry.Resolver(op.session),
		Logger:    op.e.logger,
	})
	if err != nil {
		return nil, err
	}

	err = op.registerBuilder(ctx, def.FullBuilder, loader.Options{
		Main:  true,
		Owner: op.owner(model.Name, model.Path()),
	})
	if err != nil {
		return nil, err
	}

	env := op.e.env()
	err = op.register(ctx, registry.Entry{
		Spec: def.Implementation.Clone(),
		Factory: func() (executor.Executor, error) {
			return multichain.New(def, env), nil
		},
		Builder: def.FullBuilder,
	})
	if err != nil {
		return nil, err
	}
	if key != "" {
		op.multichains[key] = def
	}
	return def, nil
}

// UseChain loads a variant chain within this operation.
func (op *loadOp) UseChain(ctx context.Context, model *chain.Model) (*chain.Definition, error) {
	return op.loadChain(ctx, model)
}

// IsRecursive reports whether loading the chain would re-enter a load in
// progress, directly or through the documents it includes.
func (op *loadOp) IsRecursive(model *chain.Model) (bool, error) {
	if op.onStack(model.ID, absPath(model.Path())) {
		return true, nil
	}
	visited := map[string]bool{}
	if p := absPath(model.Path()); p != "" {
		visited[p] = true
	}
	return op.reaches(model.IncludePaths(), visited)
}

// reaches walks the include and variant references of documents without
// loading them and reports whether one of them is on the stack.
func (op *loadOp) reaches(paths []string, visited map[string]bool) (bool, error) {
	for _, p := range paths {
		p = absPath(p)
		if visited[p] {
			continue
		}
		visited[p] = true

		info, err := os.Stat(p)
		if err != nil {
			return false, fmt.Errorf("failed to access %s: %w", p, err)
		}
		if info.IsDir() {
			files, err := loader.ScanDir(p, op.e.config.RecursiveScan)
			if err != nil {
				return false, err
			}
			found, err := op.reaches(files, visited)
			if found || err != nil {
				return found, err
			}
			continue
		}

		app, data, err := documentApp(p)
		if err != nil {
			return false, err
		}
		var refs gjson.Result
		switch app {
		case chain.App:
			refs = gjson.GetBytes(data, "includes")
		case multichain.App:
			refs = gjson.GetBytes(data, "chain_variant_paths")
		default:
			continue
		}
		if op.onStack(gjson.GetBytes(data, "id").String(), p) {
			return true, nil
		}
		var next []string
		for _, ref := range refs.Array() {
			r := ref.String()
			if !filepath.IsAbs(r) {
				r = filepath.Join(filepath.Dir(p), r)
			}
			next = append(next, r)
		}
		found, err := op.reaches(next, visited)
		if found || err != nil {
			return found, err
		}
	}
	return false, nil
}

var _ multichain.VariantLoader = (*loadOp)(nil)
