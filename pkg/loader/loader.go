// Package loader turns settings files into registered executors. A single file
// is loaded strictly; a directory scan silently skips documents of other kinds.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/registry"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// Options controls one load.
type Options struct {
	// Main loads the main settings of a chain: only main-settings documents are
	// scanned, exactly one path is accepted and at least one executor must result.
	Main bool

	// Owner identifies the chain instance owning main settings.
	Owner *executor.Owner

	// AllowEmpty relaxes the main settings requirement of at least one executor.
	AllowEmpty bool

	// Recursive scans directories recursively.
	Recursive bool

	// Environment is used by derived executors for path rewriting.
	Environment settings.Environment
}

// Result lists what one load registered.
type Result struct {
	Specifications []*settings.Specification
	Builders       []*settings.Builder
	ExecutorIDs    []string
}

// Loader loads settings into a registry.
type Loader struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// New creates a loader. A nil logger disables logging.
func New(reg *registry.Registry, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{registry: reg, logger: logger}
}

// Load reads settings from files or directories and registers their derived executors.
func (l *Loader) Load(ctx context.Context, sessionID string, paths []string, opts Options) (*Result, error) {
	if opts.Main && len(paths) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrMainSettingsPaths, len(paths))
	}
	var specs []*settings.Specification
	for _, path := range paths {
		found, err := l.read(path, opts)
		if err != nil {
			return nil, err
		}
		specs = append(specs, found...)
	}
	if opts.Main && len(specs) == 0 && !opts.AllowEmpty {
		return nil, fmt.Errorf("%w in %s", ErrNoSettings, paths[0])
	}
	return l.RegisterSpecifications(ctx, sessionID, specs, opts)
}

func (l *Loader) read(path string, opts Options) ([]*settings.Specification, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access settings path: %w", err)
	}
	if !info.IsDir() {
		spec, err := settings.ParseFile(path)
		if err != nil {
			return nil, err
		}
		return []*settings.Specification{spec}, nil
	}

	files, err := ScanDir(path, opts.Recursive)
	if err != nil {
		return nil, err
	}
	var specs []*settings.Specification
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if !accepts(data, opts.Main) {
			l.logger.Debug("Skipping non-settings file", zap.String("path", file))
			continue
		}
		spec, err := settings.Parse(data, file)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// accepts reports whether a scanned document is a settings document of the requested kind.
func accepts(data []byte, main bool) bool {
	if !gjson.ValidBytes(data) {
		return false
	}
	app := gjson.GetBytes(data, "app").String()
	if main {
		return settings.App(app) == settings.AppMainSettings
	}
	return settings.App(app) == settings.AppSettings || settings.App(app) == settings.AppMapping
}

// ScanDir lists the JSON files of a directory in lexical order.
func ScanDir(dir string, recursive bool) ([]string, error) {
	pattern := "*.json"
	if recursive {
		pattern = "**/*.json"
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return files, nil
}

// RegisterSpecifications registers already parsed specifications. Ids must be
// unique across the set; specifications referencing other builders of the set
// are built after them. Nothing is registered unless the whole set resolves.
func (l *Loader) RegisterSpecifications(ctx context.Context, sessionID string, specs []*settings.Specification, opts Options) (*Result, error) {
	if err := checkDuplicates(specs); err != nil {
		return nil, err
	}
	ordered, builders, err := l.build(sessionID, specs)
	if err != nil {
		return nil, err
	}

	entries := make([][]registry.Entry, len(builders))
	for i, b := range builders {
		if entries[i], err = l.entries(b, opts); err != nil {
			return nil, err
		}
	}
	result := &Result{Specifications: ordered, Builders: builders}
	for i, b := range builders {
		ids, err := l.register(ctx, sessionID, b, entries[i])
		if err != nil {
			return nil, err
		}
		result.ExecutorIDs = append(result.ExecutorIDs, ids...)
	}
	return result, nil
}

// build creates the builders of a set in dependency order.
func (l *Loader) build(sessionID string, specs []*settings.Specification) ([]*settings.Specification, []*settings.Builder, error) {
	built := make(map[string]*settings.Builder, len(specs))
	resolve := func(id string) (*settings.Builder, bool) {
		if b, ok := built[id]; ok {
			return b, true
		}
		return l.registry.Builder(sessionID, id)
	}

	var (
		ordered  []*settings.Specification
		builders []*settings.Builder
	)
	pending := append([]*settings.Specification(nil), specs...)
	for len(pending) > 0 {
		var deferred []*settings.Specification
		for _, spec := range pending {
			if !resolvable(spec, resolve) {
				deferred = append(deferred, spec)
				continue
			}
			b, err := settings.NewBuilder(spec, resolve)
			if err != nil {
				return nil, nil, err
			}
			built[spec.ID] = b
			ordered = append(ordered, spec)
			builders = append(builders, b)
		}
		if len(deferred) == len(pending) {
			// no progress: report the first unresolved reference
			_, err := settings.NewBuilder(deferred[0], resolve)
			return nil, nil, fmt.Errorf("settings %s: %w", deferred[0].Path(), err)
		}
		pending = deferred
	}
	return ordered, builders, nil
}

func resolvable(spec *settings.Specification, resolve settings.Resolver) bool {
	for _, id := range spec.SubSettingsIDs() {
		if _, ok := resolve(id); !ok {
			return false
		}
	}
	return true
}

// RegisterBuilder registers the derived executors of a builder and returns their ids.
func (l *Loader) RegisterBuilder(ctx context.Context, sessionID string, b *settings.Builder, opts Options) ([]string, error) {
	entries, err := l.entries(b, opts)
	if err != nil {
		return nil, err
	}
	return l.register(ctx, sessionID, b, entries)
}

// entries generates and validates the registry entries of a builder.
func (l *Loader) entries(b *settings.Builder, opts Options) ([]registry.Entry, error) {
	role := settings.RoleOrdinary
	if opts.Main {
		role = settings.RoleMain
	}
	execOpts := []settings.ExecutorOption{
		settings.WithEnvironment(opts.Environment),
		settings.WithLogger(l.logger),
	}
	kinds := b.Kinds()
	entries := make([]registry.Entry, 0, len(kinds))
	for _, kind := range kinds {
		spec := b.ExecutorSpecification(kind, role, opts.Owner)
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("settings %s: %w", b.ID(), err)
		}
		entries = append(entries, registry.Entry{
			Spec:    spec,
			Factory: b.Factory(kind, role, execOpts...),
			Builder: b,
		})
	}
	return entries, nil
}

func (l *Loader) register(ctx context.Context, sessionID string, b *settings.Builder, entries []registry.Entry) ([]string, error) {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := l.registry.Register(ctx, sessionID, entry); err != nil {
			return nil, err
		}
		ids = append(ids, entry.Spec.ID)
	}
	l.logger.Info("Registered settings",
		zap.String("session_id", sessionID),
		zap.String("settings_id", b.ID()),
		zap.String("name", b.Specification().Name),
		zap.Strings("executor_ids", ids))
	return ids, nil
}

func checkDuplicates(specs []*settings.Specification) error {
	owners := make(map[string]*settings.Specification)
	for _, spec := range specs {
		for _, id := range []string{spec.ID, spec.SplitID, spec.GetNamesID} {
			if id == "" {
				continue
			}
			if first, exists := owners[id]; exists {
				return &DuplicateIDError{ID: id, First: describe(first), Second: describe(spec)}
			}
			owners[id] = spec
		}
	}
	return nil
}

func describe(spec *settings.Specification) string {
	if spec.Path() == "" {
		return fmt.Sprintf("%q", spec.Name)
	}
	return fmt.Sprintf("%q (%s)", spec.Name, spec.Path())
}
