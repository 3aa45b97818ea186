package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/shared/hash"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"go.uber.org/zap"
)

// ErrObserverNotFound is returned when removing an observer that is not
// registered under the given scope.
var ErrObserverNotFound = errors.New("registry: observer not found")

// Event is a lifecycle notification name.
type Event string

const (
	EventInstall     Event = "install"
	EventUninstall   Event = "uninstall"
	EventMove        Event = "move"
	EventEdit        Event = "edit"
	EventEditEnabled Event = script.EventEditEnabled
)

// Observer receives lifecycle notifications. For move and install the
// payload is the new index; otherwise it is nil.
type Observer func(s *script.Script, event Event, payload any)

// ObserverID is returned by AddObserver.
type ObserverID uint64

type observer struct {
	id    ObserverID
	fn    Observer
	scope *script.Script
}

// Options configures a Config.
type Options struct {
	// Root is the permanent script storage directory; it also holds the
	// registry document.
	Root   string
	Format Format
	// Prefs is purged on uninstall when requested. Optional.
	Prefs   *prefs.Store
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Config is the registry of installed scripts.
type Config struct {
	root    string
	file    string
	codec   Codec
	prefs   *prefs.Store
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	scripts []*script.Script

	obsMu     sync.Mutex
	nextObs   ObserverID
	observers []observer
}

// New creates an empty registry rooted at opts.Root. Call Load to read the
// persisted document.
func New(opts Options) (*Config, error) {
	if opts.Root == "" {
		return nil, errors.New("registry: root directory required")
	}
	codec, err := CodecFor(opts.Format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create script root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Config{
		root:    opts.Root,
		file:    filepath.Join(opts.Root, "config."+codec.Ext()),
		codec:   codec,
		prefs:   opts.Prefs,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Root returns the script storage root.
func (c *Config) Root() string { return c.root }

// File returns the registry document path.
func (c *Config) File() string { return c.file }

// Load replaces the in-memory collection with the persisted document. A
// missing document yields an empty registry. Unreadable entries are logged
// and skipped.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.file)
	if errors.Is(err, os.ErrNotExist) {
		c.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var doc Document
	if err := c.codec.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse registry %s: %w", c.file, err)
	}
	if doc.Version > DocumentVersion {
		return fmt.Errorf("registry %s has unsupported version %d", c.file, doc.Version)
	}

	scripts := make([]*script.Script, 0, len(doc.Scripts))
	for _, rec := range doc.Scripts {
		s, err := script.FromRecord(c.root, rec)
		if err != nil {
			c.logger.Warn("skipping registry entry", zap.String("name", rec.Metadata.Name), zap.Error(err))
			continue
		}
		scripts = append(scripts, s)
	}
	c.replace(scripts)
	c.logger.Info("registry loaded", zap.String("file", c.file), zap.Int("scripts", len(scripts)))
	return nil
}

func (c *Config) replace(scripts []*script.Script) {
	c.mu.Lock()
	old := c.scripts
	c.scripts = scripts
	c.mu.Unlock()

	for _, s := range old {
		s.SetChangeHook(nil)
	}
	for _, s := range scripts {
		s.SetChangeHook(c.scriptChanged)
	}
	c.metrics.SetScriptsInstalled(len(scripts))
}

// Save writes the full collection.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save()
}

// save requires c.mu.
func (c *Config) save() error {
	doc := Document{Version: DocumentVersion, Scripts: make([]script.Record, 0, len(c.scripts))}
	for _, s := range c.scripts {
		doc.Scripts = append(doc.Scripts, s.ToRecord())
	}

	data, err := c.codec.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := c.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, c.file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write registry: %w", err)
	}
	c.metrics.SetScriptsInstalled(len(c.scripts))
	return nil
}

// Scripts returns a snapshot of the ordered collection.
func (c *Config) Scripts() []*script.Script {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*script.Script(nil), c.scripts...)
}

// Len returns the number of installed scripts.
func (c *Config) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scripts)
}

// GetMatchingScripts returns, in order, the scripts accepted by pred.
func (c *Config) GetMatchingScripts(pred func(*script.Script) bool) []*script.Script {
	out := []*script.Script{}
	for _, s := range c.Scripts() {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// RunnableAt returns the enabled scripts whose rules accept url.
func (c *Config) RunnableAt(url string) []*script.Script {
	return c.GetMatchingScripts(func(s *script.Script) bool { return s.IsRunnable(url) })
}

// Find returns the script with the given identity, compared
// case-insensitively.
func (c *Config) Find(namespace, name string) *script.Script {
	return c.FindByKey(hash.ScriptKey(namespace, name))
}

// FindByKey returns the script whose hash.ScriptKey is key.
func (c *Config) FindByKey(key string) *script.Script {
	for _, s := range c.Scripts() {
		if Key(s) == key {
			return s
		}
	}
	return nil
}

// Key is the stable API key of s.
func Key(s *script.Script) string {
	return hash.ScriptKey(s.Namespace(), s.Name())
}

// Branch returns the stored-value branch of s, or nil without a prefs store.
func (c *Config) Branch(s *script.Script) *prefs.Branch {
	if c.prefs == nil {
		return nil
	}
	return c.prefs.Branch(prefs.ScriptBranch(s.Namespace(), s.Name()))
}

// Index returns the position of s, or -1.
func (c *Config) Index(s *script.Script) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOf(s)
}

func (c *Config) indexOf(s *script.Script) int {
	for i, x := range c.scripts {
		if x == s {
			return i
		}
	}
	return -1
}

// AddObserver registers fn for every script when scope is nil, or only for
// scope otherwise.
func (c *Config) AddObserver(fn Observer, scope *script.Script) ObserverID {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.nextObs++
	c.observers = append(c.observers, observer{id: c.nextObs, fn: fn, scope: scope})
	return c.nextObs
}

// RemoveObserver unregisters id from scope.
func (c *Config) RemoveObserver(id ObserverID, scope *script.Script) error {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for i, o := range c.observers {
		if o.id == id && o.scope == scope {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrObserverNotFound, id)
}

// notify must be called without c.mu held and after the change was saved.
func (c *Config) notify(s *script.Script, event Event, payload any) {
	c.obsMu.Lock()
	targets := make([]observer, 0, len(c.observers))
	for _, o := range c.observers {
		if o.scope == nil || o.scope == s {
			targets = append(targets, o)
		}
	}
	c.obsMu.Unlock()

	c.metrics.RecordLifecycle(string(event))
	for _, o := range targets {
		o.fn(s, event, payload)
	}
}
