package sandbox

import (
	"sync"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"go.uber.org/zap"
)

// Sandbox creates pages and the per-script contexts injected into them.
type Sandbox struct {
	cfg       Config
	prefs     *prefs.Store
	requester Requester
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	mu       sync.Mutex
	bindings map[*script.Script]*binding
}

// binding is the cached per-script state shared by all its contexts.
type binding struct {
	id      string
	branch  *prefs.Branch
	allowed map[string]bool
}

// New creates a sandbox. A nil Deps.Prefs gets an in-memory store.
func New(cfg Config, deps Deps) *Sandbox {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Prefs
	if store == nil {
		store = prefs.NewStore(prefs.NewMemoryBackend(), logger)
	}
	return &Sandbox{
		cfg:       cfg,
		prefs:     store,
		requester: deps.Requester,
		logger:    logger.Named("sandbox"),
		metrics:   deps.Metrics,
		bindings:  make(map[*script.Script]*binding),
	}
}

func (s *Sandbox) bind(sc *script.Script) *binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[sc]; ok {
		return b
	}
	allowed := make(map[string]bool)
	for _, f := range sc.SourceFiles() {
		allowed[f] = true
	}
	b := &binding{
		id:      sc.ID(),
		branch:  s.prefs.Branch(prefs.ScriptBranch(sc.Namespace(), sc.Name())),
		allowed: allowed,
	}
	s.bindings[sc] = b
	return b
}

// Forget drops the cached binding of sc. Call it after sc is installed,
// edited or uninstalled.
func (s *Sandbox) Forget(sc *script.Script) {
	s.mu.Lock()
	delete(s.bindings, sc)
	s.mu.Unlock()
}

// CreateContext builds the isolated context of sc on page without running
// anything. A nil ui falls back to the page's; console, when set, receives
// the context's output in addition to the page console.
func (s *Sandbox) CreateContext(page *Page, sc *script.Script, ui HostUI, console Console) (*Context, error) {
	page.mu.Lock()
	defer page.mu.Unlock()
	if page.Closed() {
		return nil, ErrPageClosed
	}

	b := s.bind(sc)
	if ui == nil {
		ui = page.ui
	}
	c := newContext(page, sc, b, ui, console)
	page.attach(c)
	return c, nil
}

// Inject creates the context of sc on page and evaluates its sources.
// Errors thrown by the script itself are recorded on the context and
// logged; only failures to set up the injection are returned.
func (s *Sandbox) Inject(page *Page, sc *script.Script) (*Context, error) {
	c, err := s.CreateContext(page, sc, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Evaluate(); err != nil {
		s.metrics.RecordInjection("failed")
		return c, err
	}
	if len(c.Errors()) > 0 {
		s.metrics.RecordInjection("script_error")
	} else {
		s.metrics.RecordInjection("ok")
	}
	return c, nil
}
