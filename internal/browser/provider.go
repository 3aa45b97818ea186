package browser

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/sandbox"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMenuCommandNotFound is returned for an out of range menu index.
	ErrMenuCommandNotFound = errors.New("menu command not found")
	// ErrNoClient is returned when a network load is asked of a provider
	// built without a fetch client.
	ErrNoClient = errors.New("no fetch client configured")
)

// Deps wires a Provider.
type Deps struct {
	Registry *registry.Config
	Sandbox  *sandbox.Sandbox
	Client   *fetch.Client
	// Fetcher downloads scripts and dependencies; defaults to a
	// script.Fetcher over Client.
	Fetcher script.DependencyFetcher
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	// Temp is the staging directory of downloads; empty means the user
	// data default.
	Temp string
	// SettleTimeout bounds the deferred work run after injection.
	SettleTimeout time.Duration
	// PageScripts runs the page's own inline scripts before injection.
	PageScripts bool
}

// Provider drives sessions, page loads and installs.
type Provider struct {
	registry *registry.Config
	sandbox  *sandbox.Sandbox
	client   *fetch.Client
	fetcher  script.DependencyFetcher
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	opts     script.Options

	settleTimeout time.Duration
	pageScripts   bool

	sessions *sessionManager
	observer registry.ObserverID
}

// New creates a Provider and subscribes it to registry changes.
func New(deps Deps) *Provider {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = script.NewFetcher(deps.Client, deps.Metrics)
	}
	settle := deps.SettleTimeout
	if settle <= 0 {
		settle = 10 * time.Second
	}

	p := &Provider{
		registry:      deps.Registry,
		sandbox:       deps.Sandbox,
		client:        deps.Client,
		fetcher:       fetcher,
		logger:        logger.Named("browser"),
		metrics:       deps.Metrics,
		tracer:        deps.Tracer,
		opts:          script.Options{TempDir: deps.Temp},
		settleTimeout: settle,
		pageScripts:   deps.PageScripts,
		sessions:      newSessionManager(),
	}
	p.observer = p.registry.AddObserver(p.scriptChanged, nil)
	return p
}

// scriptChanged keeps cached sandbox bindings consistent with the registry.
func (p *Provider) scriptChanged(s *script.Script, event registry.Event, _ any) {
	switch event {
	case registry.EventUninstall, registry.EventEdit, registry.EventEditEnabled, registry.EventInstall:
		p.sandbox.Forget(s)
	}
}

// Session returns a live session.
func (p *Provider) Session(sid id.SessionID) (*Session, error) {
	s, ok := p.sessions.get(sid)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions returns every live session in no particular order.
func (p *Provider) Sessions() []*Session {
	return p.sessions.all()
}

// CloseSession closes the session's page and forgets it.
func (p *Provider) CloseSession(sid id.SessionID) error {
	s, ok := p.sessions.remove(sid)
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	return nil
}

// InvokeMenuCommand runs the index-th menu command of the session's page
// and settles the page.
func (p *Provider) InvokeMenuCommand(ctx context.Context, sid id.SessionID, index int) error {
	s, err := p.Session(sid)
	if err != nil {
		return err
	}
	menu := s.MenuCommands()
	if index < 0 || index >= len(menu) {
		return ErrMenuCommandNotFound
	}
	cmd := menu[index]
	if err := cmd.Invoke(); err != nil {
		return err
	}
	return p.settle(ctx, cmd.Page())
}

// Close tears down every session and unsubscribes from the registry.
func (p *Provider) Close() error {
	for _, s := range p.sessions.all() {
		p.sessions.remove(s.ID())
		s.close()
	}
	return p.registry.RemoveObserver(p.observer, nil)
}
