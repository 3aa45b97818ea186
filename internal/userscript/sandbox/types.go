package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"go.uber.org/zap"
)

// HostScheme prefixes the source names of code the host itself evaluates.
const HostScheme = "scriptmonkey:"

var (
	// ErrInvalidURL is thrown into JS by GM_xmlhttpRequest for a target
	// scheme other than http, https or ftp.
	ErrInvalidURL = errors.New("invalid url")
	// ErrAccessViolation matches every *AccessViolation.
	ErrAccessViolation = errors.New("access violation")
	// ErrPageClosed is returned for work scheduled on a torn-down page.
	ErrPageClosed = errors.New("page closed")
	// ErrTimeout interrupts a script that runs past Config.Timeout.
	ErrTimeout = errors.New("script execution timeout")
)

// AccessViolation reports a privileged call made from untrusted code.
type AccessViolation struct {
	API    string
	Caller string
}

func (e *AccessViolation) Error() string {
	return fmt.Sprintf("access violation: %s called from %s", e.API, e.Caller)
}

func (e *AccessViolation) Is(target error) bool { return target == ErrAccessViolation }

// ScriptError is an error thrown while evaluating a script, attributed to
// one of its source files.
type ScriptError struct {
	Script  string `json:"script"`
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", e.Script, e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Script, e.File, e.Message)
}

// Config bounds every evaluation on a page.
type Config struct {
	Timeout          time.Duration // per evaluation or callback
	MaxCallStackSize int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// Requester performs GM_xmlhttpRequest calls. *fetch.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
}

// Deps are the host services a Sandbox delegates to.
type Deps struct {
	Prefs     *prefs.Store
	Requester Requester
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
}

// HostUI is the browser chrome a script can reach through GM_openInTab and
// GM_registerMenuCommand.
type HostUI interface {
	OpenInTab(url string) error
	RegisterMenuCommand(cmd *MenuCommand)
}

// Console receives log output in addition to the page's own buffer.
type Console interface {
	Log(entry LogEntry)
}

// ConsoleFunc adapts a function to Console.
type ConsoleFunc func(LogEntry)

func (f ConsoleFunc) Log(e LogEntry) { f(e) }

// LogEntry represents console output.
type LogEntry struct {
	Level   string    `json:"level"`  // log, info, warn, error
	Source  string    `json:"source"` // script id, or empty for page code
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DOMChange represents a DOM modification.
type DOMChange struct {
	Type     string `json:"type"` // set_attribute, set_text, append, remove, add_style, ...
	Selector string `json:"selector"`
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`
}

type nopUI struct{}

func (nopUI) OpenInTab(string) error            { return errors.New("no host ui attached") }
func (nopUI) RegisterMenuCommand(*MenuCommand) {}
