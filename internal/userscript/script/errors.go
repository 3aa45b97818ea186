package script

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/metadata"
)

// ErrSecurity marks a dependency refused by the origin policy.
var ErrSecurity = errors.New("security error")

// FetchError reports the dependency (or script) whose download failed.
type FetchError struct {
	// Dependency is the URL that failed.
	Dependency string
	// Kind is empty for the script source itself.
	Kind       metadata.Kind
	StatusCode int
	StatusText string
	Err        error
}

func (e *FetchError) Error() string {
	what := "script"
	if e.Kind != "" {
		what = string(e.Kind)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s: %d %s", what, e.Dependency, e.StatusCode, e.StatusText)
	}
	return fmt.Sprintf("fetch %s %s: %v", what, e.Dependency, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
