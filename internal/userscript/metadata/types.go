package metadata

import (
	"net/url"
	"path"
	"strings"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/mask"
)

// DefaultInclude is the mask used when a script declares no @include.
const DefaultInclude = "*"

// DefaultName names a script parsed without a header name or an origin.
const DefaultName = "gm_script"

// Kind distinguishes executable dependencies from opaque data.
type Kind string

const (
	KindRequire  Kind = "require"
	KindResource Kind = "resource"
)

// Dependency is an external file bundled with a script at install time.
type Dependency interface {
	Kind() Kind
	// Source is the resolved origin URL, nil once loaded from a record.
	Source() *url.URL
	// File is the local filename inside the script directory.
	File() string
	SetFile(name string)
	// SuggestedFile proposes a local filename before a unique one is chosen.
	SuggestedFile() string
}

// Require is an @require entry: code evaluated before the script itself.
type Require struct {
	URL      *url.URL
	Filename string
}

func (r *Require) Kind() Kind          { return KindRequire }
func (r *Require) Source() *url.URL    { return r.URL }
func (r *Require) File() string        { return r.Filename }
func (r *Require) SetFile(name string) { r.Filename = name }

func (r *Require) SuggestedFile() string {
	return fileFromURL(r.URL, "require.js")
}

// Resource is a named @resource attachment.
type Resource struct {
	Name     string
	URL      *url.URL
	Filename string
	MimeType string
	Charset  string
}

func (r *Resource) Kind() Kind          { return KindResource }
func (r *Resource) Source() *url.URL    { return r.URL }
func (r *Resource) File() string        { return r.Filename }
func (r *Resource) SetFile(name string) { r.Filename = name }

func (r *Resource) SuggestedFile() string {
	return fileFromURL(r.URL, r.Name)
}

// Metadata is the declarative description of one userscript.
type Metadata struct {
	Name        string
	Namespace   string
	Description string
	Includes    []string
	Excludes    []string
	Requires    []*Require
	Resources   []*Resource
	Unwrap      bool
}

// ID is the storage identity "namespace/name".
func (m *Metadata) ID() string {
	return m.Namespace + "/" + m.Name
}

// SameIdentity reports whether both scripts share namespace and name,
// compared case-insensitively.
func (m *Metadata) SameIdentity(other *Metadata) bool {
	if other == nil {
		return false
	}
	return strings.EqualFold(m.Namespace, other.Namespace) &&
		strings.EqualFold(m.Name, other.Name)
}

// IsRunnable reports whether url is included and not excluded.
func (m *Metadata) IsRunnable(url string) bool {
	return mask.Any(m.Includes, url) && !mask.Any(m.Excludes, url)
}

// SetRules replaces the include and exclude masks. Empty masks are dropped
// and an empty include list falls back to DefaultInclude.
func (m *Metadata) SetRules(includes, excludes []string) {
	m.Includes = compact(includes)
	m.Excludes = compact(excludes)
	if len(m.Includes) == 0 {
		m.Includes = []string{DefaultInclude}
	}
}

// Resource returns the resource called name, or nil.
func (m *Metadata) Resource(name string) *Resource {
	for _, r := range m.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Dependencies lists requires in declaration order followed by resources.
func (m *Metadata) Dependencies() []Dependency {
	deps := make([]Dependency, 0, len(m.Requires)+len(m.Resources))
	for _, r := range m.Requires {
		deps = append(deps, r)
	}
	for _, r := range m.Resources {
		deps = append(deps, r)
	}
	return deps
}

func compact(masks []string) []string {
	out := make([]string, 0, len(masks))
	for _, s := range masks {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fileFromURL(u *url.URL, fallback string) string {
	if u != nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	if fallback == "" {
		return "dependency"
	}
	return fallback
}
