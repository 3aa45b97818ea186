package script

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/paths"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/metadata"
)

const (
	// Suffix is the userscript file extension.
	Suffix = ".user.js"
	// MaxNameLength bounds sanitized directory and file names.
	MaxNameLength = 24
)

// Event names passed to the change hook.
const (
	EventEditEnabled = "edit-enabled"
)

var nonIdentifier = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Options configures where new scripts are staged.
type Options struct {
	// TempDir holds scripts that are not yet installed.
	TempDir string
}

func (o Options) tempDir() string {
	if o.TempDir != "" {
		return o.TempDir
	}
	return paths.TempRoot()
}

// ChangeHook observes script state changes.
type ChangeHook func(s *Script, event string)

// Script is a userscript bound to its storage directory.
type Script struct {
	meta     *metadata.Metadata
	dir      string
	filename string
	origin   *url.URL

	mu          sync.RWMutex
	enabled     bool
	installed   bool
	downloadURL string
	hook        ChangeHook
}

// Record is the persisted form of an installed Script.
type Record struct {
	Basedir  string          `json:"basedir" yaml:"basedir"`
	Filename string          `json:"filename" yaml:"filename"`
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	Metadata metadata.Record `json:"metadata" yaml:"metadata"`
}

// SanitizeName keeps identifier characters of name, truncated to
// MaxNameLength, falling back to metadata.DefaultName.
func SanitizeName(name string) string {
	clean := nonIdentifier.ReplaceAllString(name, "")
	if len(clean) > MaxNameLength {
		clean = clean[:MaxNameLength]
	}
	if clean == "" {
		return metadata.DefaultName
	}
	return clean
}

// FromSource parses text and stages it in a fresh temporary directory.
// origin may be nil.
func FromSource(opts Options, text string, origin *url.URL) (*Script, error) {
	meta, err := metadata.Parse(text, origin)
	if err != nil {
		return nil, err
	}

	name := SanitizeName(meta.Name)
	dir, err := paths.CreateUniqueDir(opts.tempDir(), name)
	if err != nil {
		return nil, fmt.Errorf("create script directory: %w", err)
	}

	filename := name + Suffix
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(text), 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write script source: %w", err)
	}

	return &Script{
		meta:     meta,
		dir:      dir,
		filename: filename,
		origin:   origin,
		enabled:  true,
	}, nil
}

// FromRecord binds a persisted record to its directory under root without
// re-reading the source.
func FromRecord(root string, rec Record) (*Script, error) {
	if rec.Basedir == "" || rec.Filename == "" {
		return nil, fmt.Errorf("script record %q lacks basedir or filename", rec.Metadata.Name)
	}
	return &Script{
		meta:      metadata.FromRecord(rec.Metadata),
		dir:       filepath.Join(root, paths.SafeBase(rec.Basedir)),
		filename:  paths.SafeBase(rec.Filename),
		enabled:   rec.Enabled,
		installed: true,
	}, nil
}

// ToRecord converts s to its persisted form.
func (s *Script) ToRecord() Record {
	return Record{
		Basedir:  s.Basedir(),
		Filename: s.filename,
		Enabled:  s.Enabled(),
		Metadata: s.meta.ToRecord(),
	}
}

func (s *Script) Metadata() *metadata.Metadata { return s.meta }

// ID is "namespace/name".
func (s *Script) ID() string { return s.meta.ID() }

func (s *Script) Name() string      { return s.meta.Name }
func (s *Script) Namespace() string { return s.meta.Namespace }

// Dir is the absolute storage directory.
func (s *Script) Dir() string { return s.dir }

// Basedir is the directory name relative to its parent.
func (s *Script) Basedir() string { return filepath.Base(s.dir) }

func (s *Script) Filename() string { return s.filename }

// File is the absolute path of the script source.
func (s *Script) File() string { return filepath.Join(s.dir, s.filename) }

// Origin is where the source was obtained, nil if unknown or reloaded.
func (s *Script) Origin() *url.URL { return s.origin }

// FileURL is the source location reported by the script engine for code
// evaluated from the script file.
func (s *Script) FileURL() string { return FileURL(s.File()) }

// SourceFiles lists the file URLs of the requires, in order, then the
// script's own file.
func (s *Script) SourceFiles() []string {
	out := make([]string, 0, len(s.meta.Requires)+1)
	for _, r := range s.meta.Requires {
		out = append(out, FileURL(filepath.Join(s.dir, r.Filename)))
	}
	return append(out, s.FileURL())
}

// Source is one evaluable file of a script.
type Source struct {
	URL  string
	Text string
}

// ReadSources loads the requires then the script's own source.
func (s *Script) ReadSources() ([]Source, error) {
	files := append([]string{}, s.requireFiles()...)
	files = append(files, s.File())

	out := make([]Source, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, Source{URL: FileURL(f), Text: string(data)})
	}
	return out, nil
}

func (s *Script) requireFiles() []string {
	var out []string
	for _, r := range s.meta.Requires {
		out = append(out, filepath.Join(s.dir, r.Filename))
	}
	return out
}

// ResourcePath returns the resource named name and the path of its file.
func (s *Script) ResourcePath(name string) (*metadata.Resource, string, bool) {
	r := s.meta.Resource(name)
	if r == nil || r.Filename == "" {
		return nil, "", false
	}
	return r, filepath.Join(s.dir, r.Filename), true
}

// Enabled reports whether the script should run.
func (s *Script) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled toggles the script and fires the change hook when the value
// actually changes.
func (s *Script) SetEnabled(enabled bool) {
	s.mu.Lock()
	changed := s.enabled != enabled
	s.enabled = enabled
	hook := s.hook
	s.mu.Unlock()

	if changed && hook != nil {
		hook(s, EventEditEnabled)
	}
}

// SetChangeHook installs the observer of state changes. The registry owns it.
func (s *Script) SetChangeHook(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *Script) Installed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed
}

// DownloadURL is set only while a downloaded script is not yet installed.
func (s *Script) DownloadURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloadURL
}

// IsRunnable reports whether the enabled script applies to url.
func (s *Script) IsRunnable(url string) bool {
	return s.Enabled() && s.meta.IsRunnable(url)
}

// Install moves the staged directory under root, choosing a unique name
// derived from the script filename. Installing twice is a no-op.
func (s *Script) Install(root string) error {
	if s.Installed() {
		return nil
	}

	target, err := paths.CreateUniqueDir(root, strings.TrimSuffix(s.filename, Suffix))
	if err != nil {
		return fmt.Errorf("reserve install directory: %w", err)
	}
	if err := paths.MoveDir(s.dir, target); err != nil {
		os.Remove(target)
		return fmt.Errorf("install %s: %w", s.ID(), err)
	}

	s.mu.Lock()
	s.dir = target
	s.installed = true
	s.downloadURL = ""
	s.mu.Unlock()
	return nil
}

// Uninstall removes the script directory. It is safe to call repeatedly.
func (s *Script) Uninstall() error {
	s.mu.Lock()
	s.installed = false
	s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("uninstall %s: %w", s.ID(), err)
	}
	return nil
}

// Reload re-reads the header from the on-disk source after an external edit.
// Declared identity fields, the description, rules and unwrap are refreshed;
// bundled dependency files are kept as they are.
func (s *Script) Reload() error {
	data, err := os.ReadFile(s.File())
	if err != nil {
		return err
	}
	base := s.origin
	if base == nil {
		base, _ = url.Parse(s.FileURL())
	}
	fresh, err := metadata.ParseHeader(string(data), base)
	if err != nil {
		return err
	}

	if fresh.Name != "" {
		s.meta.Name = fresh.Name
	}
	if fresh.Namespace != "" {
		s.meta.Namespace = fresh.Namespace
	}
	s.meta.Description = fresh.Description
	s.meta.SetRules(fresh.Includes, fresh.Excludes)
	s.meta.Unwrap = fresh.Unwrap
	return nil
}

// FileURL converts an absolute path to a file: URL.
func FileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
