// Package id generates prefixed, time-sortable ULID identifiers for pages,
// browser sessions, injections and trace spans.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PageID identifies one loaded page (one sandbox realm).
type PageID string

// SessionID identifies a browser session (a tab group).
type SessionID string

// InjectionID identifies one script injection into one page.
type InjectionID string

const (
	PagePrefix      = "page"
	SessionPrefix   = "sess"
	InjectionPrefix = "inj"
	TracePrefix     = "trace"
	SpanPrefix      = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator reading entropy from r. Tests pass a
// deterministic reader.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(r, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates "prefix_ULID".
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

func NewPageID() PageID           { return PageID(Default().WithPrefix(PagePrefix)) }
func NewSessionID() SessionID     { return SessionID(Default().WithPrefix(SessionPrefix)) }
func NewInjectionID() InjectionID { return InjectionID(Default().WithPrefix(InjectionPrefix)) }

// New returns a fresh id with an arbitrary prefix.
func New(prefix string) string { return Default().WithPrefix(prefix) }

func (id PageID) String() string      { return string(id) }
func (id SessionID) String() string   { return string(id) }
func (id InjectionID) String() string { return string(id) }

// Timestamp extracts the creation time of a prefixed or bare ULID.
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
