package script

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/gabriel-vasile/mimetype"
)

// Payload is a downloaded file.
type Payload struct {
	Data []byte
	// ContentType is the server media type, possibly with parameters. May be
	// empty for local files.
	ContentType string
	URL         *url.URL
}

// DependencyFetcher resolves, vets and downloads script files. Require and
// resource entries share it.
type DependencyFetcher interface {
	Resolve(ref string, base *url.URL) (*url.URL, error)
	// ValidateOrigin decides whether a script from parent may load target.
	// parent is nil for a top-level, user-initiated download.
	ValidateOrigin(parent, target *url.URL) error
	Fetch(ctx context.Context, target *url.URL) (*Payload, error)
}

// Fetcher is the default DependencyFetcher backed by the host fetch client.
type Fetcher struct {
	Client  *fetch.Client
	Metrics *monitoring.Metrics
}

// NewFetcher returns a Fetcher using client.
func NewFetcher(client *fetch.Client, metrics *monitoring.Metrics) *Fetcher {
	return &Fetcher{Client: client, Metrics: metrics}
}

func (f *Fetcher) Resolve(ref string, base *url.URL) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("relative url %q", ref)
	}
	return u, nil
}

func (f *Fetcher) ValidateOrigin(parent, target *url.URL) error {
	switch target.Scheme {
	case "http", "https", "ftp":
		return nil
	case "file":
		if parent == nil || parent.Scheme == "file" {
			return nil
		}
		return fmt.Errorf("%w: %s may not load local file %s", ErrSecurity, parent, target)
	}
	return fmt.Errorf("%w: scheme %q not allowed for %s", ErrSecurity, target.Scheme, target)
}

func (f *Fetcher) Fetch(ctx context.Context, target *url.URL) (*Payload, error) {
	start := time.Now()
	p, err := f.fetch(ctx, target)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	f.Metrics.RecordFetch(target.Scheme, outcome, time.Since(start))
	return p, err
}

func (f *Fetcher) fetch(ctx context.Context, target *url.URL) (*Payload, error) {
	switch target.Scheme {
	case "file":
		data, err := os.ReadFile(target.Path)
		if err != nil {
			return nil, err
		}
		return &Payload{Data: data, ContentType: mimetype.Detect(data).String(), URL: target}, nil
	case "http", "https":
		if f.Client == nil {
			return nil, errors.New("no network client configured")
		}
		resp, err := f.Client.Get(ctx, target.String())
		if err != nil {
			return nil, err
		}
		final := target
		if u, err := url.Parse(resp.FinalURL); err == nil {
			final = u
		}
		return &Payload{Data: resp.Body, ContentType: resp.Header.Get("Content-Type"), URL: final}, nil
	}
	return nil, fmt.Errorf("%w: %s", fetch.ErrUnsupportedScheme, target.Scheme)
}
