package script

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"

	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/shared/paths"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/metadata"
	"github.com/gabriel-vasile/mimetype"
)

// Download fetches the script at uri, stages it and, unless skipDeps, fetches
// its dependencies. When a dependency fails, the staged script is returned
// with the error so the caller can discard it.
func Download(ctx context.Context, opts Options, f DependencyFetcher, uri string, skipDeps bool) (*Script, error) {
	target, err := f.Resolve(uri, nil)
	if err != nil {
		return nil, &FetchError{Dependency: uri, Err: err}
	}
	if err := f.ValidateOrigin(nil, target); err != nil {
		return nil, &FetchError{Dependency: uri, Err: err}
	}

	payload, err := f.Fetch(ctx, target)
	if err != nil {
		return nil, newFetchError(uri, "", err)
	}

	s, err := FromSource(opts, string(payload.Data), target)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.downloadURL = uri
	s.mu.Unlock()

	if skipDeps {
		return s, nil
	}
	if err := s.FetchDependencies(ctx, f); err != nil {
		return s, err
	}
	return s, nil
}

// FromRemote runs Download in the background and calls exactly one of
// onSuccess or onError from that goroutine. onError receives the staged
// script when only a dependency failed, nil otherwise.
func FromRemote(ctx context.Context, opts Options, f DependencyFetcher, uri string,
	onSuccess func(*Script), onError func(*Script, *FetchError), skipDeps bool) {
	go func() {
		s, err := Download(ctx, opts, f, uri, skipDeps)
		if err == nil {
			onSuccess(s)
			return
		}
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Dependency: uri, Err: err}
		}
		onError(s, fe)
	}()
}

// FetchDependencies downloads every require then every resource that still
// has a source URL. Fetches are strictly sequential and the first failure
// aborts the rest.
func (s *Script) FetchDependencies(ctx context.Context, f DependencyFetcher) error {
	for _, dep := range s.meta.Dependencies() {
		src := dep.Source()
		if src == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return newFetchError(src.String(), dep.Kind(), err)
		}
		if err := validateDependency(f, s.origin, src); err != nil {
			return &FetchError{Dependency: src.String(), Kind: dep.Kind(), Err: err}
		}

		payload, err := f.Fetch(ctx, src)
		if err != nil {
			return newFetchError(src.String(), dep.Kind(), err)
		}

		name, err := paths.WriteUniqueFile(s.dir, paths.SafeBase(dep.SuggestedFile()), payload.Data)
		if err != nil {
			return &FetchError{Dependency: src.String(), Kind: dep.Kind(), Err: err}
		}
		dep.SetFile(name)

		if r, ok := dep.(*metadata.Resource); ok {
			r.MimeType, r.Charset = mediaType(payload)
		}
	}
	return nil
}

// validateDependency applies the origin policy to a dependency. Only the
// top-level download may have no parent; a script without an origin is
// treated as remote and may not bundle local files.
func validateDependency(f DependencyFetcher, origin, src *url.URL) error {
	if origin == nil && src.Scheme == "file" {
		return fmt.Errorf("%w: script without an origin may not load local file %s", ErrSecurity, src)
	}
	return f.ValidateOrigin(origin, src)
}

// mediaType prefers the server Content-Type and sniffs the data otherwise.
func mediaType(p *Payload) (string, string) {
	if p.ContentType != "" {
		if mt, params, err := mime.ParseMediaType(p.ContentType); err == nil {
			return mt, params["charset"]
		}
	}
	mt, params, err := mime.ParseMediaType(mimetype.Detect(p.Data).String())
	if err != nil {
		return "application/octet-stream", ""
	}
	return mt, params["charset"]
}

func newFetchError(uri string, kind metadata.Kind, err error) *FetchError {
	fe := &FetchError{Dependency: uri, Kind: kind, Err: err}
	var se *fetch.StatusError
	if errors.As(err, &se) {
		fe.StatusCode = se.StatusCode
		fe.StatusText = se.Status
	}
	return fe
}
