package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// InstallFromURL downloads the script at uri with its dependencies and
// installs it. A staged script whose dependency failed is discarded.
func (p *Provider) InstallFromURL(ctx context.Context, uri string) (*script.Script, error) {
	s, err := script.Download(ctx, p.opts, p.fetcher, uri, false)
	if err != nil {
		p.discard(s)
		return nil, err
	}
	return p.install(s)
}

// InstallFromSource installs text as if it had been downloaded from origin.
// An empty origin leaves relative dependencies unresolvable.
func (p *Provider) InstallFromSource(ctx context.Context, text, origin string) (*script.Script, error) {
	var base *url.URL
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
		}
		base = u
	}

	s, err := script.FromSource(p.opts, text, base)
	if err != nil {
		return nil, err
	}
	if err := s.FetchDependencies(ctx, p.fetcher); err != nil {
		p.discard(s)
		return nil, err
	}
	return p.install(s)
}

// ImportFiles installs every local file matching the doublestar pattern,
// for example "/home/me/scripts/**/*.user.js". Files that fail are logged
// and skipped; the first such error is returned with the scripts that did
// install.
func (p *Provider) ImportFiles(ctx context.Context, pattern string) ([]*script.Script, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var installed []*script.Script
	var firstErr error
	for _, path := range matches {
		s, err := p.importFile(ctx, path)
		if err != nil {
			p.logger.Warn("import failed", zap.String("file", path), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("import %s: %w", path, err)
			}
			continue
		}
		installed = append(installed, s)
	}
	return installed, firstErr
}

func (p *Provider) importFile(ctx context.Context, path string) (*script.Script, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return p.InstallFromSource(ctx, string(data), script.FileURL(abs))
}

func (p *Provider) install(s *script.Script) (*script.Script, error) {
	if err := p.registry.Install(s); err != nil {
		p.discard(s)
		return nil, err
	}
	return s, nil
}

func (p *Provider) discard(s *script.Script) {
	if s == nil || s.Installed() {
		return
	}
	if err := s.Uninstall(); err != nil {
		p.logger.Debug("failed to discard staged script", zap.String("script", s.ID()), zap.Error(err))
	}
}
