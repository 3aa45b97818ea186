package metadata

import (
	"bufio"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	headerOpen  = "// ==UserScript=="
	headerClose = "// ==/UserScript=="
)

var (
	headerLine   = regexp.MustCompile(`^// @(\S+)(?:\s+(.*))?$`)
	resourceLine = regexp.MustCompile(`^(\S+)\s+(.*)$`)
)

// Parse reads the header block of source. origin locates the script and is
// used to resolve @require/@resource URLs and to derive default identity.
// It may be nil for scripts with no known location.
func Parse(source string, origin *url.URL) (*Metadata, error) {
	m, err := ParseHeader(source, origin)
	if err != nil {
		return nil, err
	}
	m.applyDefaults(origin)
	return m, nil
}

// ParseHeader is Parse without defaults: fields the header does not declare
// stay empty.
func ParseHeader(source string, origin *url.URL) (*Metadata, error) {
	m := &Metadata{}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	inHeader := false
	for scanner.Scan() {
		// Delimiters and keys must start the line; only a CRLF ending is tolerated.
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if !inHeader {
			inHeader = line == headerOpen
			continue
		}
		if line == headerClose {
			break
		}
		if err := m.apply(line, origin); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script source: %w", err)
	}
	return m, nil
}

func (m *Metadata) apply(line string, origin *url.URL) error {
	match := headerLine.FindStringSubmatch(line)
	if match == nil {
		return nil
	}
	header, value := match[1], strings.TrimSpace(match[2])

	switch header {
	case "name":
		m.Name = value
	case "namespace":
		m.Namespace = value
	case "description":
		m.Description = value
	case "include":
		if value != "" {
			m.Includes = append(m.Includes, value)
		}
	case "exclude":
		if value != "" {
			m.Excludes = append(m.Excludes, value)
		}
	case "require":
		u, err := resolve(value, origin)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMetadataSyntax, line, err)
		}
		m.Requires = append(m.Requires, &Require{URL: u})
	case "resource":
		parts := resourceLine.FindStringSubmatch(value)
		if parts == nil {
			return fmt.Errorf("%w: %q", ErrMetadataSyntax, line)
		}
		name := parts[1]
		if m.Resource(name) != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateResource, name)
		}
		u, err := resolve(strings.TrimSpace(parts[2]), origin)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMetadataSyntax, line, err)
		}
		m.Resources = append(m.Resources, &Resource{Name: name, URL: u})
	case "unwrap":
		m.Unwrap = true
	}
	return nil
}

func (m *Metadata) applyDefaults(origin *url.URL) {
	if m.Name == "" {
		m.Name = nameFromOrigin(origin)
	}
	if m.Namespace == "" && origin != nil {
		m.Namespace = origin.Host
	}
	if len(m.Includes) == 0 {
		m.Includes = []string{DefaultInclude}
	}
}

func nameFromOrigin(origin *url.URL) string {
	if origin == nil {
		return DefaultName
	}
	base := path.Base(origin.Path)
	if base == "." || base == "/" {
		return DefaultName
	}
	if strings.HasSuffix(strings.ToLower(base), ".user.js") {
		base = base[:len(base)-len(".user.js")]
	}
	if base == "" {
		return DefaultName
	}
	return base
}

func resolve(ref string, origin *url.URL) (*url.URL, error) {
	if ref == "" {
		return nil, fmt.Errorf("missing url")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if origin != nil {
		return origin.ResolveReference(u), nil
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("relative url %q without origin", ref)
	}
	return u, nil
}
