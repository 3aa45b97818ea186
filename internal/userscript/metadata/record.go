package metadata

// Record is the persisted form of Metadata. Dependency origin URLs are not
// kept; only their local files are.
type Record struct {
	Name        string           `json:"name" yaml:"name"`
	Namespace   string           `json:"namespace" yaml:"namespace"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Includes    []string         `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes    []string         `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Requires    []RequireRecord  `json:"requires,omitempty" yaml:"requires,omitempty"`
	Resources   []ResourceRecord `json:"resources,omitempty" yaml:"resources,omitempty"`
	Unwrap      bool             `json:"unwrap,omitempty" yaml:"unwrap,omitempty"`
}

// RequireRecord is the persisted form of Require.
type RequireRecord struct {
	Filename string `json:"filename" yaml:"filename"`
}

// ResourceRecord is the persisted form of Resource.
type ResourceRecord struct {
	Name     string `json:"name" yaml:"name"`
	Filename string `json:"filename" yaml:"filename"`
	MimeType string `json:"mimetype" yaml:"mimetype"`
	Charset  string `json:"charset,omitempty" yaml:"charset,omitempty"`
}

// ToRecord converts m to its persisted form.
func (m *Metadata) ToRecord() Record {
	rec := Record{
		Name:        m.Name,
		Namespace:   m.Namespace,
		Description: m.Description,
		Includes:    append([]string(nil), m.Includes...),
		Excludes:    append([]string(nil), m.Excludes...),
		Unwrap:      m.Unwrap,
	}
	for _, r := range m.Requires {
		rec.Requires = append(rec.Requires, RequireRecord{Filename: r.Filename})
	}
	for _, r := range m.Resources {
		rec.Resources = append(rec.Resources, ResourceRecord{
			Name:     r.Name,
			Filename: r.Filename,
			MimeType: r.MimeType,
			Charset:  r.Charset,
		})
	}
	return rec
}

// FromRecord rebuilds Metadata from a persisted record.
func FromRecord(rec Record) *Metadata {
	m := &Metadata{
		Name:        rec.Name,
		Namespace:   rec.Namespace,
		Description: rec.Description,
		Unwrap:      rec.Unwrap,
	}
	m.SetRules(rec.Includes, rec.Excludes)
	for _, r := range rec.Requires {
		m.Requires = append(m.Requires, &Require{Filename: r.Filename})
	}
	for _, r := range rec.Resources {
		m.Resources = append(m.Resources, &Resource{
			Name:     r.Name,
			Filename: r.Filename,
			MimeType: r.MimeType,
			Charset:  r.Charset,
		})
	}
	return m
}
