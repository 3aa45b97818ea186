package registry

import (
	"fmt"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DocumentVersion is written into every saved document.
const DocumentVersion = 1

// Document is the persisted registry.
type Document struct {
	Version int             `json:"version" yaml:"version"`
	Scripts []script.Record `json:"scripts" yaml:"scripts"`
}

// Codec encodes the registry document.
type Codec interface {
	Marshal(doc *Document) ([]byte, error)
	Unmarshal(data []byte, doc *Document) error
	Ext() string
}

// CodecFor returns the codec for format. The empty format means JSON.
func CodecFor(format Format) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	}
	return nil, fmt.Errorf("unknown registry format %q", format)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(doc *Document) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(doc, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, doc *Document) error {
	return sonic.ConfigStd.Unmarshal(data, doc)
}

func (jsonCodec) Ext() string { return "json" }

type yamlCodec struct{}

func (yamlCodec) Marshal(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

func (yamlCodec) Unmarshal(data []byte, doc *Document) error {
	return yaml.Unmarshal(data, doc)
}

func (yamlCodec) Ext() string { return "yaml" }
