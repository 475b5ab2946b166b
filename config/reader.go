package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a config file.
type Format int

const (
	// FormatJSON is the default.
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(filePath string) Format {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Read reads a config from the given file. Environment variables in the file are expanded.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := FromReader(bytes.NewReader(buf), FormatFromPath(filePath))
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return cfg, nil
}

// FromReader reads a config in the given format.
func FromReader(r io.Reader, format Format) (*Config, error) {
	attributes := map[string]interface{}{}
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&attributes); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "failed to decode config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&attributes); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "failed to decode config from json")
		}
	}
	return FromAttributes(attributes)
}
