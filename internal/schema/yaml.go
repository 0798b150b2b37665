package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeYAML parses a schema declaration.
// Unknown fields are rejected so typos like "optinal:" surface early.
func DecodeYAML(data []byte) (Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Schema{}, fmt.Errorf("parse schema YAML: %w", err)
	}
	if err := Validate(s); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// LoadYAML reads and decodes a schema declaration file.
func LoadYAML(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return DecodeYAML(data)
}
