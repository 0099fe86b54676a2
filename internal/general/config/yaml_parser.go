package config

import (
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// parseYAML decodes config.yaml strictly: unknown keys are errors. An empty
// file leaves cfg untouched.
func parseYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
