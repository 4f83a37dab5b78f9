package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "WEBSERV"

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path yields Default() with
// environment overrides applied.
//
// Every failure is returned as *Error.
func Load(path string) (*Config, error) {
	var c *Config
	if path == "" {
		c = &Config{Servers: []Server{{Port: DefaultPort}}}
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Msg: "read " + path, Err: err}
		}
		c, err = Parse(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, &c.Global); err != nil {
		return nil, &Error{Field: "env", Msg: "invalid override", Err: err}
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes a YAML document without applying defaults or environment
// overrides. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Msg: "parse yaml", Err: err}
	}
	return &c, nil
}
