// Package config reads the camera file that tells camacq which cameras to open and how.
package config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"go.viam.com/camacq/components/camera/acquisition"
	"go.viam.com/camacq/components/camera/uc480"
	"go.viam.com/camacq/logging"
)

// Config is a camera file.
type Config struct {
	Cameras  []Camera `yaml:"cameras"`
	LogLevel string   `yaml:"log_level,omitempty"`

	ConfigFilePath string `yaml:"-"`
}

// Camera is one camera entry. Attributes are decoded into ConvertedAttributes by Ensure.
type Camera struct {
	ID         string                 `yaml:"id"`
	Backend    string                 `yaml:"backend"`
	Attributes map[string]interface{} `yaml:"attributes"`

	ConvertedAttributes *acquisition.Config `yaml:"-"`
	Variant             uc480.Variant       `yaml:"-"`
}

// Validate checks the entry and converts its attributes.
func (c *Camera) Validate(path string) error {
	if c.ID == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "id")
	}
	if c.Backend == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "backend")
	}
	variant, err := uc480.VariantByName(c.Backend)
	if err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	conf, err := acquisition.DecodeConfig(c.Attributes)
	if err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if _, err := conf.Validate(fmt.Sprintf("%s.attributes", path)); err != nil {
		return err
	}
	withDefaults := conf.WithDefaults()
	c.ConvertedAttributes = &withDefaults
	c.Variant = variant
	return nil
}

// Ensure validates every camera, fills in defaults, and rejects duplicate ids.
func (c *Config) Ensure() error {
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return goutils.NewConfigValidationError("log_level", err)
		}
	}
	seen := make(map[string]int, len(c.Cameras))
	for idx := range c.Cameras {
		path := fmt.Sprintf("cameras.%d", idx)
		if err := c.Cameras[idx].Validate(path); err != nil {
			return err
		}
		id := c.Cameras[idx].ID
		if prev, ok := seen[id]; ok {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("camera id %q is already used by cameras.%d", id, prev))
		}
		seen[id] = idx
	}
	return nil
}

// FindCamera returns the camera entry with the given id.
func (c *Config) FindCamera(id string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return Camera{}, false
}

// Read reads a camera file. Environment variables in the file are expanded first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a camera file from r. originalPath is recorded for error messages only.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := &Config{ConfigFilePath: originalPath}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "failed to decode camera file %q", originalPath)
	}
	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrapf(err, "invalid camera file %q", originalPath)
	}
	return cfg, nil
}
