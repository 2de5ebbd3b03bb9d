package pipeline

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
)

// Unmarshal unmarshals and validates a pipeline from YAML bytes.
func Unmarshal(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &nwferrors.ConfigError{Err: fmt.Errorf("%w: %s", nwferrors.ErrConfig, err)}
	}

	// Fill job names from the map keys.
	for name, job := range p.Jobs {
		job.Name = name
	}

	if err := p.Validate(); err != nil {
		return nil, &nwferrors.ConfigError{Err: fmt.Errorf("%w: %s", nwferrors.ErrConfig, err)}
	}
	return &p, nil
}

// Load reads and unmarshals a pipeline from a YAML file.
//
// Load combines file reading with validation - it returns an error if
// the file cannot be read or if the pipeline content is invalid.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &nwferrors.ConfigError{Path: path, Err: err}
	}
	p, err := Unmarshal(data)
	if err != nil {
		if ce, ok := nwferrors.AsConfigError(err); ok {
			ce.Path = path
		}
		return nil, err
	}
	return p, nil
}

// LoadReader unmarshals a pipeline from an io.Reader.
//
// LoadReader is useful for reading pipelines from stdin or HTTP
// responses.
func LoadReader(r io.Reader) (*Pipeline, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Marshal marshals a pipeline to YAML bytes.
func Marshal(p *Pipeline) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pipeline: %w", err)
	}
	return data, nil
}
