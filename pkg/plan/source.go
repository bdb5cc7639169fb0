package plan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type inMemSource struct {
	plans map[string]Plan
}

// NewInMemSource returns a Source holding deep copies of the given plans.
func NewInMemSource(plans ...Plan) Source {
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p.clone()
	}
	return &inMemSource{plans: m}
}

func (s *inMemSource) Load(context.Context) (map[string]Plan, error) {
	out := make(map[string]Plan, len(s.plans))
	for id, p := range s.plans {
		out[id] = p.clone()
	}
	return out, nil
}

type yamlFile struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	open func() (io.ReadCloser, error)
}

// NewYAMLSource reads plans from a YAML file on every Load.
//
//	plans:
//	  - id: free
//	    name: Free
//	    default: true
//	    limits:
//	      daily_analyses: 3
func NewYAMLSource(path string) Source {
	return &yamlSource{open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// NewYAMLBytesSource parses plans from an in-memory YAML document.
func NewYAMLBytesSource(data []byte) Source {
	return &yamlSource{open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func (s *yamlSource) Load(context.Context) (map[string]Plan, error) {
	r, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open plans file: %w", err)
	}
	defer r.Close()

	var doc yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode plans file: %w", err)
	}

	out := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, dup := out[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlanConfiguration, p.ID)
		}
		out[p.ID] = p
	}
	return out, nil
}
