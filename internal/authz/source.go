package authz

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source builds a fresh Matrix.
type Source func(ctx context.Context) (*Matrix, error)

// policyFile is the on-disk policy layout:
//
//	roles:
//	  nurse: [view-patients, edit-patients]
type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// DefaultSource serves the built-in table.
func DefaultSource() Source {
	return func(context.Context) (*Matrix, error) {
		return NewMatrix(DefaultTable())
	}
}

// FileSource reads a YAML policy file on every load.
func FileSource(path string) Source {
	return func(context.Context) (*Matrix, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		return ParsePolicy(raw)
	}
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(raw []byte) (*Matrix, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("decode policy: no roles defined")
	}
	return NewMatrix(doc.Roles)
}
