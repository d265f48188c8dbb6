package schemasource

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"gopkg.in/yaml.v3"
)

// Source is schema text with optional descriptions of tables.
type Source struct {
	Text         string
	Descriptions map[model.TableName]string
}

// Merge adds descriptions that are not set yet.
func (x *Source) Merge(descriptions map[model.TableName]string) {
	if len(descriptions) == 0 {
		return
	}
	if x.Descriptions == nil {
		x.Descriptions = make(map[model.TableName]string, len(descriptions))
	}
	for name, desc := range descriptions {
		if _, ok := x.Descriptions[name]; !ok {
			x.Descriptions[name] = desc
		}
	}
}

// FromFile reads schema text from a DDL file.
func FromFile(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read schema file", goerr.V("path", path))
	}
	return &Source{Text: string(raw)}, nil
}

type tableNotes struct {
	Tables map[string]struct {
		Description string `yaml:"description"`
	} `yaml:"tables"`
}

// LoadTableNotes reads table descriptions from a YAML file like:
//
//	tables:
//	  orders:
//	    description: purchases of customers
func LoadTableNotes(path string) (map[model.TableName]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read table notes", goerr.V("path", path))
	}

	var notes tableNotes
	if err := yaml.Unmarshal(raw, &notes); err != nil {
		return nil, goerr.Wrap(err, "failed to parse table notes", goerr.V("path", path))
	}

	descriptions := make(map[model.TableName]string, len(notes.Tables))
	for name, note := range notes.Tables {
		if note.Description == "" {
			continue
		}
		descriptions[model.TableName(name)] = note.Description
	}
	return descriptions, nil
}
