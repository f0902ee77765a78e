package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBaseURL = "https://smartstudy.local/schemas/"

// Schema validates persisted JSON documents before they are decoded.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document registered under name.
func CompileSchema(name, doc string) (*Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, errors.Wrapf(err, "parse schema %s", name)
	}
	url := schemaBaseURL + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, errors.Wrapf(err, "add schema %s", name)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema %s", name)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package level schema variables.
func MustCompileSchema(name, doc string) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string {
	return s.name
}

// Validate checks data against the schema.
func (s *Schema) Validate(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return s.compiled.Validate(inst)
}

// Decode validates data against schema (when given) and unmarshals it into
// out. Any failure is reported as a *errors.ParseError.
func Decode(key Key, data []byte, schema *Schema, out any) error {
	if schema != nil {
		if err := schema.Validate(data); err != nil {
			return &errors.ParseError{Key: string(key), Err: err}
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errors.ParseError{Key: string(key), Err: err}
	}
	return nil
}

var reportedCorrupt sync.Map

// LoadJSON reads key from store into out. A missing key reports false with no
// error. A corrupt value is treated the same way and logged once per key for
// the life of the process. Only backend failures are returned.
func LoadJSON(ctx context.Context, store Store, key Key, schema *Schema, out any) (bool, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "load %s", key)
	}
	if err := Decode(key, data, schema, out); err != nil {
		if _, seen := reportedCorrupt.LoadOrStore(key, struct{}{}); !seen {
			log.Warn().Err(err).Str("key", string(key)).Msg("ignoring corrupt stored record")
		}
		return false, nil
	}
	return true, nil
}

// SaveJSON marshals v and stores it under key.
func SaveJSON(ctx context.Context, store Store, key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := store.Set(ctx, key, data); err != nil {
		return errors.Wrapf(err, "save %s", key)
	}
	return nil
}
