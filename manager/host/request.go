package host

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiled caches schemas by their source.
var compiled sync.Map

// DecodeRequest reads the body of r, validates it against schema and decodes it into T.
func DecodeRequest[T any](r *http.Request, schema []byte) (*T, error) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	if err := Validate(content, schema); err != nil {
		return nil, err
	}

	v := new(T)
	if err := json.Unmarshal(content, v); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return v, nil
}

// Validate checks JSON content against a JSON schema.
func Validate(content, schema []byte) error {
	sch, err := compile(schema)
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("request is not valid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("request does not match schema: %w", err)
	}

	return nil
}

func compile(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if sch, ok := compiled.Load(key); ok {
		return sch.(*jsonschema.Schema), nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	actual, _ := compiled.LoadOrStore(key, sch)
	return actual.(*jsonschema.Schema), nil
}
