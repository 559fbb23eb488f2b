package v1

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

// InitializeDiscoveryRequestSchema is the JSON schema hosts validate initialization requests against.
var InitializeDiscoveryRequestSchema = sync.OnceValues(func() ([]byte, error) {
	return generateJSONSchema(&InitializeDiscoveryRequest{})
})

// DiscoverTestsRequestSchema is the JSON schema hosts validate discovery requests against.
var DiscoverTestsRequestSchema = sync.OnceValues(func() ([]byte, error) {
	return generateJSONSchema(&DiscoverTestsRequest{})
})

func generateJSONSchema(obj any) ([]byte, error) {
	r := &jsonschema.Reflector{
		// the criteria are opaque to the orchestrator, hosts may receive fields they don't know yet.
		AllowAdditionalProperties: true,
	}

	schema, err := r.ReflectFromType(reflect.TypeOf(obj)).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to create json schema for %T: %w", obj, err)
	}

	return schema, nil
}
