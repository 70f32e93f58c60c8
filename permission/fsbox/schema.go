package fsbox

import "github.com/invopop/jsonschema"

// RequestSchema describes the .request file format for companion authors.
func RequestSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&RequestRecord{})
}

// ResponseSchema describes the .response file format.
func ResponseSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&ResponseRecord{})
}
