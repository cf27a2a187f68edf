package config

import "github.com/invopop/jsonschema"

// Schema describes the configuration file.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "ema-realtime session"
	return schema
}
