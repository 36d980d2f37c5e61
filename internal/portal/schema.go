package portal

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema describes the configuration document. Unknown keys are allowed at
// every level.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	s := r.Reflect(&Config{})
	s.ID = "https://github.com/marcus/portal/config.schema.json"
	s.Title = "Portal configuration"
	s.Description = "Branding, role links and administrator of a portal deployment"
	return s
}

// JSONSchemaExtend documents the known color and transparency keys.
func (Branding) JSONSchemaExtend(s *jsonschema.Schema) {
	if s.Properties == nil {
		return
	}
	if p, ok := s.Properties.Get("colors"); ok {
		keys := make([]string, len(ColorFields))
		for i, f := range ColorFields {
			keys[i] = f.Key
		}
		p.Description = "CSS colors keyed by " + strings.Join(keys, ", ")
	}
	if p, ok := s.Properties.Get("transparency"); ok {
		p.Description = "Opacity between 0 and 1 for panel, header, footer and button"
		if p.AdditionalProperties != nil {
			p.AdditionalProperties.Minimum = json.Number("0")
			p.AdditionalProperties.Maximum = json.Number("1")
		}
	}
}
