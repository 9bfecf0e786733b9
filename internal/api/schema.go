package api

import (
	"embed"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Request schemas, compiled once.
var (
	priceGuideSchema = mustSchema("schemas/price_guide.json")
	detailedSchema   = mustSchema("schemas/price_guide_detailed.json")
	normaliseSchema  = mustSchema("schemas/normalise.json")
)

func mustSchema(name string) *gojsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(eris.Wrapf(err, "api: read schema %s", name))
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(eris.Wrapf(err, "api: compile schema %s", name))
	}
	return s
}

// rootField is the context gojsonschema reports for the document itself.
const rootField = "(root)"

// validateBody checks body against schema and reports the first failure as
// a validation error naming the offending field.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.Validation("", "request body is not valid JSON")
	}
	if res.Valid() {
		return nil
	}
	first := res.Errors()[0]
	field := first.Field()
	if first.Type() == "required" {
		if p, ok := first.Details()["property"].(string); ok {
			return apperr.MissingField(joinField(field, p))
		}
	}
	if field == rootField {
		field = ""
	}
	return apperr.Validation(field, schemaMessage(field, first))
}

func joinField(parent, name string) string {
	if parent == "" || parent == rootField {
		return name
	}
	return parent + "." + name
}

func schemaMessage(field string, e gojsonschema.ResultError) string {
	switch e.Type() {
	case "invalid_type":
		if field == "" {
			return "request body must be a JSON object"
		}
		return field + " has the wrong type"
	case "pattern":
		return field + " must be a number"
	}
	desc := e.Description()
	if field == "" {
		return desc
	}
	return field + ": " + strings.TrimPrefix(desc, field+" ")
}
