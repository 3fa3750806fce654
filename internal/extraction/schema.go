package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// candidateSchema accepts amounts as numbers or numeric strings; coercion
// happens after validation.
var candidateSchema = mustCompileSchema(map[string]any{
	"type": "object",
	"required": []string{
		"merchant", "date", "total", "confidence",
	},
	"properties": map[string]any{
		"merchant":      nullable("string"),
		"date":          nullable("string"),
		"subtotal":      amountSchema(),
		"tax":           amountSchema(),
		"tip":           amountSchema(),
		"miscellaneous": amountSchema(),
		"total":         amountSchema(),
		"currency":      nullable("string"),
		"paymentMethod": nullable("string"),
		"invoiceNumber": nullable("string", "number"),
		"billNumber":    nullable("string", "number"),
		"serialNumber":  nullable("string", "number"),
		"items": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  nullable("string"),
					"price": amountSchema(),
				},
			},
		},
		"confidence": map[string]any{
			"type": []string{"number", "string", "null"},
		},
	},
})

func nullable(types ...string) map[string]any {
	return map[string]any{"type": append(types, "null")}
}

func amountSchema() map[string]any {
	return nullable("number", "string")
}

func mustCompileSchema(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("candidate.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	schema, err := compiler.Compile("candidate.json")
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}
