// internal/api/ask-ai/schema.go
package askai

import "copilot-proxy/internal/common/validation"

const requestSchemaJSON = `{
  "type": "object",
  "properties": {
    "query":       {"type": "string"},
    "customModel": {"type": ["string", "null"]},
    "language":    {"type": ["string", "null"]},
    "model":       {"type": ["string", "null"]}
  },
  "required": ["query"]
}`

// validateBody checks the raw body against the request schema and returns a readable
// reason on failure.
func validateBody(schema *validation.Schema, body []byte) (string, bool) {
	result, err := schema.ValidateBytes(body)
	if err != nil {
		return "request body is not valid JSON", false
	}
	if result.Valid {
		return "", true
	}
	return result.Summary(), false
}
