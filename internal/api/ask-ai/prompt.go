// internal/api/ask-ai/prompt.go
package askai

import (
	"fmt"
	"strings"
)

const questionDelimiter = "\n\n---\n\nPERTANYAAN:\n"

// BuildPrompt wraps query with the persona and output-language instructions.
// Caller input is used as-is.
func BuildPrompt(query, persona, language string) string {
	var parts []string

	if persona != "" {
		parts = append(parts, fmt.Sprintf("Anda adalah %s. Jawablah sesuai dengan peran tersebut.", persona))
	}
	parts = append(parts, fmt.Sprintf("Anda harus menjawab secara eksklusif dalam %s.", language))

	return strings.Join(parts, "\n") + questionDelimiter + query
}
