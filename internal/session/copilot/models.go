package copilot

import (
	"sort"

	apperrors "copilot-proxy/internal/common/errors"
)

// ChatResult is the assembled answer of one exchange.
type ChatResult struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

type Citation struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
}

// modelModes maps public model names to backend mode tokens.
var modelModes = map[string]string{
	"copilot":      "chat",
	"think-deeper": "reasoning",
	"gpt-5":        "smart",
}

// ValidModels returns the accepted model names in sorted order.
func ValidModels() []string {
	names := make([]string, 0, len(modelModes))
	for name := range modelModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveMode returns the backend mode for model, using fallback when model is empty.
func ResolveMode(model, fallback string) (string, error) {
	if model == "" {
		model = fallback
	}
	mode, ok := modelModes[model]
	if !ok {
		return "", apperrors.NewInvalidModelError(model, ValidModels())
	}
	return mode, nil
}
