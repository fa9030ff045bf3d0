// internal/api/ask-ai/models.go
package askai

import "copilot-proxy/internal/session/copilot"

// Request is the body of POST /api/ai. CustomModel is the persona label; Model selects
// the backend mode.
type Request struct {
	Query       string `json:"query"`
	CustomModel string `json:"customModel"`
	Language    string `json:"language"`
	Model       string `json:"model"`
}

type Response struct {
	Success   bool               `json:"success"`
	Response  string             `json:"response"`
	Citations []copilot.Citation `json:"citations"`
	Metadata  Metadata           `json:"metadata"`
}

type Metadata struct {
	RequestID        string `json:"requestId"`
	Model            string `json:"model"`
	Persona          string `json:"persona,omitempty"`
	Language         string `json:"language"`
	QueryLength      int    `json:"queryLength"`
	PromptLength     int    `json:"promptLength"`
	ResponseLength   int    `json:"responseLength"`
	CitationCount    int    `json:"citationCount"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	Timestamp        string `json:"timestamp"`
}
