package classifier

import (
	"encoding/json"
	"strings"
)

// payload is the loosely structured error body inference services return.
// Known shapes:
//
//	{"error": "Model too busy, unable to get response in less than 60 second(s)"}
//	{"error": ["Input should be a valid string"]}
//	{"error": {"message": "...", "type": "..."}}
//	{"error": "...", "warnings": ["CUDA out of memory. Tried to allocate ..."]}
//	{"error": "Model is currently loading", "estimated_time": 20.0}
type payload struct {
	parsed        bool
	Message       string
	Warnings      []string
	EstimatedTime float64
}

func (p payload) searchText() string {
	if len(p.Warnings) == 0 {
		return p.Message
	}
	return p.Message + "\n" + strings.Join(p.Warnings, "\n")
}

type wirePayload struct {
	Error         json.RawMessage `json:"error"`
	Message       string          `json:"message"`
	Detail        string          `json:"detail"`
	Warnings      []string        `json:"warnings"`
	EstimatedTime float64         `json:"estimated_time"`
}

// parsePayload decodes body. Anything that is not a JSON object with at least
// one recognised field reports parsed=false so callers fall back to raw text.
func parsePayload(body string) payload {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || trimmed[0] != '{' {
		return payload{}
	}

	var w wirePayload
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return payload{}
	}

	p := payload{
		Warnings:      w.Warnings,
		EstimatedTime: w.EstimatedTime,
	}
	p.Message = decodeErrorField(w.Error)
	if p.Message == "" {
		p.Message = firstNonEmpty(w.Message, w.Detail)
	}
	p.parsed = p.Message != "" || len(p.Warnings) > 0
	return p
}

func decodeErrorField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}

	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Message, obj.Type)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
