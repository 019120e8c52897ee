package remote

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"
)

// extractor attempts to pull a human-readable message out of an error
// response body. Extractors are tried in order; the first hit wins.
type extractor func(body []byte) (string, bool)

var extractors = []extractor{
	extractJSONField,
	extractPlainText,
}

// ExtractErrorMessage flattens whatever the remote returned into one string:
// structured JSON first, then plain text, then the HTTP status text.
func ExtractErrorMessage(statusCode int, body []byte) string {
	for _, ex := range extractors {
		if msg, ok := ex(body); ok {
			return msg
		}
	}
	return http.StatusText(statusCode)
}

// extractJSONField handles the common structured shapes:
// {"error": "..."}, {"message": "..."}, {"detail": "..."}.
func extractJSONField(body []byte) (string, bool) {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", false
	}
	for _, key := range []string{"error", "message", "detail"} {
		raw, ok := decoded[key]
		if !ok {
			continue
		}
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
			return msg, true
		}
	}
	return "", false
}

func extractPlainText(body []byte) (string, bool) {
	text := strings.TrimSpace(string(body))
	if text == "" || !utf8.ValidString(text) {
		return "", false
	}
	if len(text) > 500 {
		text = text[:500]
	}
	return text, true
}
