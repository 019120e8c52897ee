package remote

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractErrorMessageStrategies(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"json error field", 400, `{"error":"invalid payload"}`, "invalid payload"},
		{"json message field", 400, `{"message":"missing entity id"}`, "missing entity id"},
		{"json detail field", 422, `{"detail":"status transition not allowed"}`, "status transition not allowed"},
		{"error field wins over message", 400, `{"error":"a","message":"b"}`, "a"},
		{"plain text body", 500, "upstream exploded", "upstream exploded"},
		{"json without known fields falls to text", 400, `{"code":17}`, `{"code":17}`},
		{"empty body falls back to status text", 503, "", http.StatusText(503)},
		{"whitespace body falls back to status text", 404, "  \n ", http.StatusText(404)},
		{"empty json error falls to text", 400, `{"error":""}`, `{"error":""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractErrorMessage(tc.status, []byte(tc.body)))
		})
	}
}

func TestExtractPlainTextTruncates(t *testing.T) {
	long := strings.Repeat("x", 2000)
	msg, ok := extractPlainText([]byte(long))
	assert.True(t, ok)
	assert.Len(t, msg, 500)
}
