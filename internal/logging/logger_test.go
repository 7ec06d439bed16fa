package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		excluded []string
	}{
		{name: "email", input: "user bob@example.com signed up", excluded: []string{"bob@example.com"}},
		{name: "ipv4", input: "request from 203.0.113.9 flagged", excluded: []string{"203.0.113.9"}},
		{name: "bearer token", input: "auth Bearer abc.def-ghi failed", excluded: []string{"abc.def-ghi"}},
		{name: "secret pair", input: `config password:"hunter2" loaded`, excluded: []string{"hunter2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RedactPII(tt.input)
			for _, raw := range tt.excluded {
				assert.NotContains(t, out, raw)
			}
		})
	}
}

func TestRedactPIIFromFields(t *testing.T) {
	fields := map[string]interface{}{
		"client_ip":  "203.0.113.9",
		"user_agent": "curl/8.4.0",
		"api_key":    "sk-12345",
		"path":       "/search",
		"note":       "contact admin@example.com",
		"count":      7,
	}

	redacted := RedactPIIFromFields(fields)

	assert.Equal(t, "[REDACTED]", redacted["client_ip"])
	assert.Equal(t, "[REDACTED]", redacted["user_agent"])
	assert.Equal(t, "[REDACTED]", redacted["api_key"])
	assert.Equal(t, "/search", redacted["path"])
	assert.NotContains(t, redacted["note"], "admin@example.com")
	assert.Equal(t, 7, redacted["count"])
}

func TestRedactPIIFromFieldsNil(t *testing.T) {
	assert.Nil(t, RedactPIIFromFields(nil))
}
