package sanitization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact_APIKey(t *testing.T) {
	got := Redact("connection failed: api_key=sk-abc123xyz refused")
	assert.NotContains(t, got, "sk-abc123xyz")
	assert.Contains(t, got, "[REDACTED]")
}

func TestRedact_BearerToken(t *testing.T) {
	got := Redact("Authorization: Bearer abc.def.ghi")
	assert.NotContains(t, got, "abc.def.ghi")
}

func TestRedact_LeavesPlainMessageUntouched(t *testing.T) {
	msg := "error rate exceeded threshold for checkout"
	assert.Equal(t, msg, Redact(msg))
}
