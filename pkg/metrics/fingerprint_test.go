package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "lowercases and trims",
			text:     "  Connection REFUSED  ",
			expected: "connection refused",
		},
		{
			name:     "numbers are volatile",
			text:     "port 3000 already in use",
			expected: "port <n> already in use",
		},
		{
			name:     "paths are volatile",
			text:     "ENOENT: no such file /workspace/src/app.js",
			expected: "enoent: no such file <path>",
		},
		{
			name:     "uuids are volatile",
			text:     "session 6f1f9a8a-8a69-4f2e-bb6a-1234567890ab not found",
			expected: "session <uuid> not found",
		},
		{
			name:     "hex addresses are volatile",
			text:     "panic at 0xDEADBEEF",
			expected: "panic at <hex>",
		},
		{
			name:     "whitespace collapses",
			text:     "error:\n\tsomething   broke",
			expected: "error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fingerprint(tt.text))
		})
	}
}

func TestFingerprintStableAcrossOccurrences(t *testing.T) {
	a := Fingerprint("connect ECONNREFUSED 127.0.0.1:5432")
	b := Fingerprint("connect ECONNREFUSED 10.0.0.7:5433")
	assert.Equal(t, a, b)
}

func TestFingerprintCapsLength(t *testing.T) {
	fp := Fingerprint(strings.Repeat("x", 5000))
	assert.Len(t, fp, fingerprintLimit)
}
