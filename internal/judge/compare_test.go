package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputsEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		received string
		want     bool
	}{
		{"identical", "1\n2\n", "1\n2\n", true},
		{"missing trailing newline forgiven", "1\n2\n", "1\n2", true},
		{"crlf forgiven", "1\n2\n", "1\r\n2\r\n", true},
		{"crlf against bare cr content", "a\r\n", "a\n", true},
		{"interior whitespace differs", "1 2\n", "1  2\n", false},
		{"different content", "1\n2\n", "1\n3\n", false},
		{"extra line", "1\n", "1\n\n", false},
		{"empty vs empty", "", "", true},
		{"empty vs newline", "", "\n", false},
		{"cr only trimmed once", "a\r\r\n", "a\r\n", false},
		{"case sensitive", "Yes\n", "yes\n", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, OutputsEqual([]byte(tc.expected), []byte(tc.received)))
		})
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zstd at all"))
	assert.Error(t, err)
}
