package app

import "testing"

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"t-123", "t-123"},
		{"0x123456789012", "0x123456789012"},
		{"0x1234567890abcdef1234", "0x1234…ef1234"},
	}

	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
