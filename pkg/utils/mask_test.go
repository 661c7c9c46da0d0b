package utils

import "testing"

func TestMaskSensitiveString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"12345678", "****"},
		{"sk-abcdef123456", "sk-a****3456"},
	}
	for _, tt := range tests {
		if got := MaskSensitiveString(tt.in); got != tt.want {
			t.Fatalf("MaskSensitiveString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
