package utils

import (
	"encoding/hex"
	"testing"
)

func TestGenerateAccessCode(t *testing.T) {
	code, err := GenerateAccessCode()
	if err != nil {
		t.Fatalf("GenerateAccessCode() error = %v", err)
	}
	if len(code) != 16 {
		t.Fatalf("len(code) = %d, want 16", len(code))
	}
	if _, err := hex.DecodeString(code); err != nil {
		t.Fatalf("code %q is not hex: %v", code, err)
	}

	other, err := GenerateAccessCode()
	if err != nil {
		t.Fatalf("GenerateAccessCode() error = %v", err)
	}
	if other == code {
		t.Fatalf("two access codes were identical: %s", code)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		region  string
		want    string
		wantErr bool
	}{
		{name: "already e164", raw: "+12125551234", region: "US", want: "+12125551234"},
		{name: "national format", raw: "(212) 555-1234", region: "US", want: "+12125551234"},
		{name: "dashes", raw: "212-555-1234", region: "US", want: "+12125551234"},
		{name: "whatsapp prefix", raw: "whatsapp:+919876543210", region: "US", want: "+919876543210"},
		{name: "uk number", raw: "+44 20 7123 4567", region: "US", want: "+442071234567"},
		{name: "lowercase region", raw: "020 7123 4567", region: "gb", want: "+442071234567"},
		{name: "empty", raw: "  ", region: "US", wantErr: true},
		{name: "garbage", raw: "not a number", region: "US", wantErr: true},
		{name: "too short", raw: "12", region: "US", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.region)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizePhone(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
