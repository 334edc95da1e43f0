package util

import "testing"

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		kbps int
		want string
	}{
		{2000000, "2Gb/s"},
		{5000, "5Mb/s"},
		{10000, "10Mb/s"},
		{1500, "1500kb/s"},
		{2500000, "2500Mb/s"},
		{0, "0kb/s"},
	}
	for _, tt := range tests {
		if got := FormatSpeed(tt.kbps); got != tt.want {
			t.Errorf("FormatSpeed(%d) = %q, want %q", tt.kbps, got, tt.want)
		}
	}
}

func TestFormatLimit(t *testing.T) {
	zero, negative, limit := 0, -5, 3000
	tests := []struct {
		name string
		kbps *int
		want string
	}{
		{name: "nil", kbps: nil, want: "unlimited"},
		{name: "zero", kbps: &zero, want: "unlimited"},
		{name: "negative", kbps: &negative, want: "unlimited"},
		{name: "set", kbps: &limit, want: "3Mb/s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLimit(tt.kbps); got != tt.want {
				t.Fatalf("FormatLimit() = %q, want %q", got, tt.want)
			}
		})
	}
}
