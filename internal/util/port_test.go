package util

import "testing"

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "80", want: 80},
		{input: " 65535 ", want: 65535},
		{input: "1", want: 1},
		{input: "0", wantErr: true},
		{input: "65536", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "http", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePort(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePort(%q) expected error, got %d", tt.input, got)
			} else if err.Error() != "port must be 1-65535" {
				t.Errorf("ParsePort(%q) error = %q", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePort(%q) = %d, %v; want %d", tt.input, got, err, tt.want)
		}
	}
}
