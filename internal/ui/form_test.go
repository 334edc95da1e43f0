package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/treykane/port-console/internal/model"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "ip and port",
			input:    "10.0.0.5:80",
			wantHost: "10.0.0.5",
			wantPort: 80,
		},
		{
			name:     "hostname and port",
			input:    "backend.internal:8443",
			wantHost: "backend.internal",
			wantPort: 8443,
		},
		{
			name:     "bracketed ipv6",
			input:    "[2001:db8::1]:53",
			wantHost: "2001:db8::1",
			wantPort: 53,
		},
		{
			name:     "with leading/trailing spaces",
			input:    "  10.0.0.5:80  ",
			wantHost: "10.0.0.5",
			wantPort: 80,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "missing port",
			input:   "10.0.0.5",
			wantErr: true,
		},
		{
			name:    "port out of range",
			input:   "10.0.0.5:70000",
			wantErr: true,
		},
		{
			name:    "non-numeric port",
			input:   "10.0.0.5:http",
			wantErr: true,
		},
		{
			name:    "empty host",
			input:   ":80",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := parseTarget(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.wantHost {
				t.Errorf("host = %q, want %q", host, tt.wantHost)
			}
			if port != tt.wantPort {
				t.Errorf("port = %d, want %d", port, tt.wantPort)
			}
		})
	}
}

func typeInto(f *editForm, s string) {
	for _, r := range s {
		f.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestRuleFormPrefillsExistingRule(t *testing.T) {
	existing := &model.ForwardRule{
		Method: model.MethodIPTables,
		Config: model.ForwardRuleConfig{Type: "udp", RemoteAddress: "10.0.0.9", RemotePort: 53},
		Status: model.RuleSuccessful,
	}
	f := newRuleForm(1, 2, existing)
	if f.create {
		t.Fatal("form over an existing rule must update")
	}
	res, _ := f.update(tea.KeyMsg{Type: tea.KeyEnter})
	if res == nil {
		t.Fatalf("expected result, got error %q", f.errMsg)
	}
	want := model.ForwardRuleInput{
		Method: model.MethodIPTables,
		Config: model.ForwardRuleConfig{Type: "udp", RemoteAddress: "10.0.0.9", RemotePort: 53},
	}
	if res.rule != want || res.serverID != 1 || res.portID != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRuleFormAcceptsHostPortInAddress(t *testing.T) {
	f := newRuleForm(1, 2, nil)
	if !f.create {
		t.Fatal("form over an empty port must create")
	}
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(f, "10.0.0.5:8080")

	res, _ := f.update(tea.KeyMsg{Type: tea.KeyEnter})
	if res == nil {
		t.Fatalf("expected result, got error %q", f.errMsg)
	}
	if res.rule.Config.Type != "tcp" || res.rule.Config.RemoteAddress != "10.0.0.5" || res.rule.Config.RemotePort != 8080 {
		t.Fatalf("unexpected rule: %+v", res.rule)
	}
}

func TestRuleFormRejectsBadPort(t *testing.T) {
	f := newRuleForm(1, 2, nil)
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(f, "10.0.0.5")
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(f, "99999")

	res, _ := f.update(tea.KeyMsg{Type: tea.KeyEnter})
	if res != nil {
		t.Fatalf("expected validation error, got %+v", res)
	}
	if f.errMsg != "port must be 1-65535" {
		t.Fatalf("unexpected error message: %q", f.errMsg)
	}

	// Typing clears the error.
	f.update(tea.KeyMsg{Type: tea.KeyBackspace})
	if f.errMsg != "" {
		t.Fatalf("expected error cleared, got %q", f.errMsg)
	}
}

func TestPortFormBuildsOptionalFields(t *testing.T) {
	f := newPortForm(3)
	typeInto(f, "8080")
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	f.update(tea.KeyMsg{Type: tea.KeyTab})
	typeInto(f, "500")

	res, _ := f.update(tea.KeyMsg{Type: tea.KeyEnter})
	if res == nil {
		t.Fatalf("expected result, got error %q", f.errMsg)
	}
	if res.kind != formPort || res.serverID != 3 || res.port.Num != 8080 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.port.ExternalNum != nil || res.port.Config.IngressLimit != nil {
		t.Fatalf("empty fields must stay unset: %+v", res.port)
	}
	if res.port.Config.EgressLimit == nil || *res.port.Config.EgressLimit != 500 {
		t.Fatalf("unexpected egress: %+v", res.port.Config)
	}
}

func TestPortFormShiftTabWraps(t *testing.T) {
	f := newPortForm(1)
	f.update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if f.focusIdx != portFieldEgress {
		t.Fatalf("expected focus to wrap to last field, got %d", f.focusIdx)
	}
}
