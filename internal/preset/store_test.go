package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/treykane/port-console/internal/model"
)

func webRule() model.ForwardRuleInput {
	return model.ForwardRuleInput{
		Method: model.MethodIPTables,
		Config: model.ForwardRuleConfig{Type: "tcp", RemoteAddress: "10.0.0.5", RemotePort: 80},
	}
}

func TestSaveListGetDelete(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if err := Save("web", webRule()); err != nil {
		t.Fatalf("save: %v", err)
	}
	dns := webRule()
	dns.Config = model.ForwardRuleConfig{Type: "udp", RemoteAddress: "10.0.0.53", RemotePort: 53}
	if err := Save("dns", dns); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 2 || all[0].Name != "dns" || all[1].Name != "web" {
		t.Fatalf("unexpected presets: %+v", all)
	}

	got, err := Get("web")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Rule != webRule() {
		t.Fatalf("unexpected rule: %+v", got.Rule)
	}

	st, err := os.Stat(filepath.Join(xdg, "port-console", "presets.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 presets file, got %#o", st.Mode().Perm())
	}

	if err := Delete("web"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := Get("web"); err == nil {
		t.Fatal("expected not found after delete")
	}
	if err := Delete("web"); err == nil {
		t.Fatal("expected error deleting a missing preset")
	}
}

func TestSaveValidatesInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Save("", webRule()); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := Save("two words", webRule()); err == nil {
		t.Fatal("expected error for name with spaces")
	}
	bad := webRule()
	bad.Config.RemotePort = 0
	if err := Save("x", bad); err == nil {
		t.Fatal("expected error for invalid rule")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "port-console")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "presets.yaml"), []byte("presets: [oops\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAll(); err == nil {
		t.Fatal("expected parse error")
	}
}
