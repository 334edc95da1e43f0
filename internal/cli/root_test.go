package cli

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/devserver"
	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/history"
)

func TestServersTextOutput(t *testing.T) {
	setupAPIForCLI(t)

	got, err := runCLI(t, "servers")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(got, "edge-a") || !strings.Contains(got, "edge-b") {
		t.Fatalf("expected both servers, got: %s", got)
	}
}

func TestServerJSONOutputRecordsHistory(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "server", "1", "--json")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var view struct {
		Server struct {
			Name string `json:"name"`
		} `json:"server"`
		Ports []PortView `json:"ports"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	if view.Server.Name != "edge-a" || len(view.Ports) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	for _, p := range view.Ports {
		if p.ID == 1 && (p.DisplayNum != 18080 || p.Egress != "10Mb/s" || p.Ingress != "unlimited") {
			t.Fatalf("unexpected projection for port 1: %+v", p)
		}
		if p.Rule == nil && (!p.Editable || p.RuleTarget != "no forward rule") {
			t.Fatalf("port without rule must be editable: %+v", p)
		}
	}

	last, err := history.LastOpened()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := last[1]; !ok {
		t.Fatalf("expected server 1 in history, got %v", last)
	}
}

func TestRuleSetRefusedWhileTransitioning(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "rule", "set", "1", "2", "--address", "10.0.0.5", "--port", "80")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if !strings.Contains(out, "[tcp] 10.0.0.5:80") {
		t.Fatalf("unexpected output: %s", out)
	}

	// The next read moves the rule to starting.
	_, err = runCLI(t, "rule", "set", "1", "2", "--address", "10.0.0.6", "--port", "81")
	if err == nil || !strings.Contains(err.Error(), "transitioning") {
		t.Fatalf("expected busy refusal, got %v", err)
	}

	list, err := events.NewStore().Read(events.Query{PortID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].EventType != events.RuleCreated || list[1].EventType != events.RuleRefused {
		t.Fatalf("unexpected journal: %+v", list)
	}
}

func TestRuleSetValidationFailure(t *testing.T) {
	setupAPIForCLI(t)

	_, err := runCLI(t, "rule", "set", "1", "2", "--address", "10.0.0.5", "--port", "0")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "remote_port") {
		t.Fatalf("expected field in message, got %v", err)
	}
}

func TestRuleShowWithoutRule(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "rule", "show", "1", "2")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != "no forward rule" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPortLifecycle(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "port", "create", "2", "--num", "7000", "--external", "17000", "--ingress", "500")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "num 17000") {
		t.Fatalf("unexpected output: %s", out)
	}

	_, err = runCLI(t, "port", "create", "2", "--num", "7000")
	if err == nil {
		t.Fatal("expected conflict on duplicate num")
	}

	_, err = runCLI(t, "port", "create", "2", "--num", "70000")
	if err == nil {
		t.Fatal("expected validation error for out-of-range num")
	}

	if _, err := runCLI(t, "port", "delete", "1", "2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := runCLI(t, "rule", "show", "1", "2"); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestUsersAddAndList(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "users", "add", "1", "2", "2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "bob@example.com") {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = runCLI(t, "users", "list", "1", "2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "1 user on this port: bob@example.com") {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := runCLI(t, "users", "remove", "1", "2", "2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, err = runCLI(t, "users", "list", "1", "2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "no users on this port") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRuleSetFromPreset(t *testing.T) {
	setupAPIForCLI(t)

	if _, err := runCLI(t, "preset", "save", "web", "--address", "10.0.0.5", "--port", "80"); err != nil {
		t.Fatalf("save preset: %v", err)
	}
	if _, err := runCLI(t, "preset", "save", "bad", "--address", "10.0.0.5"); err == nil {
		t.Fatal("expected invalid preset to be rejected")
	}

	out, err := runCLI(t, "preset", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "web") || !strings.Contains(out, "[tcp] 10.0.0.5:80") {
		t.Fatalf("unexpected preset list: %s", out)
	}

	out, err = runCLI(t, "rule", "set", "2", "3", "--preset", "web", "--port", "8443")
	if err != nil {
		t.Fatalf("rule set: %v", err)
	}
	if !strings.Contains(out, "[tcp] 10.0.0.5:8443") {
		t.Fatalf("explicit flag must override preset: %s", out)
	}

	if _, err := runCLI(t, "rule", "set", "2", "3", "--preset", "missing"); err == nil {
		t.Fatal("expected unknown preset error")
	}
}

func TestAuthFailureIsReadable(t *testing.T) {
	setupAPIForCLI(t)
	t.Setenv("PORTCONSOLE_API_TOKEN", "wrong")

	_, err := runCLI(t, "servers")
	if err == nil {
		t.Fatal("expected auth failure")
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestInvalidIDs(t *testing.T) {
	setupAPIForCLI(t)

	for _, args := range [][]string{
		{"server", "abc"},
		{"server", "0"},
		{"rule", "show", "1", "x1"},
	} {
		if _, err := runCLI(t, args...); err == nil || !strings.Contains(err.Error(), "invalid") {
			t.Fatalf("%v: expected invalid id error, got %v", args, err)
		}
	}
}

func TestEventsEmptyAndJSON(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "events")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No events recorded.") {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := runCLI(t, "port", "create", "1", "--num", "7001"); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "events", "--json", "--type", events.PortCreated)
	if err != nil {
		t.Fatal(err)
	}
	var list []events.Event
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
	if len(list) != 1 || list[0].ServerID != 1 {
		t.Fatalf("unexpected events: %+v", list)
	}
}

func TestCacheClear(t *testing.T) {
	setupAPIForCLI(t)

	if _, err := runCLI(t, "servers"); err != nil {
		t.Fatal(err)
	}
	path, err := appconfig.CacheFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file: %v", err)
	}
	if _, err := runCLI(t, "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected cache removed, got %v", err)
	}
}

func TestDoctorOfflineJSON(t *testing.T) {
	setupAPIForCLI(t)

	out, err := runCLI(t, "doctor", "--offline", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Issues []map[string]any `json:"issues"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("json parse: %v; output=%s", err, out)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "port-console dev") {
		t.Fatalf("unexpected version output: %s", out)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return captureStdout(func() error { return cmd.Execute() })
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	b, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", readErr
	}
	return string(b), runErr
}

// setupAPIForCLI points a fresh config directory at an in-process dev server.
func setupAPIForCLI(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	srv := httptest.NewServer(devserver.New(devserver.Options{Token: "cli-token", Seed: devserver.DefaultSeed()}).Handler())
	t.Cleanup(srv.Close)

	cfg := appconfig.Default()
	cfg.API.URL = srv.URL + devserver.APIPrefix
	cfg.API.Token = "cli-token"
	cfg.Log.Level = "error"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
}
