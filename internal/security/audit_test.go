package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/treykane/port-console/internal/appconfig"
)

func hasFinding(r AuditReport, target string, sev Severity) bool {
	for _, f := range r.Findings {
		if f.Target == target && f.Severity == sev {
			return true
		}
	}
	return false
}

func TestRunLocalAudit_MissingToken(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	report := RunLocalAudit(appconfig.Default(), time.Now())
	if !report.HasHigh() || !hasFinding(report, "api.token", SeverityHigh) {
		t.Fatalf("expected high finding for missing token, got %+v", report.Findings)
	}
}

func TestRunLocalAudit_ExpiredJWT(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := appconfig.Default()
	cfg.API.Token = signed

	report := RunLocalAudit(cfg, time.Now())
	if !hasFinding(report, "api.token", SeverityHigh) {
		t.Fatalf("expected expired token finding, got %+v", report.Findings)
	}
	if report.Findings[0].Severity != SeverityHigh {
		t.Fatal("findings must be sorted by severity")
	}
}

func TestRunLocalAudit_PlainHTTPRemote(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PORTCONSOLE_API_TOKEN", "from-env")
	cfg := appconfig.Default()
	cfg.API.Token = "opaque"
	cfg.API.URL = "http://api.example.com/api/v1"

	report := RunLocalAudit(cfg, time.Now())
	if !hasFinding(report, "api.url", SeverityHigh) {
		t.Fatalf("expected cleartext finding, got %+v", report.Findings)
	}
	if hasFinding(report, "config.yaml", SeverityLow) {
		t.Fatal("token from the environment must not be reported as stored in config")
	}

	cfg.API.URL = "http://127.0.0.1:8000/api/v1"
	if hasFinding(RunLocalAudit(cfg, time.Now()), "api.url", SeverityHigh) {
		t.Fatal("loopback http is allowed")
	}
}

func TestRunLocalAudit_FindsLoosePermissions(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := appconfig.ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	cachePath := filepath.Join(dir, "cache.json")
	if err := os.WriteFile(cachePath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(cachePath, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := appconfig.Default()
	cfg.API.Token = "opaque"
	report := RunLocalAudit(cfg, time.Now())
	if !hasFinding(report, cachePath, SeverityMedium) || !hasFinding(report, dir, SeverityMedium) {
		t.Fatalf("expected permission findings, got %+v", report.Findings)
	}
}
