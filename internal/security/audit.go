// Package security audits the local credential and file posture of the console.
package security

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/gateway"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// TokenExpiryWarning is how early an expiring token is reported.
const TokenExpiryWarning = 24 * time.Hour

// RunLocalAudit inspects the API credential in cfg and the permissions of the
// files under the config directory.
func RunLocalAudit(cfg appconfig.Config, now time.Time) AuditReport {
	var findings []Finding
	findings = append(findings, tokenFindings(cfg, now)...)

	if cfgDir, err := appconfig.ConfigDir(); err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		for _, name := range []string{"config.yaml", "cache.json", "events.jsonl", "history.json"} {
			checkPathPerm(&findings, filepath.Join(cfgDir, name), 0o600, true)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return SeverityRank(findings[i].Severity) > SeverityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}
}

func tokenFindings(cfg appconfig.Config, now time.Time) []Finding {
	var findings []Finding
	if cfg.API.Token == "" {
		return append(findings, Finding{
			Severity:       SeverityHigh,
			Target:         "api.token",
			Message:        "no API token configured",
			Recommendation: "set api.token in config.yaml or export " + appconfig.EnvPrefix + "_API_TOKEN",
		})
	}
	if exp, ok := gateway.TokenExpiry(cfg.API.Token); ok {
		switch {
		case !exp.After(now):
			findings = append(findings, Finding{
				Severity:       SeverityHigh,
				Target:         "api.token",
				Message:        "API token expired at " + exp.UTC().Format(time.RFC3339),
				Recommendation: "obtain a new token; requests will fail with an auth error",
			})
		case exp.Sub(now) < TokenExpiryWarning:
			findings = append(findings, Finding{
				Severity:       SeverityMedium,
				Target:         "api.token",
				Message:        "API token expires at " + exp.UTC().Format(time.RFC3339),
				Recommendation: "renew the token before it expires",
			})
		}
	}
	if u, err := url.Parse(cfg.API.URL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		findings = append(findings, Finding{
			Severity:       SeverityHigh,
			Target:         "api.url",
			Message:        "API token is sent over plain http to " + u.Host,
			Recommendation: "use an https api.url",
		})
	}
	if os.Getenv(appconfig.EnvPrefix+"_API_TOKEN") == "" {
		findings = append(findings, Finding{
			Severity:       SeverityLow,
			Target:         "config.yaml",
			Message:        "API token is stored in the config file",
			Recommendation: "prefer " + appconfig.EnvPrefix + "_API_TOKEN from a secret manager",
		})
	}
	return findings
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// SeverityRank orders severities, highest first when sorted descending.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
