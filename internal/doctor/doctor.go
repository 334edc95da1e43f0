package doctor

import (
	"context"
	"errors"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/security"
	"github.com/treykane/port-console/internal/store"
	"github.com/treykane/port-console/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local diagnostics and, when gw is non-nil, probes the API.
func Run(ctx context.Context, cfg appconfig.Config, gw gateway.Gateway) (Report, error) {
	issues := []Issue{}

	u, err := url.Parse(cfg.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "api-url",
			Target:         "api.url",
			Message:        "API url is not an absolute URL: " + cfg.API.URL,
			Recommendation: "set api.url to e.g. " + util.DefaultAPIURL,
		})
		gw = nil
	}

	if cfg.Cache.Enabled {
		issues = append(issues, cacheIssues()...)
	}

	if gw != nil {
		issues = append(issues, reachabilityIssues(ctx, gw)...)
	}

	for _, f := range security.RunLocalAudit(cfg, time.Now()).Findings {
		sev := SeverityLow
		if f.Severity == security.SeverityMedium {
			sev = SeverityMedium
		}
		if f.Severity == security.SeverityHigh {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{
			Severity:       sev,
			Check:          "security-audit",
			Target:         f.Target,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func cacheIssues() []Issue {
	path, err := appconfig.CacheFilePath()
	if err != nil {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if _, err := store.Decode(b); err != nil {
		return []Issue{{
			Severity:       SeverityMedium,
			Check:          "cache-snapshot",
			Target:         path,
			Message:        "cached state cannot be decoded and will be ignored",
			Recommendation: "run `port-console cache clear`",
		}}
	}
	return nil
}

func reachabilityIssues(ctx context.Context, gw gateway.Gateway) []Issue {
	ctx, cancel := context.WithTimeout(ctx, util.ReachabilityTimeout)
	defer cancel()
	_, err := gw.ListServers(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrAuth):
		return []Issue{{
			Severity:       SeverityHigh,
			Check:          "api-auth",
			Target:         "api.token",
			Message:        gateway.UserMessage(err, true),
			Recommendation: "refresh the API token",
		}}
	default:
		return []Issue{{
			Severity:       SeverityHigh,
			Check:          "api-reachability",
			Target:         "api.url",
			Message:        gateway.UserMessage(err, true),
			Recommendation: "check api.url and network access to the API",
		}}
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
