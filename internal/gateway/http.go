package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/treykane/port-console/internal/model"
)

const maxResponseBytes = 4 << 20

// Options configures an HTTP gateway.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTP implements Gateway against the REST API.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

var _ Gateway = (*HTTP)(nil)

// NewHTTP validates opts and returns a ready gateway.
func NewHTTP(opts Options) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		baseURL: base,
		token:   strings.TrimSpace(opts.Token),
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (g *HTTP) ListServers(ctx context.Context) ([]model.Server, error) {
	var out []model.Server
	err := g.do(ctx, "list servers", http.MethodGet, "/servers", nil, &out)
	return out, err
}

func (g *HTTP) GetServer(ctx context.Context, serverID int) (model.Server, error) {
	var out model.Server
	err := g.do(ctx, "get server", http.MethodGet, fmt.Sprintf("/servers/%d", serverID), nil, &out)
	return out, err
}

func (g *HTTP) ListPorts(ctx context.Context, serverID int) ([]model.Port, error) {
	var out []model.Port
	err := g.do(ctx, "list ports", http.MethodGet, portsPath(serverID), nil, &out)
	return out, err
}

func (g *HTTP) GetPort(ctx context.Context, serverID, portID int) (model.Port, error) {
	var out model.Port
	err := g.do(ctx, "get port", http.MethodGet, portPath(serverID, portID), nil, &out)
	return out, err
}

func (g *HTTP) CreatePort(ctx context.Context, serverID int, in model.PortInput) (model.Port, error) {
	var out model.Port
	err := g.do(ctx, "create port", http.MethodPost, portsPath(serverID), in, &out)
	return out, err
}

func (g *HTTP) UpdatePort(ctx context.Context, serverID, portID int, in model.PortInput) (model.Port, error) {
	var out model.Port
	err := g.do(ctx, "update port", http.MethodPut, portPath(serverID, portID), in, &out)
	return out, err
}

func (g *HTTP) DeletePort(ctx context.Context, serverID, portID int) error {
	return g.do(ctx, "delete port", http.MethodDelete, portPath(serverID, portID), nil, nil)
}

func (g *HTTP) ListPortUsers(ctx context.Context, serverID, portID int) ([]model.PortUserRef, error) {
	var out []model.PortUserRef
	err := g.do(ctx, "list port users", http.MethodGet, portPath(serverID, portID)+"/users", nil, &out)
	return out, err
}

func (g *HTTP) AddPortUser(ctx context.Context, serverID, portID int, in model.PortUserInput) (model.PortUserRef, error) {
	var out model.PortUserRef
	err := g.do(ctx, "add port user", http.MethodPost, portPath(serverID, portID)+"/users", in, &out)
	return out, err
}

func (g *HTTP) RemovePortUser(ctx context.Context, serverID, portID, userID int) error {
	path := fmt.Sprintf("%s/users/%d", portPath(serverID, portID), userID)
	return g.do(ctx, "remove port user", http.MethodDelete, path, nil, nil)
}

func (g *HTTP) GetForwardRule(ctx context.Context, serverID, portID int) (model.ForwardRule, error) {
	var out model.ForwardRule
	err := g.do(ctx, "get forward rule", http.MethodGet, rulePath(serverID, portID), nil, &out)
	return out, err
}

func (g *HTTP) CreateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	var out model.ForwardRule
	err := g.do(ctx, "create forward rule", http.MethodPost, rulePath(serverID, portID), in, &out)
	return out, err
}

func (g *HTTP) UpdateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	var out model.ForwardRule
	err := g.do(ctx, "update forward rule", http.MethodPut, rulePath(serverID, portID), in, &out)
	return out, err
}

func (g *HTTP) DeleteForwardRule(ctx context.Context, serverID, portID int) error {
	return g.do(ctx, "delete forward rule", http.MethodDelete, rulePath(serverID, portID), nil, nil)
}

func portsPath(serverID int) string { return fmt.Sprintf("/servers/%d/ports", serverID) }

func portPath(serverID, portID int) string {
	return fmt.Sprintf("/servers/%d/ports/%d", serverID, portID)
}

func rulePath(serverID, portID int) string { return portPath(serverID, portID) + "/forward_rule" }

func (g *HTTP) do(ctx context.Context, op, method, path string, body, out any) error {
	if exp, ok := TokenExpiry(g.token); ok && !exp.After(g.now()) {
		return authFailure(op, "token expired at "+exp.UTC().Format(time.RFC3339))
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return transportFailure(op, err)
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return ValidationFailure(op, "encode payload: "+err.Error(), nil)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return transportFailure(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("request failed",
			zap.String("op", op),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return transportFailure(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportFailure(op, err)
	}
	g.logger.Debug("request completed",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, fields := decodeErrorBody(data)
		f := failureFromStatus(op, resp.StatusCode, msg)
		f.Fields = fields
		return f
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return transportFailure(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type errorBody struct {
	Message string            `json:"message"`
	Detail  json.RawMessage   `json:"detail"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"field_errors"`
}

func decodeErrorBody(data []byte) (string, map[string]string) {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	msg := eb.Message
	if msg == "" && len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			msg = s
		} else {
			msg = string(eb.Detail)
		}
	}
	if msg == "" {
		msg = eb.Error
	}
	return msg, eb.Fields
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens and tokens without exp report false.
func TokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsRetryable reports whether an operator retry might succeed without changes.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
