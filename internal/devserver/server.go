// Package devserver is an in-memory implementation of the port-forwarding
// REST API. It backs the gateway tests and `port-console dev-server`.
package devserver

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/model"
)

// APIPrefix is the route group every endpoint lives under.
const APIPrefix = "/api/v1"

// DefaultSettleAfter is how many reads a rule takes to reach a terminal status.
const DefaultSettleAfter = 3

// FailAddress makes a rule settle on failed instead of successful.
const FailAddress = "fail"

type Options struct {
	Token       string
	SettleAfter int
	// Stuck keeps every rule running forever.
	Stuck  bool
	Seed   Seed
	Logger *zap.Logger
}

// Server holds the fake backend state behind an echo router.
type Server struct {
	mu         sync.Mutex
	opts       Options
	servers    map[int]model.Server
	users      map[int]model.User
	ports      map[int]*model.Port
	nextPortID int

	echo   *echo.Echo
	logger *zap.Logger
}

// New builds a server loaded with opts.Seed.
func New(opts Options) *Server {
	if opts.SettleAfter <= 0 {
		opts.SettleAfter = DefaultSettleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:       opts,
		servers:    map[int]model.Server{},
		users:      map[int]model.User{},
		ports:      map[int]*model.Port{},
		nextPortID: 1,
		logger:     logger,
	}
	s.load(opts.Seed)
	s.echo = s.routes()
	return s
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Echo returns the underlying router for graceful shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) load(seed Seed) {
	for _, u := range seed.Users {
		s.users[u.ID] = model.User{ID: u.ID, Email: u.Email}
	}
	for _, srv := range seed.Servers {
		s.servers[srv.ID] = model.Server{ID: srv.ID, Name: srv.Name, Address: srv.Address}
		for _, sp := range srv.Ports {
			p := &model.Port{
				ID:          s.nextPortID,
				ServerID:    srv.ID,
				Num:         sp.Num,
				ExternalNum: sp.ExternalNum,
				Config:      model.PortConfig{IngressLimit: sp.IngressLimit, EgressLimit: sp.EgressLimit},
				Usage: &model.PortUsage{
					UploadBytes:      int64(sp.UploadBytes),
					DownloadBytes:    int64(sp.DownloadBytes),
					ReadableUpload:   humanize.Bytes(sp.UploadBytes),
					ReadableDownload: humanize.Bytes(sp.DownloadBytes),
				},
				AllowedUsers: []model.PortUserRef{},
			}
			for _, uid := range sp.Users {
				if u, ok := s.users[uid]; ok {
					p.AllowedUsers = append(p.AllowedUsers, model.PortUserRef{UserID: uid, User: u})
				}
			}
			s.ports[p.ID] = p
			s.nextPortID++
		}
	}
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.String("request_id", c.Request().Header.Get("X-Request-ID")),
			)
			return nil
		},
	}))

	api := e.Group(APIPrefix)
	if s.opts.Token != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == s.opts.Token, nil
			},
			ErrorHandler: func(err error, c echo.Context) error {
				return fail(c, http.StatusUnauthorized, "invalid or missing token", nil)
			},
		}))
	}

	api.GET("/servers", s.listServers)
	api.GET("/servers/:sid", s.getServer)
	api.GET("/servers/:sid/ports", s.listPorts)
	api.POST("/servers/:sid/ports", s.createPort)
	api.GET("/servers/:sid/ports/:pid", s.getPort)
	api.PUT("/servers/:sid/ports/:pid", s.updatePort)
	api.DELETE("/servers/:sid/ports/:pid", s.deletePort)
	api.GET("/servers/:sid/ports/:pid/users", s.listPortUsers)
	api.POST("/servers/:sid/ports/:pid/users", s.addPortUser)
	api.DELETE("/servers/:sid/ports/:pid/users/:uid", s.removePortUser)
	api.GET("/servers/:sid/ports/:pid/forward_rule", s.getForwardRule)
	api.POST("/servers/:sid/ports/:pid/forward_rule", s.createForwardRule)
	api.PUT("/servers/:sid/ports/:pid/forward_rule", s.updateForwardRule)
	api.DELETE("/servers/:sid/ports/:pid/forward_rule", s.deleteForwardRule)
	return e
}

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"field_errors,omitempty"`
}

func fail(c echo.Context, status int, msg string, fields map[string]string) error {
	return c.JSON(status, errorResponse{Message: msg, Fields: fields})
}

func failValidation(c echo.Context, err error) error {
	var f *gateway.Failure
	if errors.As(err, &f) {
		return fail(c, http.StatusBadRequest, f.Message, f.Fields)
	}
	return fail(c, http.StatusBadRequest, err.Error(), nil)
}

func intParam(c echo.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	return v, err == nil && v > 0
}

func (s *Server) listServers(c echo.Context) error {
	s.mu.Lock()
	out := make([]model.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getServer(c echo.Context) error {
	sid, ok := intParam(c, "sid")
	if !ok {
		return fail(c, http.StatusNotFound, "server not found", nil)
	}
	s.mu.Lock()
	srv, ok := s.servers[sid]
	s.mu.Unlock()
	if !ok {
		return fail(c, http.StatusNotFound, "server not found", nil)
	}
	return c.JSON(http.StatusOK, srv)
}

func (s *Server) listPorts(c echo.Context) error {
	sid, ok := intParam(c, "sid")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.servers[sid]; !ok || !exists {
		return fail(c, http.StatusNotFound, "server not found", nil)
	}
	out := []model.Port{}
	for _, p := range s.ports {
		if p.ServerID != sid {
			continue
		}
		s.advance(p)
		out = append(out, clonePort(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

// lookupPort resolves :sid/:pid. Callers hold s.mu.
func (s *Server) lookupPort(c echo.Context) (*model.Port, error) {
	sid, ok1 := intParam(c, "sid")
	pid, ok2 := intParam(c, "pid")
	if !ok1 || !ok2 {
		return nil, fail(c, http.StatusNotFound, "port not found", nil)
	}
	if _, ok := s.servers[sid]; !ok {
		return nil, fail(c, http.StatusNotFound, "server not found", nil)
	}
	p, ok := s.ports[pid]
	if !ok || p.ServerID != sid {
		return nil, fail(c, http.StatusNotFound, "port not found", nil)
	}
	return p, nil
}

func (s *Server) getPort(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	s.advance(p)
	return c.JSON(http.StatusOK, clonePort(p))
}

func (s *Server) numTaken(serverID, num, exceptID int) bool {
	for _, p := range s.ports {
		if p.ServerID == serverID && p.Num == num && p.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Server) createPort(c echo.Context) error {
	sid, ok := intParam(c, "sid")
	var in model.PortInput
	if err := c.Bind(&in); err != nil {
		return fail(c, http.StatusBadRequest, "malformed body", nil)
	}
	if err := gateway.ValidatePort(in); err != nil {
		return failValidation(c, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.servers[sid]; !ok || !exists {
		return fail(c, http.StatusNotFound, "server not found", nil)
	}
	if s.numTaken(sid, in.Num, 0) {
		return fail(c, http.StatusConflict, "port number already in use on this server",
			map[string]string{"num": "must be unique within the server"})
	}
	p := &model.Port{
		ID:           s.nextPortID,
		ServerID:     sid,
		Num:          in.Num,
		ExternalNum:  in.ExternalNum,
		Config:       in.Config,
		Usage:        &model.PortUsage{ReadableUpload: humanize.Bytes(0), ReadableDownload: humanize.Bytes(0)},
		AllowedUsers: []model.PortUserRef{},
	}
	s.nextPortID++
	s.ports[p.ID] = p
	return c.JSON(http.StatusCreated, clonePort(p))
}

func (s *Server) updatePort(c echo.Context) error {
	var in model.PortInput
	if err := c.Bind(&in); err != nil {
		return fail(c, http.StatusBadRequest, "malformed body", nil)
	}
	if err := gateway.ValidatePort(in); err != nil {
		return failValidation(c, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	if s.numTaken(p.ServerID, in.Num, p.ID) {
		return fail(c, http.StatusConflict, "port number already in use on this server",
			map[string]string{"num": "must be unique within the server"})
	}
	p.Num = in.Num
	p.ExternalNum = in.ExternalNum
	p.Config = in.Config
	return c.JSON(http.StatusOK, clonePort(p))
}

func (s *Server) deletePort(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	delete(s.ports, p.ID)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listPortUsers(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	return c.JSON(http.StatusOK, append([]model.PortUserRef{}, p.AllowedUsers...))
}

func (s *Server) addPortUser(c echo.Context) error {
	var in model.PortUserInput
	if err := c.Bind(&in); err != nil {
		return fail(c, http.StatusBadRequest, "malformed body", nil)
	}
	if err := gateway.ValidatePortUser(in); err != nil {
		return failValidation(c, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	u, ok := s.users[in.UserID]
	if !ok {
		return fail(c, http.StatusNotFound, "user not found", nil)
	}
	ref := model.PortUserRef{UserID: u.ID, User: u}
	for _, existing := range p.AllowedUsers {
		if existing.UserID == u.ID {
			return c.JSON(http.StatusOK, ref)
		}
	}
	p.AllowedUsers = append(p.AllowedUsers, ref)
	return c.JSON(http.StatusCreated, ref)
}

func (s *Server) removePortUser(c echo.Context) error {
	uid, ok := intParam(c, "uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	if ok {
		for i, ref := range p.AllowedUsers {
			if ref.UserID == uid {
				p.AllowedUsers = append(p.AllowedUsers[:i:i], p.AllowedUsers[i+1:]...)
				return c.NoContent(http.StatusNoContent)
			}
		}
	}
	return fail(c, http.StatusNotFound, "user is not a member of this port", nil)
}

func (s *Server) getForwardRule(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	if p.ForwardRule == nil {
		return fail(c, http.StatusNotFound, "port has no forward rule", nil)
	}
	s.advance(p)
	return c.JSON(http.StatusOK, *p.ForwardRule)
}

func (s *Server) createForwardRule(c echo.Context) error {
	return s.writeForwardRule(c, true)
}

func (s *Server) updateForwardRule(c echo.Context) error {
	return s.writeForwardRule(c, false)
}

func (s *Server) writeForwardRule(c echo.Context, create bool) error {
	var in model.ForwardRuleInput
	if err := c.Bind(&in); err != nil {
		return fail(c, http.StatusBadRequest, "malformed body", nil)
	}
	if err := gateway.ValidateForwardRule(in); err != nil {
		return failValidation(c, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	switch {
	case create && p.ForwardRule != nil:
		return fail(c, http.StatusConflict, "port already has a forward rule", nil)
	case !create && p.ForwardRule == nil:
		return fail(c, http.StatusNotFound, "port has no forward rule", nil)
	}
	cfg := in.Config
	if !in.IsIPTables() {
		cfg = model.ForwardRuleConfig{}
	}
	p.ForwardRule = &model.ForwardRule{Method: in.Method, Config: cfg, Status: model.RulePending}
	status := http.StatusOK
	if create {
		status = http.StatusCreated
	}
	return c.JSON(status, *p.ForwardRule)
}

func (s *Server) deleteForwardRule(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupPort(c)
	if p == nil {
		return err
	}
	if p.ForwardRule == nil {
		return fail(c, http.StatusNotFound, "port has no forward rule", nil)
	}
	p.ForwardRule = nil
	return c.NoContent(http.StatusNoContent)
}

// advance moves a non-terminal rule one step along
// pending -> starting -> running -> successful|failed. Callers hold s.mu.
func (s *Server) advance(p *model.Port) {
	r := p.ForwardRule
	if r == nil || r.Status == model.RuleSuccessful || r.Status == model.RuleFailed {
		return
	}
	r.Count++
	switch {
	case r.Count == 1:
		r.Status = model.RuleStarting
	case s.opts.Stuck || r.Count < s.opts.SettleAfter:
		r.Status = model.RuleRunning
	case strings.EqualFold(r.Config.RemoteAddress, FailAddress):
		r.Status = model.RuleFailed
	default:
		r.Status = model.RuleSuccessful
	}
}

func clonePort(p *model.Port) model.Port {
	out := *p
	out.AllowedUsers = append([]model.PortUserRef{}, p.AllowedUsers...)
	if p.ForwardRule != nil {
		r := *p.ForwardRule
		out.ForwardRule = &r
	}
	if p.Usage != nil {
		u := *p.Usage
		out.Usage = &u
	}
	return out
}
