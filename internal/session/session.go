// Package session wires configuration, logging, the entity store and the
// API coordinator into one handle shared by the CLI and the TUI.
package session

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/coordinator"
	"github.com/treykane/port-console/internal/dispatch"
	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/logging"
	"github.com/treykane/port-console/internal/store"
)

type Options struct {
	// Config overrides loading config.yaml.
	Config *appconfig.Config
	// LogToFile sends logs to the log file instead of stderr; the TUI owns the terminal.
	LogToFile bool
	// Logger overrides the logger built from config.
	Logger *zap.Logger
}

type Session struct {
	Config      appconfig.Config
	Logger      *zap.Logger
	Dispatcher  *dispatch.Dispatcher
	Gateway     *gateway.HTTP
	Coordinator *coordinator.Coordinator
	Journal     *events.Store

	cachePath string
}

// Open builds a session. The store starts from the cached snapshot when the
// cache is enabled; an unreadable snapshot starts empty.
func Open(opts Options) (*Session, error) {
	var cfg appconfig.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := appconfig.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		var paths []string
		if opts.LogToFile {
			p, err := appconfig.LogFilePath()
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		l, err := logging.New(cfg.Log.Level, paths...)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	s := &Session{Config: cfg, Logger: logger, Journal: events.NewStore()}

	initial := store.Empty()
	if cfg.Cache.Enabled {
		p, err := appconfig.CacheFilePath()
		if err != nil {
			return nil, err
		}
		s.cachePath = p
		st, err := store.LoadFile(p)
		if err != nil {
			logger.Warn("ignoring unreadable cache", zap.String("path", p), zap.Error(err))
		}
		initial = st
	}
	s.Dispatcher = dispatch.New(initial, logger.Named("dispatch"))

	gw, err := gateway.NewHTTP(gateway.Options{
		BaseURL:   cfg.API.URL,
		Token:     cfg.API.Token,
		Timeout:   cfg.Timeout(),
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		Logger:    logger.Named("gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("configure api client: %w", err)
	}
	s.Gateway = gw
	s.Coordinator = coordinator.New(coordinator.Options{
		Gateway:    gw,
		Dispatcher: s.Dispatcher,
		Journal:    s.Journal,
		Logger:     logger.Named("coordinator"),
	})
	return s, nil
}

// Close persists the store snapshot when caching is enabled.
func (s *Session) Close() error {
	var err error
	if s.cachePath != "" {
		if serr := store.SaveFile(s.cachePath, s.Dispatcher.State()); serr != nil {
			err = fmt.Errorf("save cache: %w", serr)
		}
	}
	_ = s.Logger.Sync()
	return err
}

// ClearCache deletes the cached snapshot. A missing cache is not an error.
func ClearCache() error {
	p, err := appconfig.CacheFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
