package service

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/policy"
	"github.com/fathomline/agentcore/internal/infrastructure/config"
)

// ConfigWatcher watches the configuration file for edits and hot-reloads the
// Policy Gate's tool table without restarting the session. A stale policy
// table served from memory would otherwise require a restart every time an
// operator tightens or loosens a tool's policy mid-session.
//
// Safe for concurrent reads from the Turn Orchestrator.
type ConfigWatcher struct {
	mu      sync.RWMutex
	tools   config.ToolsConfig
	gate    *policy.Gate
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}
}

// NewConfigWatcher creates a watcher seeded with the current tools config.
// If fsnotify cannot watch the path (e.g. it doesn't exist yet), the watcher
// still serves the seeded snapshot; it just never updates. gate may be nil
// if nothing needs a push on reload (Tools() can still be polled).
func NewConfigWatcher(path string, initial config.ToolsConfig, gate *policy.Gate, logger *zap.Logger) *ConfigWatcher {
	w := &ConfigWatcher{
		tools:  initial,
		gate:   gate,
		logger: logger.With(zap.String("component", "config-watcher")),
		stopCh: make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, policy hot-reload disabled", zap.Error(err))
		return w
	}
	if err := fw.Add(path); err != nil {
		w.logger.Warn("cannot watch config path, policy hot-reload disabled",
			zap.String("path", path), zap.Error(err))
		fw.Close()
		return w
	}
	w.watcher = fw
	return w
}

// Tools returns the current tool policy table (thread-safe).
func (w *ConfigWatcher) Tools() config.ToolsConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tools
}

// Start consumes fsnotify events until Stop is called. No-op if the
// underlying watcher failed to initialize.
func (w *ConfigWatcher) Start() {
	if w.watcher == nil {
		return
	}
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load()
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous policy table", zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.tools = cfg.Tools
			w.mu.Unlock()
			if w.gate != nil {
				w.gate.SetTable(cfg.Tools.ToPolicyTable())
			}
			w.logger.Info("tool policy table reloaded", zap.String("default_policy", cfg.Tools.DefaultPolicy))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop shuts down the watcher.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
