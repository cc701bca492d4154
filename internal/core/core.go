// Package core implements PercyCore, the top-level lifecycle component
// wiring BrowserController, ResponseCache, SnapshotQueue, ControlServer and
// BuildClient together (spec §4.5). Grounded on the teacher's
// ServeOptions.Run wiring (internal/cmd/serve.go: build dependencies,
// construct server, run), generalised into an explicit state machine since
// the teacher's server simply runs until the process is killed.
package core

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/percyio/percy-core/internal/browser"
	"github.com/percyio/percy-core/internal/buildclient"
	"github.com/percyio/percy-core/internal/cache"
	"github.com/percyio/percy-core/internal/config"
	"github.com/percyio/percy-core/internal/discovery"
	"github.com/percyio/percy-core/internal/percy"
	"github.com/percyio/percy-core/internal/queue"
)

// State is PercyCore's lifecycle state (spec §4.5).
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Core is the top-level coordinator. It exclusively owns BrowserController,
// ResponseCache, SnapshotQueue and BuildClient (spec §3 Ownership).
type Core struct {
	log zerolog.Logger

	mu    sync.Mutex
	state State
	cfg   *config.Config
	build percy.Build

	browser *browser.Controller
	cache   *cache.ResponseCache
	queue   *queue.Queue
	client  buildclient.Client
	hooks   discovery.Hooks

	server closer
}

// closer is declared locally to avoid a dependency on net/http or
// internal/server here; internal/cmd/start.go sets it via SetServer once the
// ControlServer exists, keeping core free of a direct dependency on
// internal/server (which depends back on core).
type closer interface {
	Close() error
}

// New creates a Core in state Idle, ready for Start.
func New(client buildclient.Client, log zerolog.Logger) *Core {
	return &Core{
		log:    log.With().Str("component", "core").Logger(),
		state:  StateIdle,
		client: client,
	}
}

// State reports the current lifecycle state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Build returns the build created by Start, valid once Running.
func (c *Core) Build() percy.Build {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.build
}

// Config returns the effective configuration, valid once Running.
func (c *Core) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Start validates cfg, creates a build, launches the browser and starts
// discovery plumbing, transitioning to Running. Idempotent: a call while
// already Running returns the existing build without relaunching anything.
func (c *Core) Start(ctx context.Context, cfg *config.Config) (percy.Build, error) {
	c.mu.Lock()
	if c.state == StateRunning {
		build := c.build
		c.mu.Unlock()
		return build, nil
	}
	if c.state != StateIdle && c.state != StateStopped {
		c.mu.Unlock()
		return percy.Build{}, fmt.Errorf("%w: cannot start from state %q", percy.ErrAlreadyRunning, c.state)
	}
	c.mu.Unlock()

	if err := config.Validate(cfg); err != nil {
		return percy.Build{}, err
	}

	var build percy.Build
	if cfg.Enabled {
		b, err := c.client.CreateBuild(ctx)
		if err != nil {
			return percy.Build{}, err
		}
		build = b
	}

	browserCtl := browser.New(c.log)
	if cfg.Enabled {
		if err := browserCtl.Launch(ctx, browser.LaunchOptions{Timeout: cfg.Timeouts.BrowserLaunch}); err != nil {
			return percy.Build{}, err
		}
	}

	respCache := cache.New(cfg.Discovery.ResponseCacheBytes, cfg.Discovery.DisableAssetCache)
	jobQueue := queue.New(cfg.Discovery.Concurrency)

	c.mu.Lock()
	c.cfg = cfg
	c.build = build
	c.browser = browserCtl
	c.cache = respCache
	c.queue = jobQueue
	c.state = StateRunning
	c.mu.Unlock()

	c.log.Info().Str("build_id", build.ID).Msg("percy core started")
	return build, nil
}

// SnapshotHandle is returned by Snapshot; Wait resolves once the snapshot's
// job (discovery followed by upload) has completed.
type SnapshotHandle struct {
	name string
	h    *queue.Handle
}

// Wait blocks until the snapshot's discovery job has completed.
func (s *SnapshotHandle) Wait(ctx context.Context) ([]percy.Resource, error) {
	return s.h.Wait(ctx)
}

// Snapshot validates payload, enqueues a discovery job and returns a handle.
// Only accepted while Running. If snap.IsConcurrent() is false, Snapshot
// itself awaits completion before returning (mirroring ControlServer's
// synchronous-mode contract at the core level).
func (c *Core) Snapshot(ctx context.Context, snap *percy.Snapshot) (*SnapshotHandle, error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: snapshot rejected", percy.ErrNotRunning)
	}
	cfg := c.cfg
	browserCtl := c.browser
	respCache := c.cache
	jobQueue := c.queue
	client := c.client
	buildID := c.build.ID
	hooks := c.hooks
	c.mu.Unlock()

	if snap.Name == "" {
		snap.Name = uuid.NewString()
	}

	if err := percy.ValidateSnapshot(snap); err != nil {
		return nil, err
	}

	snap.State = percy.SnapshotPending

	if !cfg.Enabled {
		h, err := jobQueue.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) {
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		return &SnapshotHandle{name: snap.Name, h: h}, nil
	}

	mergedHeaders := mergeHeaders(cfg.Discovery.RequestHeaders, snap.RequestHeaders)
	snap.RequestHeaders = mergedHeaders
	if len(snap.Widths) == 0 {
		snap.Widths = cfg.Snapshot.Widths
	}
	if snap.MinHeight == 0 {
		snap.MinHeight = cfg.Snapshot.MinHeight
	}

	discoverer := discovery.New(browserCtl, respCache, c.log, hooks)
	discCfg := discovery.Config{
		AllowedHostnames:    cfg.Discovery.AllowedHostnames,
		DisallowedHostnames: cfg.Discovery.DisallowedHostnames,
		NetworkIdleTimeout:  cfg.Discovery.NetworkIdleTimeout,
		TmpDir:              os.TempDir(),
	}

	job := func(jobCtx context.Context) ([]percy.Resource, error) {
		snap.State = percy.SnapshotDiscovering
		resources, err := discoverer.Run(jobCtx, snap, discCfg)
		if err != nil {
			snap.State = percy.SnapshotFailed
			c.log.Warn().Err(err).Str("snapshot", snap.Name).Msg("discovery failed")
			return nil, err
		}

		snap.State = percy.SnapshotUploading
		for _, res := range resources {
			if err := client.UploadResource(jobCtx, res.SHA, res.Content, res.Mimetype); err != nil {
				snap.State = percy.SnapshotFailed
				return nil, err
			}
		}
		if _, err := client.CreateSnapshot(jobCtx, buildID, snap.Name, snap.Widths, resources); err != nil {
			snap.State = percy.SnapshotFailed
			return nil, err
		}

		snap.State = percy.SnapshotComplete
		return resources, nil
	}

	h, err := jobQueue.Push(ctx, job)
	if err != nil {
		return nil, err
	}
	handle := &SnapshotHandle{name: snap.Name, h: h}

	if !snap.IsConcurrent() {
		if _, err := handle.Wait(ctx); err != nil {
			return handle, err
		}
	}

	return handle, nil
}

// Idle awaits SnapshotQueue.idle().
func (c *Core) Idle(ctx context.Context) error {
	c.mu.Lock()
	jobQueue := c.queue
	c.mu.Unlock()
	if jobQueue == nil {
		return nil
	}
	return jobQueue.Idle(ctx)
}

// Stop awaits idle, finalises the build, and closes the browser and server.
// Idempotent: calls after the first are no-ops.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateStopping {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateRunning {
		c.state = StateStopped
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	jobQueue := c.queue
	browserCtl := c.browser
	client := c.client
	buildID := c.build.ID
	cfg := c.cfg
	srv := c.server
	c.mu.Unlock()

	if jobQueue != nil {
		if err := jobQueue.Stop(ctx, true); err != nil {
			c.log.Warn().Err(err).Msg("queue drain did not complete cleanly")
		}
	}

	if cfg != nil && cfg.Enabled && buildID != "" {
		if err := client.FinalizeBuild(ctx, buildID); err != nil {
			c.log.Warn().Err(err).Msg("failed to finalize build")
		}
	}

	if srv != nil {
		_ = srv.Close()
	}
	if browserCtl != nil {
		_ = browserCtl.Close()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.log.Info().Msg("percy core stopped")
	return nil
}

// SetLogLevel sets the shared log level (spec §4.5 loglevel()).
func (c *Core) SetLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.log = c.log.Level(parsed)
	if c.cfg != nil {
		c.cfg.LogLevel = level
	}
	c.mu.Unlock()
}

// SetServer attaches the ControlServer so Stop can close it. Kept as a
// narrow closer interface rather than importing internal/server directly,
// since the server depends back on Core.
func (c *Core) SetServer(s closer) {
	c.mu.Lock()
	c.server = s
	c.mu.Unlock()
}

// SetHooks installs discovery fault-injection hooks (test use only).
func (c *Core) SetHooks(h discovery.Hooks) {
	c.mu.Lock()
	c.hooks = h
	c.mu.Unlock()
}

func mergeHeaders(base, overrides map[string]string) map[string]string {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
