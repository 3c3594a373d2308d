// Package daemon runs the enforcement engine as a background process,
// bridging it to the browser shim over a local socket.
package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/engine"
	"github.com/niyambadha/watchd/internal/infra"
)

// Config holds daemon configuration.
type Config struct {
	SocketPath        string        // unix socket the browser shim connects to
	HeartbeatInterval time.Duration // how often to update the registry heartbeat
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:        socketPath,
		HeartbeatInterval: 30 * time.Second,
	}
}

// EngineFactory builds an enforcement engine bound to a browser host.
// A fresh engine is created per shim connection; the settings cache and
// API clients behind it are shared across connections.
type EngineFactory func(host domain.BrowserHost) *engine.Engine

// Daemon accepts browser shim connections and runs the enforcement
// engine against each one. Only one shim is expected at a time;
// connections are served serially.
type Daemon struct {
	config    Config
	identity  domain.IdentityStore
	registry  domain.DaemonRegistry
	engineFor EngineFactory
	logger    *zap.Logger
	state     domain.DaemonState
}

// New creates a new daemon.
func New(
	config Config,
	identity domain.IdentityStore,
	registry domain.DaemonRegistry,
	engineFor EngineFactory,
	state domain.DaemonState,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		config:    config,
		identity:  identity,
		registry:  registry,
		engineFor: engineFor,
		state:     state,
		logger:    logger,
	}
}

// Run starts the daemon loop. This blocks until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.registry.Register(d.state); err != nil {
		d.logger.Error("failed to register daemon", zap.Error(err))
		return err
	}

	d.logger.Info("watchd daemon started",
		zap.Int("pid", d.state.PID),
		zap.String("socket", d.config.SocketPath))

	// A stale socket from a previous run blocks the listener.
	_ = os.Remove(d.config.SocketPath)

	listener, err := net.Listen("unix", d.config.SocketPath)
	if err != nil {
		return err
	}
	defer func() {
		listener.Close()
		_ = os.Remove(d.config.SocketPath)
	}()

	go d.acceptLoop(ctx, listener)

	heartbeatTicker := time.NewTicker(d.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("watchd daemon stopping")
			return ctx.Err()

		case <-heartbeatTicker.C:
			if err := d.registry.UpdateHeartbeat(); err != nil {
				d.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// acceptLoop serves shim connections one at a time until the listener
// closes. A dropped connection is not fatal; the shim reconnects when
// the browser restarts.
func (d *Daemon) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		d.logger.Info("browser shim connected")
		d.serveConn(ctx, conn)
		d.logger.Info("browser shim disconnected")
	}
}

// serveConn runs a bridge and an engine against one shim connection,
// returning when the connection or the context ends.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The bridge blocks in conn reads; closing the conn is the only way
	// to unblock it on shutdown.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	bridge := infra.NewBridge(d.identity, d.logger)
	eng := d.engineFor(bridge)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(connCtx, bridge)
	}()

	if err := bridge.Run(connCtx, conn, conn); err != nil && ctx.Err() == nil {
		d.logger.Warn("bridge ended with error", zap.Error(err))
	}

	// The bridge closes its event channel on return, which makes the
	// engine's Run unwind.
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("engine ended with error", zap.Error(err))
	}
}
