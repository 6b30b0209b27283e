// admitd -- admission queue and decaying duplicate filter daemon for an
// anonymous streaming transport.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/opnet-io/admitd/internal/aq"
	"github.com/opnet-io/admitd/internal/clock"
	"github.com/opnet-io/admitd/internal/config"
	"github.com/opnet-io/admitd/internal/connmgr"
	"github.com/opnet-io/admitd/internal/ddf"
	admitdmetrics "github.com/opnet-io/admitd/internal/metrics"
	"github.com/opnet-io/admitd/internal/server"
	appversion "github.com/opnet-io/admitd/internal/version"
	"github.com/opnet-io/admitd/internal/wire"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time to wait after deactivating the admission queue
// before proceeding with shutdown, so the final RSTs reach their targets.
const drainTimeout = 2 * time.Second

// localIdentityByte seeds this session's own identity for local wiring
// demo purposes. A production deployment derives it from the anonymous
// network's actual destination key material instead.
const localIdentityByte = 0x01

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("admitd starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := admitdmetrics.NewCollector(reg)

	clk := clock.NewReal()
	filter := ddf.New(clk, cfg.DDF.Duration,
		ddf.WithM(cfg.DDF.M),
		ddf.WithK(cfg.DDF.K),
		ddf.WithEntryBytes(cfg.DDF.EntryBytes),
	)

	local := identityFromByte(localIdentityByte)
	connMgr := connmgr.New(local, logger)
	defer connMgr.Close()

	registry, err := buildPeerRegistry(cfg.Peers)
	if err != nil {
		logger.Error("failed to build peer registry", slog.String("error", err.Error()))
		return 1
	}
	codec := wire.NewEd25519Codec(registry.keyFor)

	queue := aq.New(clk, codec, connmgr.AsConnectionManager(connMgr), &loggingSender{logger: logger},
		aq.WithCapacity(cfg.Queue.Capacity),
		aq.WithAcceptTimeout(cfg.Queue.AcceptTimeout),
		aq.WithMetrics(collector),
	)
	queue.SetActive(true)

	if err := runServers(cfg, queue, filter, connMgr, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("admitd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("admitd stopped")
	return 0
}

// runServers sets up and runs the admin API, the metrics endpoint, the
// synthetic packet source, and the single admission consumer loop, all
// coordinated with an errgroup and a signal-aware context.
func runServers(
	cfg *config.Config,
	queue *aq.Queue,
	filter *ddf.Filter,
	connMgr *connmgr.Manager,
	collector *admitdmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	_, adminHandler := server.New(queue, filter, connMgr, logger)
	adminSrv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           adminHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin API listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(gCtx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		runDDFSampler(gCtx, filter, queue, collector, logger)
		return nil
	})

	g.Go(func() error {
		return runAcceptLoop(gCtx, queue, logger)
	})

	g.Go(func() error {
		runSyntheticSource(gCtx, queue, cfg.Peers, logger)
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, queue, logger, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runAcceptLoop is the single consumer required by the admission queue's
// discipline: it repeatedly calls Accept and hands admitted connections
// off (here, just logs them -- a production deployment would start the
// per-connection stream handler). Accept is not bound to ctx: after ctx is
// done the loop keeps consuming until gracefulShutdown's SetActive(false)
// makes Accept drain the backlog with RSTs, and only then returns.
func runAcceptLoop(ctx context.Context, queue *aq.Queue, logger *slog.Logger) error {
	for {
		conn, ok := queue.Accept(context.WithoutCancel(ctx), int64(aq.DefaultAcceptTimeout/time.Millisecond))
		if ctx.Err() != nil && !queue.Active() {
			return nil
		}
		if !ok {
			continue
		}
		logger.Info("connection admitted", slog.String("remote", fmt.Sprintf("%x", conn.RemoteIdentity().Bytes())))
	}
}

// runDDFSampler periodically republishes the duplicate filter's observable
// counters to the metrics collector: this is the only place DDFInsertedSize,
// DDFDuplicates, and DDFFalsePositiveRate ever get updated in the running
// daemon, since the filter itself exposes no hooks to push them on every
// Add/IsKnown call.
func runDDFSampler(ctx context.Context, filter *ddf.Filter, queue *aq.Queue, collector *admitdmetrics.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := filter.Size()
			duplicates := filter.CurrentDuplicateCount()
			fpRate := filter.FalsePositiveRate()
			collector.SetDDFStats(size, duplicates, fpRate)

			logger.Debug("sampled state",
				slog.Int64("ddf_size", size),
				slog.Int64("ddf_duplicates", duplicates),
				slog.Float64("ddf_false_positive_rate", fpRate),
				slog.Int("queue_depth", queue.Depth()),
			)
		}
	}
}

// runSyntheticSource stands in for the real datagram-substrate receiver:
// it generates SYNs on behalf of the configured declarative peer list at a
// fixed cadence and feeds them to the admission queue. A production
// deployment replaces this goroutine with a real packet receiver.
func runSyntheticSource(ctx context.Context, queue *aq.Queue, peers []config.PeerConfig, logger *slog.Logger) {
	if len(peers) == 0 {
		logger.Debug("no declarative peers configured, synthetic source idle")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range peers {
				id, err := identityFromHex(p.Identity)
				if err != nil {
					logger.Warn("skipping peer with invalid identity", slog.String("peer", p.Name))
					continue
				}
				seq++
				queue.ReceiveNewSyn(&wire.Packet{
					SendStreamID:    uint32(seq),
					ReceiveStreamID: 0,
					SequenceNumber:  seq,
					Flags:           wire.FlagSYN,
					From:            &id,
				})
			}
		}
	}
}

// loggingSender logs constructed RSTs in lieu of a real datagram
// transmitter.
type loggingSender struct {
	logger *slog.Logger
}

func (s *loggingSender) Send(pkt *wire.Packet) {
	s.logger.Debug("sending packet",
		slog.Uint64("send_stream_id", uint64(pkt.SendStreamID)),
		slog.Bool("rst", pkt.Flags.Has(wire.FlagRST)),
	)
}

// peerRegistry resolves identities to ed25519 public keys for signature
// verification, built from the configured declarative peer list.
type peerRegistry struct {
	mu   sync.RWMutex
	keys map[wire.Identity]ed25519.PublicKey
}

func buildPeerRegistry(peers []config.PeerConfig) (*peerRegistry, error) {
	reg := &peerRegistry{keys: make(map[wire.Identity]ed25519.PublicKey, len(peers))}
	for _, p := range peers {
		id, err := identityFromHex(p.Identity)
		if err != nil {
			return nil, fmt.Errorf("peer %q: parse identity: %w", p.Name, err)
		}
		pub, err := hex.DecodeString(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %q: parse public key: %w", p.Name, err)
		}
		reg.keys[id] = ed25519.PublicKey(pub)
	}
	return reg, nil
}

func (r *peerRegistry) keyFor(id wire.Identity) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[id]
	return pub, ok
}

func identityFromHex(s string) (wire.Identity, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return wire.Identity{}, fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) != 32 {
		return wire.Identity{}, fmt.Errorf("identity must be 32 bytes, got %d", len(raw))
	}
	var b [32]byte
	copy(b[:], raw)
	return wire.NewIdentity(b), nil
}

func identityFromByte(v byte) wire.Identity {
	var b [32]byte
	b[0] = v
	return wire.NewIdentity(b)
}

// -------------------------------------------------------------------------
// Systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP reload
// -------------------------------------------------------------------------

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := parseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, queue *aq.Queue, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	queue.SetActive(false)
	time.Sleep(drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
