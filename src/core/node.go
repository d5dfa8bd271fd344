package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sealtrace/sealtrace/src/journal"
	"github.com/sealtrace/sealtrace/src/ledger"
)

// NodeVersion is reported by /api/health and /api/info.
const NodeVersion = "1.0.0"

// Package-level logger
var logger *slog.Logger

// initLogger initializes the structured logger based on the log level
func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// EventHistory serves event history older than the in-memory window.
type EventHistory interface {
	Since(ctx context.Context, seq uint64, limit int) ([]ledger.Event, error)
	ForBatch(ctx context.Context, batchID uint64) ([]ledger.Event, error)
}

// SealNode is the main server structure: one ledger engine plus the
// transports and sinks around it.
type SealNode struct {
	NodeID     string
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
	StartedAt  time.Time

	Engine *ledger.Engine

	config  *Config
	hub     *EventHub
	history EventHistory
	pool    *pgxpool.Pool
	sinks   []*journal.Sink
	archive SnapshotArchive
	limiter *RequestLimiter
	tracing *sdktrace.TracerProvider
	metrics *metricsSink

	snapshotMu   sync.Mutex
	lastSnapshot SnapshotStatus
}

func main() {
	cfg := LoadConfig()

	initLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := NewSealNode(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize sealtrace node", "error", err)
		os.Exit(1)
	}

	go node.RunSnapshotLoop(ctx, cfg.SnapshotInterval)

	if err := node.StartServer(ctx, cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := node.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
		os.Exit(1)
	}
}

// NewSealNode builds a node from cfg. The ledger is restored from the data
// directory when a snapshot exists; otherwise a fresh ledger is created for
// cfg.AdminAddress.
func NewSealNode(ctx context.Context, cfg *Config) (*SealNode, error) {
	if cfg.RequireCallerAuth && cfg.CallerAuthSecret == "" {
		return nil, errors.New("caller_auth_secret is required unless require_caller_auth is false")
	}
	if !cfg.RequireCallerAuth && logger != nil {
		logger.Warn("Caller authentication disabled; any client may act as any participant")
	}

	privateKey, err := LoadOrCreateNodeKey(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	node := &SealNode{
		NodeID:     nodeIDFromKey(&privateKey.PublicKey),
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		StartedAt:  time.Now().UTC(),
		config:     cfg,
		hub:        NewEventHub(cfg.EventBufferSize),
		limiter:    NewRequestLimiter(cfg.RateLimitPerMinute),
		archive:    NewDisabledArchive(),
		metrics:    newMetricsSink(),
	}

	node.tracing, err = newTracerProvider(ctx, cfg, node.NodeID)
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithEventSink(node.hub),
		ledger.WithEventSink(node.metrics),
	}

	if cfg.DatabaseURL != "" {
		pool, err := journal.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := journal.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		sink := journal.NewSink(store, cfg.EventBufferSize, logger)
		node.pool = pool
		node.history = store
		node.sinks = append(node.sinks, sink)
		opts = append(opts, ledger.WithEventSink(sink))
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	if len(cfg.WebhookURLs) > 0 {
		hooks := NewWebhookDispatcher(cfg.WebhookURLs, cfg.WebhookSecret, node.NodeID, httpClient)
		sink := journal.NewSink(hooks, cfg.EventBufferSize, logger)
		node.sinks = append(node.sinks, sink)
		opts = append(opts, ledger.WithEventSink(sink))
	}

	if cfg.IPFSGatewayURL != "" {
		node.archive = NewKuboArchive(cfg.IPFSGatewayURL, httpClient)
	}

	engine, err := node.openLedger(cfg, opts)
	if err != nil {
		node.closeSinks(ctx)
		node.tracing.Shutdown(ctx)
		return nil, err
	}
	node.Engine = engine
	node.metrics.Sync(engine)

	if logger != nil {
		logger.Info("Initialized sealtrace node",
			"nodeId", node.NodeID,
			"admin", engine.Admin(),
			"scheme", engine.Scheme().Name(),
			"journal", node.history != nil,
			"webhooks", len(cfg.WebhookURLs))
	}
	return node, nil
}

func (node *SealNode) openLedger(cfg *Config, opts []ledger.Option) (*ledger.Engine, error) {
	scheme, err := ledger.SchemeByName(cfg.CommitmentScheme)
	if err != nil {
		return nil, err
	}

	ss, err := LoadSignedSnapshot(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if ss != nil {
		if err := VerifySnapshot(ss, node.GetPublicKeyHex()); err != nil {
			return nil, fmt.Errorf("refusing to restore snapshot: %w", err)
		}
		return ledger.Restore(ss.State, append(opts, ledger.WithScheme(scheme))...)
	}

	if cfg.AdminAddress == "" {
		return nil, errors.New("admin_address is required to initialize a new ledger")
	}
	admin, err := ledger.ParseAddress(cfg.AdminAddress)
	if err != nil {
		return nil, fmt.Errorf("admin_address: %w", err)
	}
	return ledger.NewEngine(admin, append(opts, ledger.WithScheme(scheme))...)
}

// SaveSnapshot writes a signed snapshot to the data directory and, when an
// archive is configured, pins a copy there.
func (node *SealNode) SaveSnapshot(ctx context.Context) (SnapshotStatus, error) {
	ctx, span := node.tracing.Tracer(tracerName).Start(ctx, "ledger.snapshot")
	defer span.End()

	node.snapshotMu.Lock()
	defer node.snapshotMu.Unlock()

	start := time.Now()
	status, err := node.writeSnapshot(ctx)
	snapshotDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		snapshotsTotal.WithLabelValues("failed").Inc()
		status.Error = err.Error()
		markSpanError(span, err)
	} else {
		snapshotsTotal.WithLabelValues("ok").Inc()
	}
	node.lastSnapshot = status
	return status, err
}

func (node *SealNode) writeSnapshot(ctx context.Context) (SnapshotStatus, error) {
	signed, err := node.SignSnapshot(node.Engine.Snapshot())
	if err != nil {
		return SnapshotStatus{}, err
	}
	status := SnapshotStatus{At: signed.Attestation.CreatedAt, Digest: signed.Attestation.Digest}

	if err := SaveSignedSnapshot(node.config.DataDir, signed); err != nil {
		return status, err
	}

	if node.archive.IsAvailable(ctx) {
		cid, err := ArchiveSnapshot(ctx, node.archive, signed)
		if err != nil {
			// The local copy is authoritative; archiving is best effort.
			if logger != nil {
				logger.Warn("Failed to archive snapshot", "error", err)
			}
		} else {
			status.ArchiveCID = cid
		}
	}
	return status, nil
}

// LastSnapshot returns the status of the most recent snapshot attempt.
func (node *SealNode) LastSnapshot() SnapshotStatus {
	node.snapshotMu.Lock()
	defer node.snapshotMu.Unlock()
	return node.lastSnapshot
}

// RunSnapshotLoop snapshots the ledger every interval until ctx ends.
func (node *SealNode) RunSnapshotLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := node.limiter.Prune(limiterIdleTTL); n > 0 {
				logger.Debug("Pruned idle rate limit buckets", "count", n)
			}
			seq := node.Engine.LastEventSeq()
			if seq == lastSeq {
				continue
			}
			if _, err := node.SaveSnapshot(ctx); err != nil {
				logger.Error("Failed to save snapshot", "error", err)
				continue
			}
			lastSeq = seq
			logger.Debug("Saved snapshot", "lastEventSeq", seq)
		}
	}
}

// Close writes a final snapshot, then flushes and stops every sink.
func (node *SealNode) Close(ctx context.Context) error {
	_, snapErr := node.SaveSnapshot(ctx)
	node.hub.Close()
	sinkErr := node.closeSinks(ctx)
	if node.pool != nil {
		node.pool.Close()
	}
	traceErr := node.tracing.Shutdown(ctx)
	return errors.Join(snapErr, sinkErr, traceErr)
}

func (node *SealNode) closeSinks(ctx context.Context) error {
	var errs []error
	for _, s := range node.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
