package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"trade_sim/internal/api"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
	"trade_sim/internal/impact"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/okx"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/orderbook"
	"trade_sim/internal/service"

	"golang.org/x/sync/errgroup"

	_ "net/http/pprof" // Registers on http.DefaultServeMux for the pprof listener
)

const (
	shutdownTimeout = 5 * time.Second
	pruneInterval   = time.Hour
)

// Bootstrap wires every component from the configuration and runs them.
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Book      *orderbook.OrderBook
	Storage   *storage.Storage // nil when recording is disabled
	Sequencer *engine.Sequencer
	Feed      *okx.Worker // nil when the feed is disabled
	Quotes    *service.QuoteService
	API       *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configPath and builds the component graph. Nothing runs yet.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	return b.InitializeWith(cfg)
}

// InitializeWith builds the component graph from an already loaded config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping trade simulator",
		slog.String("version", cfg.App.Version),
		slog.String("symbol", cfg.Feed.Symbol))

	event.Warmup(cfg.Book.DepthLimit)

	// 3. Book and metrics
	b.Metrics = infra.GlobalMetrics
	b.Book = orderbook.New(cfg.Feed.Symbol, cfg.Book.DepthLimit)

	// 4. Storage (optional)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 5. Sequencer owns the book from here on
	if b.Storage != nil {
		b.Sequencer = engine.NewSequencer(cfg.Feed.InboxSize, b.Book, b.Metrics, b.Storage, nil)
	} else {
		b.Sequencer = engine.NewSequencer(cfg.Feed.InboxSize, b.Book, b.Metrics, nil, nil)
	}
	b.Sequencer.SetRecordEvery(cfg.Storage.RecordEvery)

	// 6. Feed worker
	if cfg.Feed.Enabled {
		b.Feed = okx.NewWorker(okx.Options{
			URL:          cfg.Feed.WSURL,
			Exchange:     cfg.Feed.Exchange,
			Symbol:       cfg.Feed.Symbol,
			ReadTimeout:  time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second,
			PingInterval: time.Duration(cfg.Feed.PingIntervalSec) * time.Second,
		}, b.Sequencer.Inbox(), b.Metrics)
	}

	// 7. Pricing
	model, err := impact.NewModel(impact.Params{
		Volatility: cfg.Impact.Volatility,
		Eta:        cfg.Impact.Eta,
		Gamma:      cfg.Impact.Gamma,
	})
	if err != nil {
		return fmt.Errorf("impact model: %w", err)
	}
	b.Quotes = service.NewQuoteService(b.Book, b.Metrics, model, cfg.Fees.Tiers, cfg.Fees.DefaultTier)

	// 8. HTTP surface
	registry := infra.NewRegistry(b.Metrics, b.Book)
	b.API = api.NewServer(b.Quotes, infra.MetricsHandler(registry))
	if b.Feed != nil {
		b.API.SetFeed(b.Feed)
	}
	if b.Storage != nil {
		b.Quotes.SetRecorder(b.Storage)
		b.API.SetHistory(b.Storage)
	}

	return nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. The first error cancels the rest.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Sequencer.Run(ctx)
	})

	if b.Feed != nil {
		g.Go(func() error {
			return b.Feed.Run(ctx)
		})
		slog.Info("Feed worker started", slog.String("url", b.Config.Feed.WSURL))
	}

	srv := &http.Server{
		Addr:              b.Config.Server.Addr,
		Handler:           b.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serve(ctx, g, "api", srv)

	if addr := b.Config.Server.PprofAddr; addr != "" {
		serve(ctx, g, "pprof", &http.Server{
			Addr:              addr,
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	if b.Storage != nil && b.Config.Storage.RetentionHours > 0 {
		retention := time.Duration(b.Config.Storage.RetentionHours) * time.Hour
		g.Go(func() error {
			b.pruneLoop(ctx, retention)
			return nil
		})
	}

	slog.Info("Trade simulator running", slog.String("addr", srv.Addr))
	return g.Wait()
}

// Close releases resources that outlive Run.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close database", slog.Any("error", err))
		}
	}
}

// serve runs srv under g and shuts it down gracefully when ctx is done.
func serve(ctx context.Context, g *errgroup.Group, name string, srv *http.Server) {
	g.Go(func() error {
		slog.Info("HTTP server listening", slog.String("server", name), slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (b *Bootstrap) pruneLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.Storage.PruneTicks(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Warn("Tick pruning failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("Pruned old ticks", slog.Int64("rows", n))
			}
		}
	}
}
