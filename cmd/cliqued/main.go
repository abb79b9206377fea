// Command cliqued runs a clique node: it keeps authenticated connections
// to the validators listed in its configuration file and serves metrics,
// health and status over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockberries/clique"
	cliqueotel "github.com/blockberries/clique/otel"
	"github.com/blockberries/clique/pkg/transport"
	cliqueprom "github.com/blockberries/clique/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"
)

const shutdownTimeout = 5 * time.Second

var (
	configFile    = kingpin.Flag("config.file", "Path to configuration file.").Default("cliqued.yaml").String()
	listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for metrics, health and status. Overrides the config file.").String()
	logLevel      = kingpin.Flag("log.level", "Log level. Overrides the config file.").String()
)

func main() {
	kingpin.Version(clique.VersionInfo())
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cliqued: %v\n", err)
		os.Exit(1)
	}
	if *listenAddress != "" {
		cfg.HTTP = *listenAddress
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cliqued: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("cliqued failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	key, err := cfg.Key()
	if err != nil {
		return err
	}
	peers, err := cfg.ParsePeers()
	if err != nil {
		return err
	}
	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return err
	}
	listener, err := transport.ListenTCP(listenAddr)
	if err != nil {
		return err
	}

	opts := append(cfg.Options(),
		clique.WithLogger(clique.NewZapLogger(logger.Named("clique"))),
		clique.WithMetrics(cliqueprom.NewMetrics(cliqueprom.DefaultNamespace)),
	)
	if cfg.Tracing.Enabled {
		tp := newTracerProvider(cfg.Tracing, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		opts = append(opts, clique.WithTracer(cliqueotel.NewTracer(tp)))
	}

	svc, iface, err := clique.NewService(transport.NewTCPDialer(), listener, key, opts...)
	if err != nil {
		_ = listener.Close()
		return err
	}
	logger.Info("starting cliqued",
		zap.String("version", clique.Version()),
		zap.Stringer("public_key", svc.PublicKey()),
		zap.Stringer("listen", listener.Multiaddr()),
		zap.Int("peers", len(peers)),
	)

	for _, p := range peers {
		iface.AddConnection(p.PublicKey, p.Address)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", clique.HealthHandler(iface))
	mux.Handle("/status", clique.StatusHandler(iface))
	server := &http.Server{Addr: cfg.HTTP, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return receive(ctx, iface, logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receive drains delivered messages. cliqued has no consumer of its own,
// so payloads are only logged.
func receive(ctx context.Context, iface *clique.Interface, logger *zap.Logger) error {
	for {
		data, err := iface.Next(ctx)
		if err != nil {
			return nil
		}
		logger.Debug("received message", zap.Int("bytes", len(data)))
	}
}
