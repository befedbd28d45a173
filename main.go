package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/livedoc/internal/activity"
	"github.com/serroba/livedoc/internal/api"
	"github.com/serroba/livedoc/internal/bridge"
	"github.com/serroba/livedoc/internal/config"
	"github.com/serroba/livedoc/internal/discovery"
	"github.com/serroba/livedoc/internal/keeper"
	"github.com/serroba/livedoc/internal/relay"
	"github.com/serroba/livedoc/internal/storage"
	"github.com/serroba/livedoc/internal/telemetry"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	flags := pflag.NewFlagSet("livedoc", pflag.ExitOnError)
	config.ServerFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitJaeger(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return err
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("flush traces: %v", err)
		}
	}()

	// Initialize relay
	relayCfg := relay.Config{}
	if cfg.Relay.MaxDelay > 0 || cfg.Relay.DropRate > 0 {
		relayCfg.Link = relay.NewRandomLink(cfg.Relay.MaxDelay, cfg.Relay.DropRate, nil)
		log.Printf("fault injection max_delay=%s drop_rate=%.2f", cfg.Relay.MaxDelay, cfg.Relay.DropRate)
	}

	rl := relay.New(relayCfg)

	var docs *keeper.Keeper
	if cfg.Relay.Keeper {
		docs = keeper.New(rl, storage.NewMemoryStore())
	}

	if len(cfg.Kafka.Brokers) > 0 {
		dispatcher, closeProducer, err := newActivity(cfg.Kafka)
		if err != nil {
			return err
		}

		defer closeProducer()
		defer dispatcher.Close()

		rl.Observe(dispatcher)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()

		cancel()

		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}

		b := bridge.New(bridge.Config{Client: rdb, Relay: rl, Prefix: cfg.Redis.ChannelPrefix})
		g.Go(func() error { return b.Run(gctx) })
	}

	// Initialize API server
	server := api.NewServer(api.ServerConfig{
		Relay:      rl,
		Keeper:     docs,
		SendBuffer: cfg.Relay.SendBuffer,
	})

	// Configure HTTP server with timeouts
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g.Go(func() error {
		log.Printf("starting server on %s", cfg.Server.Addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Printf("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Discovery.Enabled {
		port, err := listenPort(cfg.Server.Addr)
		if err != nil {
			return err
		}

		g.Go(func() error {
			return discovery.Announce(gctx, cfg.Discovery.Instance, cfg.Discovery.Service, port)
		})
	}

	return g.Wait()
}

// newActivity connects to Kafka and starts the activity dispatcher.
func newActivity(cfg config.Kafka) (*activity.Dispatcher, func(), error) {
	kafkaCfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes.
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect kafka: %w", err)
	}

	dispatcher := activity.NewDispatcher(producer, cfg.Topic, activity.Options{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		MaxRetry:  cfg.MaxRetry,
	})

	log.Printf("activity feed enabled topic=%s brokers=%v", cfg.Topic, cfg.Brokers)

	return dispatcher, func() {
		if err := producer.Close(); err != nil {
			log.Printf("close kafka producer: %v", err)
		}
	}, nil
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", port, err)
	}

	return n, nil
}
