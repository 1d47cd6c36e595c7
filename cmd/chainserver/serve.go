package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/collector"
	"github.com/gw/options-chain/internal/config"
	"github.com/gw/options-chain/internal/eventbus"
	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/gateway/sim"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/orders"
	"github.com/gw/options-chain/internal/relay"
	"github.com/gw/options-chain/internal/server"
	"github.com/gw/options-chain/internal/session"
	"github.com/gw/options-chain/internal/tradelog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, push channel and refresh engine",
	Long: `Start the HTTP API and websocket push channel. The refresh engine starts
once the gateway is connected, either through POST /connect or with
--auto-connect.

Example:
  chainserver serve --sim --port 5000 --auto-connect`,
	RunE: runServe,
}

var (
	serveDebug       bool
	serveSim         bool
	servePort        int
	serveAutoConnect bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "use the in-process paper gateway")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides API_PORT)")
	serveCmd.Flags().BoolVar(&serveAutoConnect, "auto-connect", false, "connect to the gateway at startup")
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if serveDebug {
		cfg.App.LogLevel = "debug"
	}
	if serveSim {
		cfg.Gateway.Mode = "sim"
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port = servePort
	}
	if serveAutoConnect {
		cfg.Gateway.AutoConnect = true
	}
}

func newGateway(cfg *config.Config) gateway.Port {
	return sim.New(sim.Config{
		Symbol:          cfg.Chain.Symbol,
		UnderlyingPrice: cfg.Sim.UnderlyingPrice,
		StrikeStep:      cfg.Sim.StrikeStep,
		StrikeCount:     cfg.Sim.StrikeCount,
		QuoteLatency:    cfg.Sim.QuoteLatency,
		Volatility:      0.0005,
		Seed:            cfg.Sim.Seed,
		AutoFill:        true,
		FillDelay:       750 * time.Millisecond,
		CancelDelay:     250 * time.Millisecond,
		Location:        cfg.Chain.Location(),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get()

	if cfg.Sentry.DSN != "" {
		tracker, err := logger.NewSentryTracker(cfg.Sentry.DSN, cfg.App.Env)
		if err != nil {
			log.Warnw("sentry disabled", "err", err)
		} else {
			logger.SetTracker(tracker)
		}
	}

	log.Infow("chainserver starting",
		"version", version,
		"symbol", cfg.Chain.Symbol,
		"gateway", cfg.Gateway.Mode,
		"addr", cfg.API.Addr(),
		"interval", cfg.Chain.RefreshInterval,
	)

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	gw := newGateway(cfg)
	store := chain.NewStore()

	var recorder collector.Recorder
	if cfg.Journal.TapeDir != "" {
		tape, err := collector.OpenTape(cfg.Journal.TapeDir, cfg.Chain.Symbol, cfg.Chain.Location())
		if err != nil {
			return err
		}
		defer tape.Close()
		recorder = tape
		log.Infow("snapshot tape enabled", "dir", cfg.Journal.TapeDir)
	}

	engine := collector.New(gw, store, collector.Options{
		Symbol:          cfg.Chain.Symbol,
		Exchange:        cfg.Chain.Exchange,
		Currency:        cfg.Chain.Currency,
		Interval:        cfg.Chain.RefreshInterval,
		StrikesAround:   cfg.Chain.StrikesAround,
		Throttle:        cfg.Chain.QuoteThrottle,
		WaitFloor:       cfg.Chain.WaitFloor,
		WaitPerContract: cfg.Chain.WaitPerContract,
		Expiry:          collector.NewExpiryPolicy(cfg.Chain.ExpiryDate, cfg.Chain.Location()),
		Recorder:        recorder,
		Logger:          log,
	})

	var sinks orders.MultiSink
	if cfg.Journal.Path != "" {
		journal, err := tradelog.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		log.Infow("order journal enabled", "path", cfg.Journal.Path)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := eventbus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer pub.Close()
		sinks = append(sinks, pub)
		log.Infow("order events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	var sink orders.EventSink
	if len(sinks) > 0 {
		sink = sinks
	}
	ledger := orders.NewLedger(gw, orders.Options{Sink: sink, Logger: log})

	sess := session.New(gw, store, engine, session.Options{
		Endpoint: gateway.Endpoint{
			Host:     cfg.Gateway.Host,
			Port:     cfg.Gateway.Port,
			ClientID: cfg.Gateway.ClientID,
		},
		ConnectTimeout: cfg.Gateway.ConnectTimeout,
		AutoReconnect:  cfg.Gateway.AutoReconnect,
		MaxAttempts:    cfg.Gateway.ReconnectMaxAttempts,
		Logger:         log,
	})

	hub := relay.NewHub(sess, cfg.API.FrontendURL, log)
	relaySinks := []relay.Sink{hub}
	if cfg.Redis.Addr != "" {
		pub, err := relay.NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			log.Warnw("redis relay disabled", "err", err)
		} else {
			defer pub.Close()
			relaySinks = append(relaySinks, pub)
			log.Infow("snapshots to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		}
	}
	go relay.New(sess, cfg.Chain.RefreshInterval, log, relaySinks...).Run(ctx)

	if cfg.Gateway.AutoConnect {
		go func() {
			if err := sess.Connect(ctx); err != nil {
				log.Warnw("auto-connect failed", "err", err)
			}
		}()
	}

	srv := server.New(sess, ledger, server.Options{
		Addr:        cfg.API.Addr(),
		AllowOrigin: cfg.API.FrontendURL,
		Push:        hub,
		Logger:      log,
	})
	serveErr := srv.ListenAndServe(ctx)
	cancel()

	hub.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Chain.RefreshInterval+5*time.Second)
	defer stop()
	if err := sess.Close(shutdownCtx); err != nil {
		log.Warnw("session shutdown", "err", err)
	}

	if serveErr != nil {
		log.Errorw("http server failed", "err", serveErr)
		return serveErr
	}
	log.Infow("chainserver stopped")
	return nil
}
