// cmd/datalogger/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/config"
	"github.com/tamzrod/datalogger/internal/events"
	"github.com/tamzrod/datalogger/internal/logging"
	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/netscanner"
	"github.com/tamzrod/datalogger/internal/notify"
	"github.com/tamzrod/datalogger/internal/ops"
	"github.com/tamzrod/datalogger/internal/orchestrator"
	"github.com/tamzrod/datalogger/internal/poller"
	"github.com/tamzrod/datalogger/internal/serial"
	"github.com/tamzrod/datalogger/internal/server"
	"github.com/tamzrod/datalogger/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: datalogger <config.yaml>")
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("datalogger stopped", zap.Error(err))
	}
	logger.Info("datalogger stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	// --------------------
	// Notifications
	// --------------------

	notifier := notify.Multi{notify.NewLog(logger.Named("notice"))}
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.Dial(cfg.Notify.NATSURL, logger.Named("nats"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier = append(notifier, notify.NewNATS(nc, cfg.Notify.Subject, logger.Named("nats")))
	}

	// --------------------
	// Storage + boards
	// --------------------

	var st *store.Store
	var sink board.Sink
	if !cfg.Storage.Disabled {
		var err error
		st, err = store.Open(cfg.Storage.SnapshotPath, logger.Named("store"))
		if err != nil {
			return err
		}
		st.SetCacheSize(cfg.Storage.CacheSize)
		sink = st
	} else {
		logger.Warn("local storage disabled: sessions cannot be started")
	}

	reg := board.NewRegistry(sink, logger.Named("board"))
	boards := []board.Board{board.Basic(), board.Motor()}
	if cfg.NetScanner.Enabled {
		boards = append(boards, board.NetScanner(cfg.NetScanner.BoardID))
	}
	if cfg.GPIO.Enabled {
		boards = append(boards, board.GPIO(cfg.GPIO.BoardID))
	}
	for _, b := range boards {
		if err := reg.Register(b); err != nil {
			return err
		}
	}

	hub := &events.Hub{}
	orch := orchestrator.New(orchestrator.Options{
		Store:     st,
		Registry:  reg,
		Hub:       hub,
		BlockSize: cfg.Server.DownloadBlockSize,
		Logger:    logger.Named("session"),
		Metrics:   m,
		Notifier:  notifier,
	})

	g, gctx := errgroup.WithContext(ctx)

	// --------------------
	// Device managers
	// --------------------

	// ---- serial boards ----
	if cfg.Serial.Enabled {
		sm := serial.NewManager(serial.Options{
			Ports:        cfg.Serial.Ports,
			BaudRate:     cfg.Serial.BaudRate,
			ReadTimeout:  time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
			PollInterval: time.Duration(cfg.Serial.PollIntervalMs) * time.Millisecond,
			MaxRetries:   cfg.Serial.MaxRetries,
		}, orch, logger.Named("serial"), m, notifier)

		n, err := sm.Scan()
		if err != nil {
			return err
		}
		logger.Info("serial scan finished", zap.Int("boards", n))
		defer sm.Close()

		reg.SetCommander(sm)
		hub.Subscribe(sm)
		orch.AddDevice(orchestrator.Device{Name: "serial", Boards: sm.IDs, Status: sm.Status})
		g.Go(func() error { return sm.Run(gctx) })
	}

	// ---- network pressure scanner ----
	if cfg.NetScanner.Enabled {
		ns := netscanner.NewManager(netscanner.Options{
			Address:    cfg.NetScanner.Address,
			BoardID:    cfg.NetScanner.BoardID,
			SampleHz:   cfg.NetScanner.SampleHz,
			Timeout:    time.Duration(cfg.NetScanner.TimeoutMs) * time.Millisecond,
			MaxRetries: cfg.NetScanner.MaxRetries,
		}, orch, logger.Named("netscanner"), m, notifier)

		hub.Subscribe(ns)
		orch.AddDevice(orchestrator.Device{
			Name:   "netscanner",
			Boards: func() []uint8 { return []uint8{ns.ID()} },
			Status: ns.Status,
		})
		// a dead scanner must not take the logger down
		g.Go(func() error {
			if err := ns.Run(gctx); err != nil {
				logger.Error("network scanner stopped", zap.Error(err))
			}
			return nil
		})
	}

	// ---- gpio ----
	if cfg.GPIO.Enabled {
		p, err := poller.Build(cfg.GPIO)
		if err != nil {
			return err
		}
		gm := poller.NewManager(p, orch, logger.Named("gpio"), m)
		defer gm.Close()

		hub.Subscribe(gm)
		orch.AddDevice(orchestrator.Device{
			Name:   "gpio",
			Boards: func() []uint8 { return []uint8{gm.ID()} },
			Status: gm.Status,
		})
	}

	// --------------------
	// Surfaces
	// --------------------

	srv := server.New(orch, logger.Named("server"), m)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Listen) })

	if cfg.Ops.Listen != "" {
		o := ops.New(orch, m, logger.Named("ops"))
		g.Go(func() error { return o.ListenAndServe(gctx, cfg.Ops.Listen) })
	}

	err := g.Wait()

	// devices are stopped before their ports close (deferred above)
	if serr := orch.Shutdown(); serr != nil {
		logger.Error("shutdown", zap.Error(serr))
	}
	return err
}
