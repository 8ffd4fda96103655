// cmd/loggerctl/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/client"
	"github.com/tamzrod/datalogger/internal/config"
	"github.com/tamzrod/datalogger/internal/logging"
	"github.com/tamzrod/datalogger/internal/store"
)

const usage = `usage: loggerctl [flags] <command> [args]

commands:
  status          show whether the logger is logging
  start           start a logging session
  stop            stop the session and list sessions
  sessions        list sessions
  download ID     download a session into the local store
  board ARGS...   relay a command to an expansion board
  boards          list connected boards
  reset           reset the logger protocol state
  watch           print live readings while logging

flags:
`

func main() {
	addr := flag.String("addr", "127.0.0.1"+config.DefaultListen, "logger address")
	timeout := flag.Duration("timeout", 30*time.Second, "reply timeout")
	storePath := flag.String("store", "", "local snapshot file for sessions and downloads")
	update := flag.Duration("update", time.Second, "UPDATE interval for watch")
	scannerID := flag.Uint("scanner-id", uint(board.NetScannerID), "board id of the logger's network scanner")
	gpioID := flag.Uint("gpio-id", uint(board.GPIOID), "board id of the logger's GPIO module")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(config.LogConfig{Level: level, Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := client.Options{}
	if flag.Arg(0) == "watch" {
		opts.UpdateInterval = *update
	}

	boards, err := boardSet(*scannerID, *gpioID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loggerctl:", err)
		os.Exit(2)
	}

	if err := run(ctx, *addr, *timeout, *storePath, opts, boards, flag.Args(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "loggerctl:", err)
		os.Exit(1)
	}
}

// boardSet lists the boards frames are decoded with. The network boards
// take the ids the logger was configured with.
func boardSet(scannerID, gpioID uint) ([]board.Board, error) {
	for _, f := range []struct {
		name string
		id   uint
	}{{"scanner-id", scannerID}, {"gpio-id", gpioID}} {
		if f.id > 0xFF {
			return nil, fmt.Errorf("-%s %d out of range", f.name, f.id)
		}
	}
	return []board.Board{
		board.Basic(),
		board.Motor(),
		board.NetScanner(uint8(scannerID)),
		board.GPIO(uint8(gpioID)),
	}, nil
}

func run(ctx context.Context, addr string, timeout time.Duration, storePath string, opts client.Options, boards []board.Board, args []string, logger *zap.Logger) error {
	st, err := store.Open(storePath, logger.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Save(); err != nil {
			logger.Error("snapshot not saved", zap.Error(err))
		}
	}()

	reg := board.NewRegistry(st, logger.Named("board"))
	for _, b := range boards {
		if err := reg.Register(b); err != nil {
			return err
		}
	}

	ev := newEvents(client.NewRecorder(st, reg, logger.Named("recorder")))
	c, err := client.Dial(ctx, addr, ev, logger.Named("client"), opts)
	if err != nil {
		return err
	}
	defer c.Close()

	s := &session{c: c, ev: ev, timeout: timeout, ctx: ctx}
	if _, err := s.waitState("Idle", "Logging"); err != nil {
		return err
	}

	switch cmd := args[0]; cmd {
	case "status":
		fmt.Println(c.State())
		return nil
	case "start":
		return s.start()
	case "stop":
		return s.stop()
	case "sessions":
		return s.sessions()
	case "download":
		if len(args) != 2 {
			return errors.New("download needs a session id")
		}
		return s.download(args[1])
	case "board":
		if len(args) < 2 {
			return errors.New("board needs a command")
		}
		return s.board(args[1:])
	case "boards":
		return s.boards()
	case "reset":
		return s.reset()
	case "watch":
		return s.watch()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
