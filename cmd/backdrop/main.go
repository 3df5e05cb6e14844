package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abihf/backdrop"
	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/protocol"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)
	runID := uuid.New().String()
	log = log.With().Str("run", runID).Logger()
	if cfg.MissingFile != "" {
		log.Warn().Str("path", cfg.MissingFile).Msg("Config file not found, using defaults")
	}

	if err := serve(cfg, log, runID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func serve(cfg *config.Config, log zerolog.Logger, runID string) error {
	if cfg.PidFile != "" {
		if isAlreadyRun(cfg.PidFile) {
			return errors.Errorf("already running (pid file %s)", cfg.PidFile)
		}
		if err := writeLockFile(cfg.PidFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.PidFile).Msg("Can not write pid file")
		} else {
			defer os.Remove(cfg.PidFile)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := backdrop.NewStats()
	started := time.Now()

	if cfg.Socket != "" {
		ln, err := listen(cfg.Socket)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Socket).Msg("Status socket disabled")
		} else {
			defer ln.Close()
			defer os.Remove(cfg.Socket)
			go accept(ln, log, func() map[string]string {
				extras := stats.Map()
				extras["run"] = runID
				extras["uptime"] = time.Since(started).Round(time.Second).String()
				extras["background"] = cfg.Background
				extras["frame_rate"] = strconv.Itoa(cfg.FrameRate)
				extras["codec"] = cfg.Codec
				extras["model"] = strconv.Itoa(cfg.Model)
				extras["threshold"] = strconv.FormatFloat(cfg.Threshold, 'g', -1, 64)
				return extras
			})
		}
	}

	ready := func() {
		daemon.SdNotify(false, daemon.SdNotifyReady)
	}
	err := backdrop.Run(ctx, cfg, backdrop.SystemDevices(), log, stats, ready)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "Listen error")
	}
	os.Chmod(path, 0o666)
	return ln, nil
}

func accept(ln net.Listener, log zerolog.Logger, status func() map[string]string) {
	log = log.With().Str("component", "status").Logger()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Accept error")
			return
		}
		go handle(conn, log, status)
	}
}

func handle(c net.Conn, log zerolog.Logger, status func() map[string]string) {
	defer c.Close()

	for {
		req, err := protocol.ReadReq(c)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("Can not read request")
			}
			return
		}

		switch req.Action {
		case protocol.ActionStatus:
			err = protocol.WriteSuccessRes(c, status())
		default:
			err = protocol.WriteErrorRes(c, errors.Errorf("unknown action %q", req.Action))
		}
		if err != nil {
			log.Debug().Err(err).Msg("Can not write response")
			return
		}
	}
}

func isAlreadyRun(path string) bool {
	pidStr, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidStr)))
	if err != nil {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func writeLockFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	return f.Close()
}
