package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/asynclog"
	"github.com/Tyrowin/relaychat/internal/console"
	"github.com/Tyrowin/relaychat/internal/server"
)

func main() {
	cfg := server.NewConfigFromEnv()

	flag.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "interface to bind (empty for all)")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "address of the WebSocket/health/metrics gateway (empty to disable)")
	flag.StringVar(&cfg.LogPath, "log", cfg.LogPath, "event log file")
	flag.IntVar(&cfg.HistoryCapacity, "history", cfg.HistoryCapacity, "number of relayed lines kept in history")
	flag.IntVar(&cfg.GreetingSize, "greeting", cfg.GreetingSize, "number of history lines replayed to new clients")
	flag.IntVar(&cfg.MaxLineSize, "max-line", cfg.MaxLineSize, "maximum line length in bytes")
	noConsole := flag.Bool("no-console", false, "do not read operator commands from stdin")
	flag.Parse()

	out := zerolog.New(zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(os.Stdout),
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()

	logger := asynclog.New()
	if err := logger.Initialize(cfg.LogPath); err != nil {
		out.Error().Err(err).Msg("event log unavailable, continuing without it")
	}
	logger.Log("server starting")

	srv := server.New(cfg, logger, server.WithConsole(out))

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
				out.Warn().Err(err).Msg("shutdown did not complete in time")
			}
		})
	}

	if err := srv.Listen(cfg.Port); err != nil {
		logger.Shutdown()
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Logf("received signal %s", sig)
		stop()
	}()

	if !*noConsole {
		con := console.New(os.Stdin, out, srv, stop, logger)
		con.Banner()
		go func() {
			if err := con.Run(); err != nil && !errors.Is(err, console.ErrInputClosed) {
				out.Error().Err(err).Msg("console stopped")
			}
		}()
	}

	srv.Wait()
	signal.Stop(signals)
	logger.Log("server stopped")
	logger.Shutdown()
}
