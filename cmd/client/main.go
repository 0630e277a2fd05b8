package main

import (
	"flag"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/asynclog"
	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/server"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", server.DefaultPort, "server port")
	logPath := flag.String("log", client.DefaultLogPath, "event log file")
	flag.Parse()

	// Positional arguments mirror the flags: [host [port]].
	if flag.NArg() >= 1 {
		*host = flag.Arg(0)
	}
	if flag.NArg() >= 2 {
		p, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			flag.Usage()
			os.Exit(2)
		}
		*port = p
	}

	out := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("component", "client").Logger()

	logger := asynclog.New()
	if err := logger.Initialize(*logPath); err != nil {
		out.Warn().Err(err).Msg("event log unavailable, continuing without it")
	}
	defer logger.Shutdown()
	logger.Log("client starting")

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	c, err := client.Dial(addr, logger)
	if err != nil {
		out.Error().Err(err).Msg("could not connect")
		logger.Shutdown()
		os.Exit(1)
	}

	out.Info().Str("addr", addr).Msg("connected, type lines to chat ('sair' to quit)")
	if err := c.Run(os.Stdin, os.Stdout); err != nil {
		out.Error().Err(err).Msg("connection ended with an error")
	}
	out.Info().Msg("disconnected")
	logger.Log("client exiting")
}
