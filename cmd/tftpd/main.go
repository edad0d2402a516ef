package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftp/internal/client"
	"github.com/Pablu23/tftp/internal/observability"
	"github.com/Pablu23/tftp/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	case "put":
		runPut(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tftpd server [-config file]")
	fmt.Fprintln(os.Stderr, "       tftpd get <address> <remote> [local]")
	fmt.Fprintln(os.Stderr, "       tftpd put <address> <local> [remote]")
	os.Exit(2)
}

func runServer(args []string) {
	flags := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := flags.String("config", "", "path to TOML config file")
	flags.Parse(args)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Could not load config")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("Could not parse log level")
	}
	log.SetLevel(level)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(cfg.MetricsAddr); err != nil {
				log.WithError(err).Error("Metrics listener failed")
			}
		}()
	}

	srv, err := server.New(func(o *server.Options) {
		o.Address = cfg.Listen
		o.Datapath = cfg.DataDir
		o.Timeout = cfg.Timeout()
		o.Retries = cfg.Retries
		o.MaxSessions = cfg.MaxSessions
	})
	if err != nil {
		log.WithError(err).Fatal("Could not create server")
	}

	if err := srv.Serve(); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func runGet(args []string) {
	if len(args) < 2 {
		usage()
	}
	local := ""
	if len(args) > 2 {
		local = args[2]
	}

	if err := client.New().GetFile(args[0], args[1], local); err != nil {
		log.WithError(err).Fatal("Download failed")
	}
}

func runPut(args []string) {
	if len(args) < 2 {
		usage()
	}
	remote := ""
	if len(args) > 2 {
		remote = args[2]
	}

	if err := client.New().PutFile(args[0], args[1], remote); err != nil {
		log.WithError(err).Fatal("Upload failed")
	}
}
