// Command store-server is the standalone store-and-forward daemon of
// original_source's store_server.cpp: it holds one mailbox per modem id
// and answers each client's poll with whatever has queued up since the
// last one. internal/driver/storeserver is the client half this
// daemon's peers embed.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/goby-acomms/acomms/internal/config"
	"github.com/goby-acomms/acomms/internal/logx"
	"github.com/goby-acomms/acomms/internal/storeserverd"
	"github.com/goby-acomms/acomms/internal/transmission"
)

var log = logx.Named("store-server")

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg = flags.Apply(cfg)

	if lvl, err := charmlog.ParseLevel(cfg.Logging.Level); err == nil {
		logx.Configure(lvl, cfg.Logging.Path, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays)
	}

	addr := ":11244"
	if len(cfg.Drivers) > 0 && cfg.Drivers[0].ServerAddress != "" {
		addr = cfg.Drivers[0].ServerAddress
	}

	srv := storeserverd.New(addr)
	srv.OnDeliver = func(msg transmission.ModemTransmission) {
		log.Debug("store-server received message", "src", msg.Src, "dest", msg.Dest)
		if msg.Dest != msg.Src {
			srv.Deliver(msg)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		srv.Close()
	}()

	log.Info("store-server starting", "address", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("store-server stopped", "err", err)
	}
}
