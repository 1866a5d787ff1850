// Command iridium-shore is the shore-side daemon: it runs the RUDICS
// TCP server and SBD backend of internal/driver/iridiumshore, announces
// itself over DNS-SD for mobile operators to discover, and exports
// Prometheus metrics, following the same pflag-over-YAML daemon shape
// as cmd/acommsd.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/goby-acomms/acomms/internal/clock"
	"github.com/goby-acomms/acomms/internal/config"
	"github.com/goby-acomms/acomms/internal/discovery"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/driver/iridiumshore"
	"github.com/goby-acomms/acomms/internal/logx"
	"github.com/goby-acomms/acomms/internal/metrics"
)

var log = logx.Named("iridium-shore")

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
	if len(cfg.Drivers) == 0 {
		log.Fatal("no drivers configured")
	}

	clk := clock.New()
	met := metrics.New()
	if cfg.Metrics.ListenAddress != "" {
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, met.Handler()); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	dc := cfg.Drivers[0]
	backend := iridiumshore.BackendDirectIP
	if dc.RockBLOCKListenAddr != "" {
		backend = iridiumshore.BackendRockBLOCK
	}
	shore := iridiumshore.New(clk, iridiumshore.Config{
		RUDICSListenAddress:    dc.RUDICSListenAddress,
		SBDBackend:             backend,
		ClientID:               dc.ClientID,
		DirectIPListenAddress:  fmt.Sprintf(":%d", dc.DirectIPListenPort),
		DirectIPGatewayAddress: dc.DirectIPGatewayHost,
		RockBLOCKListenAddress: dc.RockBLOCKListenAddr,
		RockBLOCKJWTSecret:     dc.RockBLOCKJWTSecret,
		RockBLOCKServerURL:     dc.RockBLOCKServerURL,
		RockBLOCKUsername:      dc.RockBLOCKUsername,
		RockBLOCKPassword:      dc.RockBLOCKPassword,
	})

	sup := driver.NewSupervisor(clk, shore, time.Duration(dc.BackoffSeconds*float64(time.Second)))
	sup.Start(driver.Config{ModemID: dc.ModemID, Type: "IRIDIUM_SHORE", BackoffSeconds: dc.BackoffSeconds})

	var adv *discovery.Advertiser
	if cfg.Discovery.Enabled {
		adv, err = discovery.Announce(cfg.Discovery.ServiceName, cfg.Discovery.Port)
		if err != nil {
			log.Warn("discovery announce failed", "err", err)
		}
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		close(stop)
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	log.Info("iridium-shore starting", "rudics_listen", dc.RUDICSListenAddress)

loop:
	for {
		select {
		case <-ticker.C:
			sup.DoWork()
			met.ObserveDriverReport("iridium_shore", sup.Report())
		case <-stop:
			break loop
		}
	}

	adv.Stop()
	sup.Shutdown()
}
