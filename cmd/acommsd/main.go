// Command acommsd is the mobile-side acomms daemon: it loads a YAML
// configuration, wires exactly one modem driver to a MAC and a
// QueueManager through internal/portal, and runs the cooperative
// do_work loop until signalled to stop. The daemon shape (pflag
// overriding a decoded config struct, then a blocking run loop) follows
// cmd/direwolf/main.go's top-level structure, generalized from a single
// monolithic C program to this module's Driver/MAC/Queue/Portal split.
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
	"github.com/goby-acomms/acomms/internal/codec"
	"github.com/goby-acomms/acomms/internal/config"
	"github.com/goby-acomms/acomms/internal/driver"
	"github.com/goby-acomms/acomms/internal/driver/abc"
	"github.com/goby-acomms/acomms/internal/driver/iridium"
	"github.com/goby-acomms/acomms/internal/driver/storeserver"
	"github.com/goby-acomms/acomms/internal/driver/udp"
	"github.com/goby-acomms/acomms/internal/driver/udpmulticast"
	"github.com/goby-acomms/acomms/internal/lineio"
	"github.com/goby-acomms/acomms/internal/logx"
	"github.com/goby-acomms/acomms/internal/mac"
	"github.com/goby-acomms/acomms/internal/metrics"
	"github.com/goby-acomms/acomms/internal/portal"
	"github.com/goby-acomms/acomms/internal/queue"
	"github.com/goby-acomms/acomms/internal/transmission"
)

var log = logx.Named("acommsd")

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

	c := codec.NewJSON()
	qm := queue.NewManager(clk, c, cfg.ModemID, queue.Handlers{
		OnSizeChange: func(name string, size int) { met.SetQueueSize(name, size) },
		OnAck:        func(name string, _ queue.Entry) { met.IncQueueAcked(name) },
		OnExpire:     func(name string, _ queue.Entry) { met.IncQueueExpired(name) },
		OnReceive: func(name string, payload any) {
			log.Debug("loopback delivery", "queue", name)
		},
	})
	for _, qd := range cfg.Queues {
		qm.Register(qd.Name, queue.QueueDef{Config: queue.Config{
			MaxQueue:        qd.MaxQueue,
			Ack:             qd.Ack,
			BlackoutSeconds: qd.BlackoutSeconds,
			TTLSeconds:      qd.TTLSeconds,
			ValueBase:       qd.ValueBase,
			NewestFirst:     qd.NewestFirst,
		}})
	}

	d, err := buildDriver(clk, cfg.Drivers[0])
	if err != nil {
		log.Fatal("building driver failed", "err", err)
	}
	sup := driver.NewSupervisor(clk, d, time.Duration(cfg.Drivers[0].BackoffSeconds*float64(time.Second)))

	link := &portal.Link{
		Name:       cfg.Drivers[0].Type,
		Driver:     sup,
		QueueMgr:   qm,
		FrameBytes: cfg.Drivers[0].MaxFrameBytes,
	}

	var frameCounter uint32
	bound := portal.BindLink(link, c, &frameCounter)
	link.MAC = mac.New(clk, mac.EventHandlers{
		SlotStart: func(slot transmission.ModemTransmission) {
			met.ObserveSlotStart()
			if bound.SlotStart != nil {
				bound.SlotStart(slot)
			}
		},
		InitiateTransmission: func(slot transmission.ModemTransmission) {
			met.ObserveInitiateTransmission()
			if bound.InitiateTransmission != nil {
				bound.InitiateTransmission(slot)
			}
		},
	})
	link.MAC.Startup(cfg.MAC.ToMACConfig(cfg.ModemID))

	sup.Start(driver.Config{
		ModemID:         cfg.Drivers[0].ModemID,
		Type:            cfg.Drivers[0].Type,
		BackoffSeconds:  cfg.Drivers[0].BackoffSeconds,
		RawLogTimestamp: cfg.Drivers[0].RawLogTimestamp,
	})

	p := portal.New(clk, time.Second)
	p.AddLink(link)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		close(stop)
	}()

	log.Info("acommsd starting", "modem_id", cfg.ModemID, "driver", cfg.Drivers[0].Type)
	p.Run(50*time.Millisecond, stop)
	link.Driver.Shutdown()
}

func buildDriver(clk *clock.Clock, dc config.DriverConfig) (driver.Driver, error) {
	switch dc.Type {
	case "IRIDIUM":
		line := &lineio.Serial{Device: dc.Device, Baud: dc.BaudRate}
		return iridium.New(clk, line, iridium.Config{Device: dc.Device, Baud: dc.BaudRate, DTRHangup: dc.DTRHangup}), nil
	case "UDP":
		return udp.New(udp.Config{LocalAddress: dc.LocalAddress, Peers: []string{dc.RemoteAddress}}), nil
	case "UDP_MULTICAST":
		return udpmulticast.New(udpmulticast.Config{LocalAddress: dc.LocalAddress, Group: dc.MulticastGroup}), nil
	case "ABC":
		return abc.New(abc.Config{Device: dc.Device, BaudRate: dc.BaudRate}), nil
	case "STORE_SERVER":
		return storeserver.New(clk, storeserver.Config{
			ServerAddress: dc.ServerAddress,
			QueryInterval: time.Duration(dc.QueryInterval * float64(time.Second)),
			ResetInterval: time.Duration(dc.ResetInterval * float64(time.Second)),
			MaxFrameBytes: dc.MaxFrameBytes,
		}), nil
	default:
		return nil, fmt.Errorf("acommsd: unknown driver type %q", dc.Type)
	}
}
