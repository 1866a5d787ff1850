// Package discovery advertises a running shore-side daemon over
// mDNS/DNS-SD so a mobile operator's laptop can find it without a
// hard-coded address, directly adapting the teacher's dns_sd_announce
// (src/dns_sd.go) from announcing a KISS-over-TCP service to announcing
// an acomms shore service.
package discovery

import (
	"context"
	"fmt"
	"os"

	"github.com/brutella/dnssd"

	"github.com/goby-acomms/acomms/internal/logx"
)

// ServiceType is the DNS-SD service type this module announces,
// following the teacher's "_kiss-tnc._tcp" naming convention.
const ServiceType = "_acomms-shore._tcp"

var log = logx.Named("discovery")

// Advertiser owns one running DNS-SD responder.
type Advertiser struct {
	responder dnssd.Responder
	cancel    context.CancelFunc
}

// Announce starts advertising name on port, the direct analogue of
// dns_sd_announce's Config/NewService/NewResponder/Add/Respond sequence.
func Announce(name string, port int) (*Advertiser, error) {
	if name == "" {
		name, _ = defaultServiceName()
	}

	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: create responder: %w", err)
	}

	if _, err := rp.Add(sv); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Advertiser{responder: rp, cancel: cancel}

	log.Info("announcing shore service", "port", port, "name", name)
	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			log.Error("dns-sd responder stopped", "err", err)
		}
	}()
	return a, nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	if a == nil {
		return
	}
	a.cancel()
}

func defaultServiceName() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "acomms-shore", nil
	}
	return "acomms-shore@" + host, nil
}
