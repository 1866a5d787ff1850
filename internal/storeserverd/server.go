// Package storeserverd implements the standalone store-and-forward
// server half of original_source's store_server.cpp: a TCP listener
// holding one mailbox per modem id, answering each client's RUDICS-
// framed poll with whatever has queued up for it since the last poll.
// The client half (embedded in a driver, polling) lives in
// internal/driver/storeserver.
package storeserverd

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/rs/xid"

	"github.com/goby-acomms/acomms/internal/driver/storeserver"
	"github.com/goby-acomms/acomms/internal/logx"
	"github.com/goby-acomms/acomms/internal/transmission"
)

var log = logx.Named("store_server")

// Mailbox holds messages queued for delivery to one modem id on its
// next poll.
type Mailbox struct {
	mu       sync.Mutex
	pending  []transmission.ModemTransmission
}

func (m *Mailbox) enqueue(msg transmission.ModemTransmission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, msg)
}

func (m *Mailbox) drain() []transmission.ModemTransmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// Server is the standalone store-and-forward daemon cmd/store-server
// runs.
type Server struct {
	Address string

	// OnDeliver is called with every message a polling modem submitted,
	// mirroring a driver's OnReceive; cmd/store-server wires this to
	// its own application logic (e.g. re-queuing toward another link).
	OnDeliver func(msg transmission.ModemTransmission)

	mu        sync.Mutex
	mailboxes map[transmission.ID]*Mailbox
	listener  net.Listener
}

// New returns a Server that listens on addr exactly as given; no
// default port is filled in.
func New(addr string) *Server {
	return &Server{Address: addr, mailboxes: make(map[transmission.ID]*Mailbox)}
}

// Deliver queues msg for delivery to msg.Dest's next poll, the entry
// point cmd/store-server uses to hand it traffic bound for a mobile
// node.
func (s *Server) Deliver(msg transmission.ModemTransmission) {
	s.mailbox(msg.Dest).enqueue(msg)
}

func (s *Server) mailbox(id transmission.ID) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		mb = &Mailbox{}
		s.mailboxes[id] = mb
	}
	return mb
}

// ListenAndServe blocks accepting connections until the listener is
// closed via Close.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	log.Info("store-server listening", "address", s.Address)

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	txID := xid.New()
	reader := bufio.NewReader(conn)
	log.Debug("store-server connection accepted", "remote", conn.RemoteAddr(), "txid", txID.String())

	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			log.Debug("store-server connection closed", "remote", conn.RemoteAddr(), "txid", txID.String(), "err", err)
			return
		}
		var req storeserver.Batch
		if err := json.Unmarshal([]byte(line[:len(line)-1]), &req); err != nil {
			log.Warn("store-server malformed request", "txid", txID.String(), "err", err)
			return
		}

		for _, msg := range req.Messages {
			if s.OnDeliver != nil {
				s.OnDeliver(msg)
			}
		}

		reply := storeserver.Batch{
			ModemID:  req.ModemID,
			Messages: s.mailbox(req.ModemID).drain(),
		}
		encoded, err := json.Marshal(reply)
		if err != nil {
			log.Warn("store-server reply encode failed", "txid", txID.String(), "err", err)
			return
		}
		if _, err := conn.Write(append(encoded, '\r')); err != nil {
			log.Debug("store-server reply write failed", "txid", txID.String(), "err", err)
			return
		}
	}
}
