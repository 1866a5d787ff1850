package lineio

import (
	"net"
	"sync"
	"time"
)

// UDP is the LineIO backend for the udp and udpmulticast drivers: each
// packet is one complete message, so there is no delimiter framing to do —
// ReadLine hands back whatever one recvfrom returned.
type UDP struct {
	LocalAddress  string // address to bind, e.g. ":4000"
	RemoteAddress string // default destination for Write; optional
	Multicast     string // join this group on the system default interface (LocalAddress's port), if set

	mu   sync.Mutex
	conn *net.UDPConn
	rbuf [2048]byte
}

func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	laddr, err := net.ResolveUDPAddr("udp", u.LocalAddress)
	if err != nil {
		return newTransportError("udp_resolve", u.LocalAddress, err)
	}

	var conn *net.UDPConn
	if u.Multicast != "" {
		group, err := net.ResolveUDPAddr("udp", u.Multicast)
		if err != nil {
			return newTransportError("udp_resolve_multicast", u.Multicast, err)
		}
		conn, err = net.ListenMulticastUDP("udp", nil, &net.UDPAddr{IP: group.IP, Port: laddr.Port})
		if err != nil {
			return newTransportError("udp_listen_multicast", u.Multicast, err)
		}
	} else {
		conn, err = net.ListenUDP("udp", laddr)
		if err != nil {
			return newTransportError("udp_listen", u.LocalAddress, err)
		}
	}
	u.conn = conn
	return nil
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *UDP) Write(data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return newTransportError("udp_write", u.LocalAddress, errNotStarted)
	}

	dest := u.RemoteAddress
	if u.Multicast != "" {
		dest = u.Multicast
	}
	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return newTransportError("udp_resolve_remote", dest, err)
	}
	if _, err := u.conn.WriteToUDP(data, raddr); err != nil {
		return newTransportError("udp_write", dest, err)
	}
	return nil
}

func (u *UDP) ReadLine() ([]byte, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil, false, newTransportError("udp_read", u.LocalAddress, errNotStarted)
	}

	u.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, _, err := u.conn.ReadFromUDP(u.rbuf[:])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, newTransportError("udp_read", u.LocalAddress, err)
	}
	out := make([]byte, n)
	copy(out, u.rbuf[:n])
	return out, true, nil
}
