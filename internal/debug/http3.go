package debug

import (
	"crypto/tls"
	"net"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server serves the diagnostics endpoints over HTTP/3 for deployments
// that front everything with QUIC. TLS configuration is the caller's.
type HTTP3Server struct {
	srv   *http3.Server
	pc    net.PacketConn
	addr  string
	close func() error
}

// NewHTTP3Server creates a diagnostics server bound to addr.
func NewHTTP3Server(src StatsSource, addr string, tlsCfg *tls.Config) *HTTP3Server {
	s := &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: NewMux(src)}
	return &HTTP3Server{srv: s, addr: addr}
}

// Start begins serving; with ":0" the actual bound address is returned by
// Addr after Start.
func (s *HTTP3Server) Start() (string, error) {
	var err error
	s.pc, err = net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	realAddr := s.pc.LocalAddr().String()
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(s.pc)
		close(done)
	}()
	s.close = func() error {
		_ = s.pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
	return realAddr, nil
}

// Stop stops the server.
func (s *HTTP3Server) Stop() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}
