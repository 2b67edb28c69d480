package main

import (
	"crypto/tls"

	"github.com/draftquic/quic"
	"github.com/draftquic/quic/transport"
)

// newConfig mirrors the teacher's cmd/quince newConfig: a quic.Config
// ready for either client or server use, with the stream/data credits a
// one-request-one-response demo needs.
func newConfig() *quic.Config {
	cfg := &quic.Config{
		TLS: &tls.Config{
			NextProtos: []string{"quicd-demo"},
		},
		Version:        transport.VersionDraft20,
		Params:         transport.DefaultParameters(),
		MaxConnections: 1024,
	}
	return cfg
}

func serverName(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		switch addr[i] {
		case ']':
			return addr
		case ':':
			return addr[:i]
		}
	}
	return addr
}
