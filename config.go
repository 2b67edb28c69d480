package quic

import (
	"crypto/tls"

	"github.com/draftquic/quic/transport"
)

// Config carries the socket-level defaults a Client or Server is built
// with, wrapping a transport.Config the way the teacher's root package
// wraps its connection core.
type Config struct {
	TLS *tls.Config

	Version uint32
	Params  transport.Parameters

	// MaxConnections bounds how many simultaneous remoteConn entries a
	// Server keeps demultiplexed by CID before it starts dropping
	// Initial packets for new clients.
	MaxConnections int

	TolerateUnknownFrames bool
}

// newConfig builds a socket-level Config with this core's transport
// defaults, grounded on the teacher's cmd/quince newConfig helper.
func newConfig() *Config {
	return &Config{
		TLS:            &tls.Config{NextProtos: []string{"quic-draft"}},
		Version:        transport.VersionDraft20,
		Params:         transport.DefaultParameters(),
		MaxConnections: 1024,
	}
}

func (c *Config) transportConfig() *transport.Config {
	return &transport.Config{
		Version:               c.Version,
		Params:                c.Params,
		TLS:                   c.TLS,
		TolerateUnknownFrames: c.TolerateUnknownFrames,
	}
}
