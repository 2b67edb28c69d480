package transport

import "crypto/tls"

// Config carries the per-handshake configuration a Connection is built
// with: supported TLS versions and cipher suites are fixed at construction
// time through this builder rather than mutated afterward (spec §9 design
// note, responding to the monkey-patched-`_initialize` test pattern).
type Config struct {
	Version uint32
	Params  Parameters
	TLS     *tls.Config

	// TolerateUnknownFrames relaxes §4.7's "Any other type: PROTOCOL_VIOLATION"
	// default into the permissive reading of open question (a): a frame
	// type this wire format never assigned is treated as a bare, zero-length
	// no-op instead of a connection error.
	TolerateUnknownFrames bool

	// KeyLog, if set, receives the four NSS-format secret lines logged
	// during the handshake (spec §6 "Secrets log").
	KeyLog keyLogSink
}

// NewConfig builds a Config with this core's default parameters and the
// newest supported version, VersionDraft20.
func NewConfig(tlsConfig *tls.Config) *Config {
	return &Config{
		Version: VersionDraft20,
		Params:  DefaultParameters(),
		TLS:     tlsConfig,
	}
}
