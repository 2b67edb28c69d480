package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
)

// tlsHandshake wraps crypto/tls's QUIC-specific engine (tls.QUICConn),
// translating its event stream into key installation and CRYPTO-frame
// traffic for the three packet-number spaces (spec §6 "TLS module").
type tlsHandshake struct {
	conn *tls.QUICConn

	done      bool
	confirmed bool

	peerParams Parameters

	keylog        keyLogSink
	secrets       map[string][]byte
	keylogFlushed bool
}

// keylogOrder is the fixed order spec §4.1/§6 mandates for the four
// NSS-format secret lines, independent of the order crypto/tls delivers the
// corresponding events in and of which role the Conn plays.
var keylogOrder = []string{
	"QUIC_SERVER_HANDSHAKE_TRAFFIC_SECRET",
	"QUIC_CLIENT_HANDSHAKE_TRAFFIC_SECRET",
	"QUIC_SERVER_TRAFFIC_SECRET_0",
	"QUIC_CLIENT_TRAFFIC_SECRET_0",
}

// keyLogSink receives the four NSS-format secret lines in the fixed order
// spec §6 names (SERVER_HANDSHAKE, CLIENT_HANDSHAKE, SERVER_TRAFFIC_0,
// CLIENT_TRAFFIC_0).
type keyLogSink interface {
	WriteLine(line string) error
}

func (c *Conn) initTLS(tlsConfig *tls.Config, params Parameters) error {
	qc := &tls.QUICConfig{TLSConfig: tlsConfig}
	if c.isClient {
		c.handshake.conn = tls.QUICClient(qc)
	} else {
		c.handshake.conn = tls.QUICServer(qc)
	}
	c.handshake.conn.SetTransportParameters(params.Marshal())
	if err := c.handshake.conn.Start(context.Background()); err != nil {
		return newError(InternalError, "tls start: "+err.Error())
	}
	return c.drainTLSEvents()
}

// drainTLSEvents pumps tls.QUICConn's event queue until it is empty,
// installing keys and queuing CRYPTO frames as each event demands.
func (c *Conn) drainTLSEvents() error {
	for {
		e := c.handshake.conn.NextEvent()
		switch e.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			space, err := spaceForLevel(e.Level)
			if err != nil {
				return err
			}
			c.packetNumberSpaces[space].opener = mustAEADKeys(e.Suite, e.Data)
			c.logSecret(e.Level, false, e.Data)
		case tls.QUICSetWriteSecret:
			space, err := spaceForLevel(e.Level)
			if err != nil {
				return err
			}
			c.packetNumberSpaces[space].sealer = mustAEADKeys(e.Suite, e.Data)
			c.logSecret(e.Level, true, e.Data)
		case tls.QUICWriteData:
			space, err := spaceForLevel(e.Level)
			if err != nil {
				return err
			}
			if space == packetSpaceInitial {
				c.captureClientRandom(e.Data)
			}
			c.packetNumberSpaces[space].cryptoStream.pushSend(e.Data)
		case tls.QUICHandshakeDone:
			c.handshake.done = true
			if !c.isClient {
				c.handshake.confirmed = true
			}
		case tls.QUICTransportParameters:
			p, err := UnmarshalParameters(e.Data)
			if err != nil {
				return err
			}
			c.peerParams = p
			c.handshake.peerParams = p
			if err := c.validatePeerTransportParams(); err != nil {
				return err
			}
		}
	}
}

func spaceForLevel(level tls.QUICEncryptionLevel) (packetSpace, error) {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial, nil
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake, nil
	case tls.QUICEncryptionLevelApplication:
		return packetSpaceApplication, nil
	default:
		return 0, newError(InternalError, fmt.Sprintf("unexpected tls level %v", level))
	}
}

// feedCrypto delivers a CRYPTO frame's payload (already offset-ordered by
// the space's CryptoStream) into the TLS engine and drains resulting
// events.
func (c *Conn) feedCrypto(space packetSpace) error {
	level, err := levelForSpace(space)
	if err != nil {
		return err
	}
	cs := &c.packetNumberSpaces[space].cryptoStream
	for {
		data := cs.readable()
		if len(data) == 0 {
			return nil
		}
		if space == packetSpaceInitial {
			c.captureClientRandom(data)
		}
		if err := c.handshake.conn.HandleData(level, data); err != nil {
			return tlsAlertError(err)
		}
		cs.consumed(len(data))
		if err := c.drainTLSEvents(); err != nil {
			return err
		}
	}
}

func levelForSpace(space packetSpace) (tls.QUICEncryptionLevel, error) {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial, nil
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake, nil
	case packetSpaceApplication:
		return tls.QUICEncryptionLevelApplication, nil
	default:
		return 0, newError(InternalError, "unexpected packet space")
	}
}

// tlsAlertError maps a TLS alert surfaced by crypto/tls into the
// CRYPTO_ERROR space (spec §7: "TLS alerts produce CONNECTION_CLOSE with
// error code 0x100 + alert_number").
func tlsAlertError(err error) *QuicConnectionError {
	var alertErr tls.AlertError
	if ok := tlsAsAlertError(err, &alertErr); ok {
		return newError(CryptoErrorBase+TransportErrorCode(alertErr), "tls alert")
	}
	return newError(InternalError, err.Error())
}

func tlsAsAlertError(err error, target *tls.AlertError) bool {
	return errors.As(err, target)
}

func mustAEADKeys(suite uint16, secret []byte) *aeadKeys {
	k, err := newAEADKeys(suite, secret)
	if err != nil {
		// crypto/tls only ever reports suites it itself negotiated, so a
		// failure here means our cipher table is missing an entry.
		panic(err)
	}
	return k
}

// logSecret records one of the four handshake/traffic secrets crypto/tls
// hands us. The secrets arrive one event at a time, in whatever order
// crypto/tls's QUIC engine happens to emit QUICSetReadSecret/
// QUICSetWriteSecret, so they are buffered here and only written out once
// all four are known (flushKeylogLocked), in the spec's fixed order.
func (c *Conn) logSecret(level tls.QUICEncryptionLevel, write bool, secret []byte) {
	if c.handshake.keylog == nil {
		return
	}
	var label string
	switch {
	case level == tls.QUICEncryptionLevelHandshake && write == !c.isClient:
		label = "QUIC_SERVER_HANDSHAKE_TRAFFIC_SECRET"
	case level == tls.QUICEncryptionLevelHandshake:
		label = "QUIC_CLIENT_HANDSHAKE_TRAFFIC_SECRET"
	case level == tls.QUICEncryptionLevelApplication && write == !c.isClient:
		label = "QUIC_SERVER_TRAFFIC_SECRET_0"
	case level == tls.QUICEncryptionLevelApplication:
		label = "QUIC_CLIENT_TRAFFIC_SECRET_0"
	default:
		return
	}
	if c.handshake.secrets == nil {
		c.handshake.secrets = make(map[string][]byte, len(keylogOrder))
	}
	c.handshake.secrets[label] = append([]byte(nil), secret...)
	c.flushKeylogLocked()
}

// flushKeylogLocked writes the four NSS-format secret lines once every one
// has arrived, always in the fixed order spec §4.1/§6 mandates
// (SERVER_HANDSHAKE, CLIENT_HANDSHAKE, SERVER_TRAFFIC_0, CLIENT_TRAFFIC_0)
// so client and server sinks end up byte-identical regardless of role or of
// crypto/tls's event-arrival order.
func (c *Conn) flushKeylogLocked() {
	if c.handshake.keylogFlushed {
		return
	}
	for _, label := range keylogOrder {
		if _, ok := c.handshake.secrets[label]; !ok {
			return
		}
	}
	for _, label := range keylogOrder {
		line := fmt.Sprintf("%s %x %x", label, c.clientRandom, c.handshake.secrets[label])
		_ = c.handshake.keylog.WriteLine(line)
	}
	c.handshake.keylogFlushed = true
}
