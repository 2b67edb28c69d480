package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selfSignedCert builds a minimal ECDSA certificate good enough for an
// in-process TLS 1.3 handshake; nothing here is validated against a real
// trust root, which is why the matching client config sets
// InsecureSkipVerify.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "quic-test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// loopback wires two Conns' transport sinks into queues so a test can pump
// datagrams between them without reentering either Conn's mutex (spec §3
// "Transport sink" is a plain callback, not a scheduler), mirroring the
// FakeTransport.sendto/datagram_received loopback pattern.
type loopback struct {
	out [][]byte
}

func (l *loopback) sink(b []byte) error {
	l.out = append(l.out, append([]byte(nil), b...))
	return nil
}

func (l *loopback) drain() [][]byte {
	d := l.out
	l.out = nil
	return d
}

func newHandshakePair(t *testing.T) (client, server *Conn, clientIO, serverIO *loopback) {
	t.Helper()
	cert := selfSignedCert(t)

	clientConfig := &Config{
		Version: VersionDraft20,
		Params:  DefaultParameters(),
		TLS: &tls.Config{
			ServerName:         "quic-test",
			InsecureSkipVerify: true,
			NextProtos:         []string{"quic-test-proto"},
		},
	}
	serverConfig := &Config{
		Version: VersionDraft20,
		Params:  DefaultParameters(),
		TLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"quic-test-proto"},
		},
	}

	clientSCID, err := NewRandomCID()
	require.NoError(t, err)
	client, err = Connect(clientSCID, clientConfig)
	require.NoError(t, err)

	clientIO = &loopback{}
	client.SetTransportSink(clientIO.sink)

	require.NoError(t, client.ConnectionMade())
	first := clientIO.drain()
	require.NotEmpty(t, first, "client should produce an Initial flight")

	odcid, _, isLong, err := PeekConnectionIDs(first[0], 0)
	require.NoError(t, err)
	require.True(t, isLong, "client's first packet should be long-header")

	serverSCID, err := NewRandomCID()
	require.NoError(t, err)
	server, err = Accept(serverSCID, odcid, serverConfig)
	require.NoError(t, err)

	serverIO = &loopback{}
	server.SetTransportSink(serverIO.sink)

	pending := first
	const maxRounds = 20
	for i := 0; i < maxRounds; i++ {
		for _, d := range pending {
			require.NoError(t, server.DatagramReceived(d))
		}
		toClient := serverIO.drain()
		for _, d := range toClient {
			require.NoError(t, client.DatagramReceived(d))
		}
		pending = clientIO.drain()

		if client.State() == "connected" && server.State() == "connected" && len(pending) == 0 {
			break
		}
	}

	require.Equal(t, "connected", client.State())
	require.Equal(t, "connected", server.State())
	return client, server, clientIO, serverIO
}

func pump(t *testing.T, to *Conn, fromIO *loopback) {
	t.Helper()
	for _, d := range fromIO.drain() {
		require.NoError(t, to.DatagramReceived(d))
	}
}

func TestConnectHandshakeCompletes(t *testing.T) {
	client, server, _, _ := newHandshakePair(t)
	require.True(t, client.IsClient())
	require.False(t, server.IsClient())
}

func TestConnectStreamDataExchange(t *testing.T) {
	client, server, clientIO, serverIO := newHandshakePair(t)

	st, err := client.CreateStream(false)
	require.NoError(t, err)
	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	pump(t, server, clientIO)

	serverStream := server.Stream(st.ID())
	require.NotNil(t, serverStream, "server never saw the client's stream")

	buf := make([]byte, 1024)
	n, err := serverStream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, st.Close())
	pump(t, server, clientIO)

	_, err = serverStream.Read(buf)
	require.Error(t, err, "expected EOF after the client's FIN")
	pump(t, client, serverIO)
}

// memoryKeyLog collects NSS-format lines in the order WriteLine was called,
// mirroring a keylogfile sink without touching the filesystem.
type memoryKeyLog struct {
	lines []string
}

func (k *memoryKeyLog) WriteLine(line string) error {
	k.lines = append(k.lines, line)
	return nil
}

// TestKeylogFixedOrderAndRoleSymmetry checks spec §4.1/§6's mandatory
// secrets-log scenario: both sides must emit the four NSS-format lines in
// the fixed SERVER_HANDSHAKE, CLIENT_HANDSHAKE, SERVER_TRAFFIC_0,
// CLIENT_TRAFFIC_0 order, and the two sides' logs must be byte-identical.
func TestKeylogFixedOrderAndRoleSymmetry(t *testing.T) {
	cert := selfSignedCert(t)
	clientLog := &memoryKeyLog{}
	serverLog := &memoryKeyLog{}

	clientConfig := &Config{
		Version: VersionDraft20,
		Params:  DefaultParameters(),
		TLS: &tls.Config{
			ServerName:         "quic-test",
			InsecureSkipVerify: true,
			NextProtos:         []string{"quic-test-proto"},
		},
		KeyLog: clientLog,
	}
	serverConfig := &Config{
		Version: VersionDraft20,
		Params:  DefaultParameters(),
		TLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"quic-test-proto"},
		},
		KeyLog: serverLog,
	}

	clientSCID, err := NewRandomCID()
	require.NoError(t, err)
	client, err := Connect(clientSCID, clientConfig)
	require.NoError(t, err)
	clientIO := &loopback{}
	client.SetTransportSink(clientIO.sink)
	require.NoError(t, client.ConnectionMade())
	first := clientIO.drain()
	require.NotEmpty(t, first)

	odcid, _, _, err := PeekConnectionIDs(first[0], 0)
	require.NoError(t, err)

	serverSCID, err := NewRandomCID()
	require.NoError(t, err)
	server, err := Accept(serverSCID, odcid, serverConfig)
	require.NoError(t, err)
	serverIO := &loopback{}
	server.SetTransportSink(serverIO.sink)

	pending := first
	const maxRounds = 20
	for i := 0; i < maxRounds; i++ {
		for _, d := range pending {
			require.NoError(t, server.DatagramReceived(d))
		}
		toClient := serverIO.drain()
		for _, d := range toClient {
			require.NoError(t, client.DatagramReceived(d))
		}
		pending = clientIO.drain()
		if client.State() == "connected" && server.State() == "connected" && len(pending) == 0 {
			break
		}
	}
	require.Equal(t, "connected", client.State())
	require.Equal(t, "connected", server.State())

	wantLabels := []string{
		"QUIC_SERVER_HANDSHAKE_TRAFFIC_SECRET",
		"QUIC_CLIENT_HANDSHAKE_TRAFFIC_SECRET",
		"QUIC_SERVER_TRAFFIC_SECRET_0",
		"QUIC_CLIENT_TRAFFIC_SECRET_0",
	}
	require.Len(t, clientLog.lines, len(wantLabels))
	require.Len(t, serverLog.lines, len(wantLabels))
	for i, label := range wantLabels {
		require.Contains(t, clientLog.lines[i], label)
	}
	require.Equal(t, clientLog.lines, serverLog.lines, "client and server keylog sinks must be byte-identical")
}

func TestConnectCloseReachesPeer(t *testing.T) {
	client, server, clientIO, _ := newHandshakePair(t)

	require.NoError(t, client.Close(true, 0, "bye"))
	pump(t, server, clientIO)

	var sawClose bool
	for _, e := range server.Events() {
		if e.Type == EventConnectionClose {
			sawClose = true
		}
	}
	require.True(t, sawClose, "server never observed EventConnectionClose")
}
