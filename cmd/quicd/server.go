package main

import (
	"crypto/tls"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/draftquic/quic"
	"github.com/draftquic/quic/transport"
)

func newServerCommand() *cobra.Command {
	var (
		listenAddr string
		certFile   string
		keyFile    string
		verbosity  int
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept QUIC connections and echo every stream's bytes back",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				return err
			}
			config := newConfig()
			config.TLS.Certificates = []tls.Certificate{cert}

			server := quic.NewServer(config)
			server.SetHandler(&echoHandler{})
			server.SetLogger(verbosity, os.Stdout)
			log.Printf("listening on %s", listenAddr)
			return server.ListenAndServe(listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "listen on the given IP:port")
	cmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file (PEM)")
	cmd.Flags().StringVar(&keyFile, "key", "", "TLS private key file (PEM)")
	cmd.Flags().IntVar(&verbosity, "v", 2, "log verbosity: 0=off 1=error 2=info 3=debug 4=trace")
	cmd.MarkFlagRequired("cert")
	cmd.MarkFlagRequired("key")
	return cmd
}

// echoHandler writes back to the peer every stream it reads data from,
// and closes its own side once the peer signals FIN.
type echoHandler struct{}

func (h *echoHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		switch e.Type {
		case quic.EventConnAccept:
			log.Printf("%s: accepted", c.RemoteAddr())
		case transport.EventStream:
			st := c.Stream(e.StreamID)
			if st == nil {
				continue
			}
			buf := make([]byte, 4096)
			n, err := st.Read(buf)
			if n > 0 {
				if _, werr := st.Write(buf[:n]); werr != nil {
					log.Printf("%s: echo write: %v", c.RemoteAddr(), werr)
				}
			}
			if err != nil {
				_ = st.Close()
			}
		case transport.EventStreamReset:
			log.Printf("%s: stream %d reset: %v", c.RemoteAddr(), e.StreamID, e.ErrorCode)
		case transport.EventConnectionClose:
			log.Printf("%s: connection closed: code=%d reason=%q", c.RemoteAddr(), e.ErrorCode, e.Reason)
		case quic.EventConnClose:
			log.Printf("%s: torn down", c.RemoteAddr())
		}
	}
}
