package main

import (
	"log"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/draftquic/quic"
	"github.com/draftquic/quic/transport"
)

func newClientCommand() *cobra.Command {
	var (
		listenAddr string
		insecure   bool
		data       string
		verbosity  int
	)
	cmd := &cobra.Command{
		Use:   "client <address>",
		Short: "Connect to a QUIC server and send one request on stream 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			config := newConfig()
			config.TLS.ServerName = serverName(addr)
			config.TLS.InsecureSkipVerify = insecure

			handler := &clientHandler{data: data}
			client := quic.NewClient(config)
			client.SetHandler(handler)
			client.SetLogger(verbosity, os.Stdout)
			if err := client.ListenAndServe(listenAddr); err != nil {
				return err
			}
			handler.wg.Add(1)
			if err := client.Connect(addr); err != nil {
				return err
			}
			handler.wg.Wait()
			return client.Close()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:0", "listen on the given IP:port")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip verifying server certificate")
	cmd.Flags().StringVar(&data, "data", "GET /\r\n", "data to send on the first stream")
	cmd.Flags().IntVar(&verbosity, "v", 2, "log verbosity: 0=off 1=error 2=info 3=debug 4=trace")
	return cmd
}

type clientHandler struct {
	wg   sync.WaitGroup
	data string
}

func (h *clientHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		switch e.Type {
		case quic.EventConnAccept:
			st, err := c.CreateStream(false)
			if err != nil {
				log.Printf("%s: create stream: %v", c.RemoteAddr(), err)
				continue
			}
			if _, err := st.Write([]byte(h.data)); err != nil {
				log.Printf("%s: write: %v", c.RemoteAddr(), err)
			}
			_ = st.Close()
		case transport.EventStream:
			st := c.Stream(e.StreamID)
			if st == nil {
				continue
			}
			buf := make([]byte, 4096)
			n, _ := st.Read(buf)
			log.Printf("%s: stream %d received %d bytes:\n%s", c.RemoteAddr(), e.StreamID, n, buf[:n])
		case transport.EventConnectionClose:
			log.Printf("%s: connection closed: code=%d reason=%q", c.RemoteAddr(), e.ErrorCode, e.Reason)
		case quic.EventConnClose:
			h.wg.Done()
		}
	}
}
