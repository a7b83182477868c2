package wstransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/distribd/qimw/transport"
)

// Dialer dials the "tcps" protocol: a TLS-terminated WebSocket, the
// second concrete transport.Dialer alongside grpctransport's "tcp"
// (spec §6 transport contract, satisfied by more than one implementation
// to demonstrate pluggability).
type Dialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewDialer returns a Dialer using tlsConfig for the wss:// handshake
// (nil uses the default TLS configuration).
func NewDialer(tlsConfig *tls.Config) *Dialer {
	return &Dialer{dialer: &websocket.Dialer{TLSClientConfig: tlsConfig}}
}

func (d *Dialer) Protocol() string { return "tcps" }

func (d *Dialer) Dial(ctx context.Context, url transport.URL) (transport.Socket, error) {
	addr := fmt.Sprintf("wss://%s:%d/", url.Host, url.Port)
	conn, _, err := d.dialer.DialContext(ctx, addr, d.header)
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial %s: %w", addr, err)
	}
	return newSocket(url, conn), nil
}
