package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/distribd/qimw/transport"
)

// Dialer dials the "tcp" protocol: plaintext gRPC. TLS-terminated
// connections are served by internal/transport/wstransport's "tcps"
// protocol instead.
type Dialer struct {
	opts []grpc.DialOption
}

// NewDialer returns a Dialer using extra grpc.DialOption values on top of
// insecure transport credentials.
func NewDialer(opts ...grpc.DialOption) *Dialer {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return &Dialer{opts: opts}
}

func (d *Dialer) Protocol() string { return "tcp" }

func (d *Dialer) Dial(ctx context.Context, url transport.URL) (transport.Socket, error) {
	target := fmt.Sprintf("%s:%d", url.Host, url.Port)
	cc, err := grpc.NewClient(target, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", target, err)
	}

	desc := bidiStreamDesc(nil)
	stream, err := cc.NewStream(ctx, &desc, streamFullName, grpc.CallContentSubtype(codecName))
	if err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("grpctransport: open stream to %s: %w", target, err)
	}

	return newSocket(url, stream, cc.Close), nil
}
