package harness

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// ResolverDNSAddr is the fixed loopback address every harnessed resolver
// is configured (via its own config, not ours) to listen on for client
// queries; the resolver under test always listens on 127.0.0.1:53
// regardless of which harness drives it.
const ResolverDNSAddr = "127.0.0.1:53"

// maxUDPDatagram is large enough for any EDNS-advertised UDP payload a
// resolver under test might send back.
const maxUDPDatagram = 65535

// exchange sends query to the resolver and waits up to deadline for one
// reply datagram whose header id matches. No connection pool and no
// truncation retry: a harness only ever talks to one resolver process for
// one fire-and-collect round trip.
func exchange(ctx context.Context, query dnswire.Message, deadline time.Duration) (*dnswire.Message, error) {
	conn, err := net.Dial("udp4", ResolverDNSAddr)
	if err != nil {
		return nil, fmt.Errorf("harness: dial resolver: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok && dl.Before(time.Now().Add(deadline)) {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(deadline))
	}

	raw, err := query.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: encode client query: %v", ErrCodecError, err)
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("harness: write client query: %w", err)
	}

	buf := make([]byte, maxUDPDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, nil
			}
			return nil, fmt.Errorf("harness: read response: %w", err)
		}
		msg, err := dnswire.ParseMessage(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("%w: parse response: %v", ErrCodecError, err)
		}
		if msg.Header.ID != query.Header.ID {
			continue
		}
		return &msg, nil
	}
}
