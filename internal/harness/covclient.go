package harness

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Coverage control protocol commands/replies: every frame over the TCP
// control socket is [cmd byte][len u32 little-endian][payload].
const (
	cmdHello byte = iota
	cmdReset
	cmdSnapshot
	cmdPing
	cmdPong
)

// maxFramePayload bounds a single control-frame payload, guarding against a
// misbehaving shim claiming an absurd bitmap size.
const maxFramePayload = 1 << 24

// CovClient is a connection to one resolver's coverage control socket.
type CovClient struct {
	conn        net.Conn
	BitmapSize  int
	ShimVersion uint16
}

// DialCovClient connects to addr within the bounded warmup window and
// performs the HELLO handshake, learning the resolver's bitmap size.
// Bitmap size is stable for one resolver process but not across respawns,
// so every reconnect re-fetches it.
func DialCovClient(addr string, warmup time.Duration) (*CovClient, error) {
	conn, err := net.DialTimeout("tcp", addr, warmup)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrControlProtocol, addr, err)
	}
	c := &CovClient{conn: conn}
	if err := c.hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *CovClient) hello() error {
	if err := writeFrame(c.conn, cmdHello, nil); err != nil {
		return fmt.Errorf("%w: hello: %v", ErrControlProtocol, err)
	}
	_, payload, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("%w: hello reply: %v", ErrControlProtocol, err)
	}
	if len(payload) < 6 {
		return fmt.Errorf("%w: short hello reply", ErrControlProtocol)
	}
	c.BitmapSize = int(binary.LittleEndian.Uint32(payload[0:4]))
	c.ShimVersion = binary.LittleEndian.Uint16(payload[4:6])
	return nil
}

// Reset zeroes the resolver's bitmap and waits for the ack.
func (c *CovClient) Reset() error {
	if err := writeFrame(c.conn, cmdReset, nil); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrControlProtocol, err)
	}
	if _, _, err := readFrame(c.conn); err != nil {
		return fmt.Errorf("%w: reset ack: %v", ErrControlProtocol, err)
	}
	return nil
}

// Snapshot pulls the current bitmap bytes.
func (c *CovClient) Snapshot() ([]byte, error) {
	if err := writeFrame(c.conn, cmdSnapshot, nil); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrControlProtocol, err)
	}
	_, payload, err := readFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot reply: %v", ErrControlProtocol, err)
	}
	return payload, nil
}

// Ping checks liveness.
func (c *CovClient) Ping() error {
	if err := writeFrame(c.conn, cmdPing, nil); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrControlProtocol, err)
	}
	cmd, _, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("%w: pong: %v", ErrControlProtocol, err)
	}
	if cmd != cmdPong {
		return fmt.Errorf("%w: expected pong, got %d", ErrControlProtocol, cmd)
	}
	return nil
}

// Close closes the underlying connection.
func (c *CovClient) Close() error { return c.conn.Close() }

func writeFrame(w io.Writer, cmd byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = cmd
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(header[1:5])
	if n > maxFramePayload {
		return 0, nil, fmt.Errorf("frame too large: %d", n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return header[0], payload, nil
}
