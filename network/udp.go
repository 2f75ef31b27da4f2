package network

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Action is returned by receive callbacks to drive the calling loop.
type Action int

const (
	Continue Action = iota
	Stop
)

const bufSize = 1024

// isTimeout reports whether err is a read timeout rather than a hard socket
// failure. Deadline expiry and the POSIX would-block and connection-refused
// conditions all count: a refused peer is indistinguishable from a lost
// datagram at this layer.
func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// Client is a connected UDP socket to a single peer, shared across rounds.
type Client struct {
	conn       *net.UDPConn
	remote     Address
	ackTimeout time.Duration
}

// Dial connects a client to the remote address. ackTimeout bounds each
// acknowledgement wait in SendWithAck.
func Dial(remote Address, ackTimeout time.Duration) (*Client, error) {
	conn, err := net.DialUDP("udp", nil, remote.UDPAddr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return &Client{conn: conn, remote: remote, ackTimeout: ackTimeout}, nil
}

// RemoteAddress returns the peer this client is connected to.
func (c *Client) RemoteAddress() Address {
	return c.remote
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes buf to the peer once.
func (c *Client) Send(buf []byte) error {
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("send to %s: %w", c.remote, err)
	}
	return nil
}

// SendWithAck sends buf and waits for a reply that validAck accepts. Each
// attempt waits up to the ack timeout, feeding every reply to validAck until
// it returns Stop; expiry starts the next attempt. attempts == 0 retries
// forever. Exhausting every attempt is not an error: the message is treated
// as lost and the algorithm's timeouts take over.
func (c *Client) SendWithAck(buf []byte, attempts int, validAck func(reply []byte) Action) error {
	reply := make([]byte, bufSize)
	for attempt := 0; attempts == 0 || attempt < attempts; attempt++ {
		if err := c.Send(buf); err != nil {
			return err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(c.ackTimeout)); err != nil {
			return fmt.Errorf("set ack deadline for %s: %w", c.remote, err)
		}
		for {
			n, err := c.conn.Read(reply)
			if err != nil {
				if isTimeout(err) {
					break
				}
				return fmt.Errorf("receive ack from %s: %w", c.remote, err)
			}
			if validAck(reply[:n]) == Stop {
				return nil
			}
		}
	}
	return nil
}

// Server is a bound UDP socket running a single-threaded receive loop.
type Server struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// NewServer binds a server to the port. Port 0 binds an ephemeral port,
// readable from Port. timeout is the socket receive timeout used by Listen.
func NewServer(port int, timeout time.Duration) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	return &Server{conn: conn, timeout: timeout}, nil
}

// Port returns the port the server is bound to.
func (s *Server) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *Server) Close() error {
	return s.conn.Close()
}

// Listen runs the receive loop. onReceive is invoked with the sender address
// and datagram payload; onTimeout when a receive deadline expires with
// nothing read. Either callback returns Stop to exit the loop. Failures
// other than timeouts abort the loop with an error.
func (s *Server) Listen(onReceive func(from *net.UDPAddr, buf []byte) Action, onTimeout func() Action) error {
	buf := make([]byte, bufSize)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("set receive deadline: %w", err)
		}
		n, from, err := s.conn.ReadFromUDP(buf)
		var action Action
		if err != nil {
			if !isTimeout(err) {
				return fmt.Errorf("receive: %w", err)
			}
			action = onTimeout()
		} else {
			action = onReceive(from, buf[:n])
		}
		if action == Stop {
			return nil
		}
	}
}

// Send writes a datagram to addr from the server's own socket. Replies must
// originate here: peers read on connected sockets and discard datagrams from
// any other source.
func (s *Server) Send(buf []byte, to *net.UDPAddr) error {
	if _, err := s.conn.WriteToUDP(buf, to); err != nil {
		return fmt.Errorf("send to %v: %w", to, err)
	}
	return nil
}
