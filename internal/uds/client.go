package uds

import (
	"fmt"
	"net"
	"time"
)

// Client performs one request/response exchange per call against a feed
// daemon's control socket. The zero timeout default suits interactive use.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// SetTimeout bounds the whole exchange, dial included.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand builds a request for command and performs the exchange.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Send dials the socket, writes req, and reads the single response.
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to feed daemon at %s: %w\n"+
				"Is the feed daemon running? Start it with: telloctl feed",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}
