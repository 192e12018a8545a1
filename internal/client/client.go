// Package client dials a codeforge server and exchanges framed messages.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kingrea/codeforge/internal/wire"
)

// DefaultDialTimeout bounds connection setup when ctx carries no deadline.
const DefaultDialTimeout = 5 * time.Second

// Client is a single connection to a codeforge server. Send is safe for
// concurrent use; Receive must be called from one goroutine.
type Client struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
}

// Dial connects to addr. maxFrame <= 0 uses wire.DefaultMaxFrameBytes.
func Dial(ctx context.Context, addr string, maxFrame int) (*Client, error) {
	if maxFrame <= 0 {
		maxFrame = wire.DefaultMaxFrameBytes
	}
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		reader: wire.NewReader(conn, maxFrame),
		writer: wire.NewWriter(conn),
	}, nil
}

// Send frames and writes one command.
func (c *Client) Send(msg wire.ClientMsg) error {
	if err := c.writer.SendClient(msg); err != nil {
		return fmt.Errorf("client: send %s: %w", msg.Kind(), err)
	}
	return nil
}

// Receive blocks until the next server message arrives or ctx ends. Oversized
// frames and undecodable payloads are skipped.
func (c *Client) Receive(ctx context.Context) (wire.ServerMsg, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}()
	for {
		payload, err := c.reader.Next()
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) {
				continue
			}
			if ctx.Err() != nil {
				return wire.ServerMsg{}, ctx.Err()
			}
			return wire.ServerMsg{}, fmt.Errorf("client: receive: %w", err)
		}
		msg, err := wire.DecodeServer(payload)
		if err != nil {
			continue
		}
		return msg, nil
	}
}

// Await receives until match returns true, returning the matching message.
func (c *Client) Await(ctx context.Context, match func(wire.ServerMsg) bool) (wire.ServerMsg, error) {
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return wire.ServerMsg{}, err
		}
		if match(msg) {
			return msg, nil
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
