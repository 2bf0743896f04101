package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubSendBuffer   = 64
	hubBackoffMin   = time.Second
	hubBackoffMax   = 30 * time.Second
	hubWriteTimeout = 10 * time.Second
)

// HubClient maintains a websocket connection to a ground-station hub and
// forwards JSON frames to it. Frames queued while the hub is unreachable are
// dropped once the buffer fills.
type HubClient struct {
	url  string
	send chan []byte
	logf func(format string, args ...any)
}

func NewHubClient(url string) *HubClient {
	return &HubClient{
		url:  url,
		send: make(chan []byte, hubSendBuffer),
		logf: func(string, ...any) {},
	}
}

// Send queues one frame without blocking.
func (c *HubClient) Send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		// hub is behind, drop the frame
	}
}

// Run dials the hub and pumps queued frames until ctx is cancelled,
// reconnecting with capped exponential backoff.
func (c *HubClient) Run(ctx context.Context) error {
	backoff := hubBackoffMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logf("hub dial %s failed: %v (retrying in %s)", c.url, err, backoff)
			if sleepCtx(ctx, backoff) != nil {
				return nil
			}
			backoff *= 2
			if backoff > hubBackoffMax {
				backoff = hubBackoffMax
			}
			continue
		}

		backoff = hubBackoffMin
		c.pump(ctx, conn)
	}
}

// pump writes queued frames to one connection until it dies or ctx ends.
func (c *HubClient) pump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// The reader discards inbound frames; its only job is noticing closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-done:
			return
		case b := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logf("hub write failed: %v", err)
				return
			}
		}
	}
}
