package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// SubscribeOptions filter a live event subscription.
type SubscribeOptions struct {
	// Since replays retained events with a higher sequence number first.
	Since uint64
	// BatchID restricts the stream to one batch when non-zero.
	BatchID uint64
	// Buffer is the channel capacity. Defaults to 64.
	Buffer int
}

// Subscription is an open event stream.
type Subscription struct {
	Events <-chan ledger.Event
	conn   *websocket.Conn
	errc   chan error
}

// Err returns the error that ended the stream, after Events is closed.
func (s *Subscription) Err() error {
	return <-s.errc
}

// Close ends the stream.
func (s *Subscription) Close() error {
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (c *Client) streamURL(opts SubscribeOptions) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/events/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported node URL scheme %q", u.Scheme)
	}
	q := u.Query()
	if opts.Since > 0 {
		q.Set("since", strconv.FormatUint(opts.Since, 10))
	}
	if opts.BatchID > 0 {
		q.Set("batch", strconv.FormatUint(opts.BatchID, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe opens the node's websocket event feed. The Events channel is
// closed when the stream ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription, error) {
	target, err := c.streamURL(opts)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("User-Agent", "sealtrace-go-client/"+Version)
	if c.caller != "" {
		header.Set(CallerAddressHeader, string(c.caller))
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("event stream: %s: %w", strings.TrimSpace(resp.Status), err)
		}
		return nil, fmt.Errorf("event stream: %w", err)
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	events := make(chan ledger.Event, buffer)
	sub := &Subscription{Events: events, conn: conn, errc: make(chan error, 1)}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		for {
			var ev ledger.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
					err = nil
				}
				sub.errc <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				sub.errc <- nil
				return
			}
		}
	}()
	return sub, nil
}
