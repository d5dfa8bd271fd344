package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sealtrace/sealtrace/src/ledger"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 2 * streamPingInterval
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHub fans ledger events out to websocket subscribers. Sends never
// block the publisher: a subscriber whose buffer is full is dropped.
type EventHub struct {
	mu     sync.Mutex
	subs   map[string]chan ledger.Event
	buffer int
	closed bool
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = DefaultEventBufferSize
	}
	return &EventHub{
		subs:   make(map[string]chan ledger.Event),
		buffer: buffer,
	}
}

// Publish implements ledger.EventSink.
func (h *EventHub) Publish(ev ledger.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(h.subs, id)
			streamSubscribersGauge.Dec()
			if logger != nil {
				logger.Warn("Dropped slow event subscriber", "subscriber", id, "seq", ev.Seq)
			}
		}
	}
}

// Subscribe registers a subscriber. The channel is closed when the
// subscriber is dropped, unsubscribed, or the hub closes.
func (h *EventHub) Subscribe() (string, <-chan ledger.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	ch := make(chan ledger.Event, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	streamSubscribersGauge.Inc()
	return id, ch
}

func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
		streamSubscribersGauge.Dec()
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
		streamSubscribersGauge.Dec()
	}
	h.closed = true
}

// EventStreamHandler upgrades to a websocket and streams events as JSON
// text frames. Events after ?since are replayed from the retained window
// first; ?batch restricts the stream to one batch.
func (node *SealNode) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	since, err := parseUintQuery(r, "since")
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	batchFilter, err := parseUintQuery(r, "batch")
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Subscribe before replaying so nothing emitted in between is lost.
	id, events := node.hub.Subscribe()
	defer node.hub.Unsubscribe(id)

	logger.Debug("Event stream opened", "subscriber", id, "since", since, "batch", batchFilter)

	send := func(ev ledger.Event) error {
		if batchFilter != 0 && ev.BatchID != batchFilter {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(ev)
	}

	last := since
	backlog, err := node.eventsSince(r.Context(), since, 0)
	if err != nil {
		logger.Warn("Event stream replay from memory only", "error", err)
		backlog = node.Engine.EventsSince(since, 0)
	}
	for _, ev := range backlog {
		if err := send(ev); err != nil {
			return
		}
		last = ev.Seq
	}

	// The read loop only exists to process control frames and notice the
	// client going away.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if ev.Seq <= last {
				continue
			}
			if err := send(ev); err != nil {
				return
			}
			last = ev.Seq
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
