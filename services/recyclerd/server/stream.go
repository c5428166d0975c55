package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"recycler/core/events"
	"recycler/observability"
)

const (
	wsWriteTimeout  = 10 * time.Second
	streamBatchSize = 100
)

// Notifier wakes event stream subscribers whenever the engine emits. It
// carries no payload; subscribers read committed records from the log.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan struct{}]struct{})}
}

// Emit implements events.Emitter. It never blocks.
func (n *Notifier) Emit(events.Event) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *Notifier) subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch, func() {
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
	}
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, r, http.StatusNotFound, "event stream disabled", "disabled")
		return
	}
	cursor, err := parseUintQuery(r, "from", 0)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if r.URL.Query().Get("from") == "" {
		if _, total, err := s.svc.Events(0, 0); err == nil {
			cursor = total
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	defer observability.API().StreamOpened()()
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("recyclerd: event stream", "error", err, "request_id", RequestIDFromContext(r.Context()))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	wake, cancel := s.notifier.subscribe()
	defer cancel()
	for {
		for {
			records, _, err := s.svc.Events(cursor, streamBatchSize)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if err := writeStreamEvent(ctx, conn, toEventJSON(rec)); err != nil {
					return err
				}
				cursor = rec.Sequence + 1
			}
			if len(records) < streamBatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt eventJSON) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
