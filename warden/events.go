package warden

import (
	"net/http"
	"time"

	"context"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events streams the audit trail over a websocket: full backfill first,
// then live entries as the engine records them. The audit log's
// monotonic id doubles as the stream cursor.
func (s *Warden) Events(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Events")
	l.Info("received new connection")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	ch := s.n.Subscribe()
	defer s.n.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	var cursor int64

	if err := s.streamAuditEntries(conn, &cursor); err != nil {
		l.Error("failed to backfill", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			l.Info("stopping stream: client closed connection")
			return
		case <-ch:
			if err := s.streamAuditEntries(conn, &cursor); err != nil {
				l.Error("failed to stream", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
				return
			}
		}
	}
}

func (s *Warden) streamAuditEntries(conn *websocket.Conn, cursor *int64) error {
	entries, err := s.db.AuditEntriesAfter(*cursor)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := conn.WriteJSON(e); err != nil {
			return err
		}
		*cursor = e.ID
	}

	return nil
}
