package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"zkbounty/storage/eventlog"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

var errEventsUnavailable = errors.New("event journal unavailable")

func parseCursor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, errors.New("cursor must be a non-negative integer")
	}
	return cursor, nil
}

// handleEvents pages through the journal: records with a sequence greater
// than cursor, oldest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", errEventsUnavailable)
		return
	}
	query := r.URL.Query()
	cursor, err := parseCursor(query.Get("cursor"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit := defaultEventLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, errors.New("limit must be a positive integer"))
			return
		}
		if parsed > maxEventLimit {
			parsed = maxEventLimit
		}
		limit = parsed
	}
	records, err := s.broker.Journal().Since(r.Context(), cursor, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	next := cursor
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	}
	if records == nil {
		records = []eventlog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records, "next": next})
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", errEventsUnavailable)
		return
	}
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	// Streams outlive the server's per-request write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The stream is write-only; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		switch {
		case errors.Is(err, errSubscriberDropped):
			_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		case websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

var errSubscriberDropped = errors.New("subscriber dropped")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	sub, backlog, err := s.broker.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer sub.Close()

	for _, rec := range backlog {
		if err := writeRecord(ctx, conn, rec); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-sub.C():
			if !ok {
				if sub.Dropped() {
					return errSubscriberDropped
				}
				return nil
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec eventlog.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
