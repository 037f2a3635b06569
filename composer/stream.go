package composer

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events streams run status transitions over a websocket: first a
// backfill from the event journal (optionally resumed from ?cursor=,
// unix nanos), then live entries as the notifier ticks.
func (k *Kiln) Events(w http.ResponseWriter, r *http.Request) {
	l := k.l.With("handler", "Events")
	l.Info("received new connection")

	// Upgrade replies to the client itself when it fails
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := k.n.Subscribe()
	defer k.n.Unsubscribe(ch)

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

	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

	// complete backfill first before going to live data
	l.Info("going through backfill", "cursor", cursor)
	if err := k.streamEvents(conn, &cursor); err != nil {
		l.Error("failed to backfill", "err", err)
		return
	}

	for {
		// wait for new data or timeout
		select {
		case <-ctx.Done():
			l.Info("stopping stream: client closed connection")
			return
		case <-ch:
			if err := k.streamEvents(conn, &cursor); err != nil {
				l.Error("failed to stream", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			// send a keep-alive
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
			}
		}
	}
}

func (k *Kiln) streamEvents(conn *websocket.Conn, cursor *int64) error {
	for {
		evts, err := k.db.GetEvents(*cursor)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			return nil
		}

		for _, ev := range evts {
			if err := conn.WriteMessage(websocket.TextMessage, json.RawMessage(ev.EventJson)); err != nil {
				return err
			}
			*cursor = ev.Created
		}
	}
}
