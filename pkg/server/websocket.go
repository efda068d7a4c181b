package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/autofix/pkg/metrics"
	"github.com/nstogner/autofix/pkg/store"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsPollEvery = 500 * time.Millisecond
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin)
		},
	}
}

// handleEvents streams a run's recorded events, then every new one as it
// is recorded. The stream is closed after a terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("runId")
	if _, err := s.workspace.Path(id); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	// Subscribe before the initial sync so nothing recorded in between is
	// missed; duplicates are filtered by event id.
	updates := s.manager.Subscribe()
	defer s.manager.Unsubscribe(updates)

	entries, err := s.manager.Entries(id)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	metrics.EventStreams.Inc()
	defer metrics.EventStreams.Dec()

	sentIDs := make(map[string]bool)
	finished, err := s.sendNew(ws, entries, sentIDs)
	if err != nil {
		slog.Error("Failed initial sync", "runID", id, "error", err)
		return
	}
	if finished {
		closeStream(ws)
		return
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	// Writer Loop
	go func() {
		defer wg.Done()
		defer ws.Close()

		// Notifications may be dropped under load, so the log is also
		// polled as a backup.
		poll := time.NewTicker(wsPollEvery)
		defer poll.Stop()
		ping := time.NewTicker(wsPingEvery)
		defer ping.Stop()

		resync := func() bool {
			entries, err := s.manager.Entries(id)
			if err != nil {
				slog.Error("Failed (re)sync", "runID", id, "error", err)
				return false
			}
			finished, err := s.sendNew(ws, entries, sentIDs)
			if err != nil {
				slog.Debug("Event stream write failed", "runID", id, "error", err)
				return false
			}
			if finished {
				closeStream(ws)
				return false
			}
			return true
		}

		for {
			select {
			case <-done:
				return
			case eventID, ok := <-updates:
				if !ok {
					return
				}
				if eventID == id && !resync() {
					return
				}
			case <-poll.C:
				if !resync() {
					return
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	// Reader Loop. Clients have nothing to send; reading keeps control
	// frames flowing and notices disconnects.
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read ended", "runID", id, "error", err)
			}
			break
		}
	}

	close(done)
	wg.Wait()
}

// sendNew writes the entries not sent yet and reports whether the log ends
// with a terminal event.
func (s *Server) sendNew(ws *websocket.Conn, entries []store.Entry, sentIDs map[string]bool) (bool, error) {
	for _, e := range entries {
		if sentIDs[e.ID] {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteJSON(e); err != nil {
			return false, err
		}
		sentIDs[e.ID] = true
	}
	return len(entries) > 0 && entries[len(entries)-1].Type.Terminal(), nil
}

func closeStream(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
