// Package ws serves progress events over WebSocket, grounded on the
// teacher's gorilla/mux routing idiom (cmd/gateway/main.go) paired with
// gorilla/websocket for the upgrade itself.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/progressbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON frame pushed to a connected client.
type wireEvent struct {
	Seq       uint64                 `json:"seq"`
	JobID     string                 `json:"jobId"`
	ProjectID string                 `json:"projectId,omitempty"`
	Name      string                 `json:"name"`
	Data      map[string]interface{} `json:"data,omitempty"`
	At        time.Time              `json:"at"`
}

// Server exposes one route upgrading to a WebSocket stream of progress
// events.
type Server struct {
	bus    *progressbus.Bus
	log    *obslog.Logger
	router *mux.Router
	http   *http.Server
}

// New builds a WebSocket server bound to addr, streaming events from bus.
func New(addr string, bus *progressbus.Bus, log *obslog.Logger) *Server {
	s := &Server{bus: bus, log: log, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/jobs/{jobId}/ws", s.handleConn).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/ws", s.handleConn).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	projectID := r.URL.Query().Get("projectId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	sub := model.Subscriber{
		ID:          "ws_" + uuid.NewString(),
		Transport:   model.TransportWebsocket,
		ConnectedAt: time.Now(),
		Filter:      model.Filter{JobID: jobID, ProjectID: projectID},
	}
	events, unsubscribe := s.bus.Subscribe(sub)
	defer unsubscribe()

	conn.SetPongHandler(func(string) error {
		s.bus.Ack(sub.ID)
		return nil
	})

	// Drain client-initiated control frames (pings/close) on a separate
	// goroutine so a silent client doesn't block delivery.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var pingTicker *time.Ticker
	var pingC <-chan time.Time
	if interval := s.bus.HeartbeatInterval(); interval > 0 {
		pingTicker = time.NewTicker(interval)
		defer pingTicker.Stop()
		pingC = pingTicker.C
	}

	for {
		select {
		case <-closed:
			return
		case <-pingC:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			frame := wireEvent{
				Seq: s.bus.NextSeq(evt.JobID), JobID: evt.JobID, ProjectID: evt.ProjectID,
				Name: evt.Name, Data: evt.Data, At: evt.At,
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if s.log != nil {
					s.log.WithContext(r.Context()).WithField("subscriber_id", sub.ID).WithError(err).Warn("websocket write failed")
				}
				return
			}
		}
	}
}

// Start runs the WebSocket server until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
