// Package sse serves progress events as Server-Sent Events, grounded on
// the gin + gin-contrib/sse combination the teacher depends on for exactly
// this purpose: gin owns the route, sse.Event owns the wire framing.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/progressbus"
)

// Server exposes one route streaming a job's (or, with no jobId, every)
// progress event to an SSE client.
type Server struct {
	bus    *progressbus.Bus
	log    *obslog.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds an SSE server bound to addr, streaming events from bus.
func New(addr string, bus *progressbus.Bus, log *obslog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{bus: bus, log: log, engine: engine}
	engine.GET("/v1/jobs/:jobId/events", s.handleStream)
	engine.GET("/v1/events", s.handleStream)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleStream(c *gin.Context) {
	jobID := c.Param("jobId")
	projectID := c.Query("projectId")

	sub := model.Subscriber{
		ID:          "sse_" + uuid.NewString(),
		Transport:   model.TransportSSE,
		ConnectedAt: time.Now(),
		Filter:      model.Filter{JobID: jobID, ProjectID: projectID},
	}
	events, unsubscribe := s.bus.Subscribe(sub)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			id := fmt.Sprintf("%d", s.bus.NextSeq(evt.JobID))
			err := sse.Encode(c.Writer, sse.Event{Id: id, Event: evt.Name, Data: evt.Data})
			if err != nil {
				if s.log != nil {
					s.log.WithContext(ctx).WithField("subscriber_id", sub.ID).WithError(err).Warn("sse encode failed")
				}
				return
			}
			c.Writer.Flush()
		}
	}
}

// Start runs the SSE server until ctx is cancelled or ListenAndServe fails.
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
