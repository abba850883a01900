// Package stdio serves the full command protocol (createJob, cancelJob,
// pauseJob, resumeJob, subscribe) and progress events over the process's
// own stdin/stdout, for callers that embed the orchestration core as a
// subprocess rather than speaking HTTP to it. Every diagnostic the
// transport itself produces goes to stderr: stdout carries only
// newline-delimited event and response JSON, since anything else written
// there would corrupt the protocol stream for a caller reading line by
// line.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/progressbus"
	"github.com/vibeorch/engine/internal/transport"
)

// frame is one newline-delimited JSON event written to the output stream.
type frame struct {
	Seq       uint64                 `json:"seq"`
	JobID     string                 `json:"jobId"`
	ProjectID string                 `json:"projectId,omitempty"`
	Name      string                 `json:"name"`
	Data      map[string]interface{} `json:"data,omitempty"`
	At        time.Time              `json:"at"`
}

// response is one newline-delimited JSON reply to a command, echoing its
// request ID so a caller pipelining multiple commands can match replies.
type response struct {
	RequestID string      `json:"requestId,omitempty"`
	OK        bool        `json:"ok"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// command is one newline-delimited JSON request read from the input
// stream. Unrecognized ops are rejected with an error response rather than
// silently ignored, since a caller driving the CLI needs to know a typo'd
// op didn't just vanish.
type command struct {
	RequestID      string                       `json:"requestId,omitempty"`
	Op             string                       `json:"op"`
	JobID          string                       `json:"jobId"`
	ProjectID      string                       `json:"projectId"`
	TaskSpec       transport.TaskSpec           `json:"taskSpec"`
	ProjectContext transport.ProjectContextSpec `json:"projectContext"`
	Worker         transport.WorkerSpec         `json:"worker"`
}

// Transport pipes Bus events to w as they're published and routes commands
// read from r into handler, replying on w.
type Transport struct {
	bus     *progressbus.Bus
	handler transport.CommandHandler
	log     *obslog.Logger
	r       io.Reader
	w       io.Writer
}

// New builds a stdio transport over r/w, logging diagnostics via log (which
// callers must configure to write to stderr, never stdout). handler may be
// nil, in which case only "subscribe" is served and every other op is
// rejected.
func New(bus *progressbus.Bus, handler transport.CommandHandler, log *obslog.Logger, r io.Reader, w io.Writer) *Transport {
	return &Transport{bus: bus, handler: handler, log: log, r: r, w: w}
}

// Run blocks until ctx is cancelled or the input stream is closed.
func (t *Transport) Run(ctx context.Context) error {
	cmds := make(chan command)
	go func() {
		defer close(cmds)
		scanner := bufio.NewScanner(t.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var c command
			if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
				if t.log != nil {
					t.log.WithContext(ctx).WithError(err).Warn("stdio transport: malformed command line")
				}
				continue
			}
			select {
			case cmds <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		events      <-chan progressbus.Event
		unsubscribe func()
	)
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-cmds:
			if !ok {
				return nil
			}
			if c.Op == "subscribe" {
				if unsubscribe != nil {
					unsubscribe()
				}
				sub := model.Subscriber{
					ID:          "stdio_1",
					Transport:   model.TransportStdio,
					ConnectedAt: time.Now(),
					Filter:      model.Filter{JobID: c.JobID, ProjectID: c.ProjectID},
				}
				events, unsubscribe = t.bus.Subscribe(sub)
				t.reply(c.RequestID, true, map[string]bool{"ok": true}, nil)
				continue
			}
			t.handleCommand(c)
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			f := frame{
				Seq: t.bus.NextSeq(evt.JobID), JobID: evt.JobID, ProjectID: evt.ProjectID,
				Name: evt.Name, Data: evt.Data, At: evt.At,
			}
			if err := t.writeLine(f); err != nil {
				return err
			}
		}
	}
}

// handleCommand dispatches createJob/cancelJob/pauseJob/resumeJob to the
// CommandHandler and writes a matching response line.
func (t *Transport) handleCommand(c command) {
	if t.handler == nil {
		t.reply(c.RequestID, false, nil, errUnhandled)
		return
	}
	switch c.Op {
	case "createJob":
		id, err := t.handler.CreateJob(c.TaskSpec.Task(), c.ProjectContext.ProjectContext())
		if err != nil {
			t.reply(c.RequestID, false, nil, err)
			return
		}
		t.reply(c.RequestID, true, map[string]string{"jobId": id}, nil)
	case "cancelJob":
		err := t.handler.CancelJob(c.JobID)
		t.reply(c.RequestID, err == nil, map[string]bool{"ok": err == nil}, err)
	case "pauseJob":
		err := t.handler.PauseJob(c.JobID)
		t.reply(c.RequestID, err == nil, map[string]bool{"ok": err == nil}, err)
	case "resumeJob":
		err := t.handler.ResumeJob(c.JobID)
		t.reply(c.RequestID, err == nil, map[string]bool{"ok": err == nil}, err)
	case "registerWorker":
		t.handler.RegisterWorker(c.Worker.Worker())
		t.reply(c.RequestID, true, map[string]bool{"ok": true}, nil)
	default:
		t.reply(c.RequestID, false, nil, errUnknownOp)
	}
}

func (t *Transport) reply(requestID string, ok bool, result interface{}, err error) {
	r := response{RequestID: requestID, OK: ok, Result: result}
	if err != nil {
		r.Error = err.Error()
	}
	t.writeLine(r)
}

func (t *Transport) writeLine(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	line = append(line, '\n')
	if _, err := t.w.Write(line); err != nil {
		if t.log != nil {
			t.log.WithContext(context.Background()).WithError(err).Warn("stdio transport: write failed")
		}
		return err
	}
	return nil
}

var (
	errUnhandled = stdioErr("no command handler configured")
	errUnknownOp = stdioErr("unrecognized op")
)

type stdioErr string

func (e stdioErr) Error() string { return string(e) }
