// Command vibeorchd runs the task-orchestration daemon: the recursive
// decomposition engine, scheduler, dispatcher, and job store behind every
// transport the daemon exposes (admin HTTP, SSE, WebSocket, stdio).
//
// Usage:
//
//	vibeorchd start [-config path] [-admin-addr host] [-admin-port port] ...
//	vibeorchd status [-admin-addr url]
//	vibeorchd subscribe [-sse-addr url] <jobId>
//
// Exit codes: 0 success, 2 usage error, 3 configuration error, 4 runtime
// failure, matching the command protocol's own error taxonomy (spec.md §6).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibeorch/engine/internal/atomicity"
	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/decomposition"
	"github.com/vibeorch/engine/internal/dispatcher"
	"github.com/vibeorch/engine/internal/jobstore"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
	"github.com/vibeorch/engine/internal/oracle"
	"github.com/vibeorch/engine/internal/orchestrator"
	"github.com/vibeorch/engine/internal/progressbus"
	"github.com/vibeorch/engine/internal/ratelimit"
	"github.com/vibeorch/engine/internal/resilience"
	"github.com/vibeorch/engine/internal/scheduler"
	"github.com/vibeorch/engine/internal/transport"
	"github.com/vibeorch/engine/internal/transport/sse"
	"github.com/vibeorch/engine/internal/transport/stdio"
	"github.com/vibeorch/engine/internal/transport/ws"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(runStart(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "subscribe":
		os.Exit(runSubscribe(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "vibeorchd: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vibeorchd <start|status|subscribe> [flags]")
}

// runStart wires every component and blocks until SIGINT/SIGTERM, modeled
// on the teacher's cmd/gateway/main.go startup-then-signal-wait shape.
func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	adminAddr := fs.String("admin-addr", "0.0.0.0", "admin/ingress HTTP bind host")
	adminPort := fs.Int("admin-port", 8080, "admin/ingress HTTP preferred port")
	ssePort := fs.Int("sse-port", 8081, "SSE preferred port")
	wsPort := fs.Int("ws-port", 8082, "WebSocket preferred port")
	scanRange := fs.Int("port-scan-range", 5, "number of ports to try per transport, starting at its preferred port")
	enableSSE := fs.Bool("sse", true, "enable the SSE transport")
	enableWS := fs.Bool("ws", true, "enable the WebSocket transport")
	enableStdio := fs.Bool("stdio", false, "serve the command protocol over stdin/stdout")
	devLog := fs.Bool("dev-log", false, "use human-readable development logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	registry, err := config.Init(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibeorchd: config error: %v\n", err)
		return 3
	}
	defer config.Teardown()

	log := obslog.NewDefault("vibeorchd")
	if *enableStdio {
		// stdout carries the stdio protocol stream; keep log lines off it.
		log.SetOutput(os.Stderr)
	}
	hotlog := obslog.NewHotPath(*devLog)
	defer hotlog.Sync()

	timeouts := resilience.New(registry, hotlog)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}, log)

	client := buildOracleClient(timeouts, breaker)
	detector := atomicity.New(client, timeouts, registry)
	engine := decomposition.New(detector, client, timeouts, registry, log)
	sched := scheduler.New(registry)

	jobs := jobstore.New(registry, log)
	jobs.StartPruning()
	defer jobs.StopPruning()

	limits := registry.GetLimits()
	bus := progressbus.New(256, limits.SlowDropThreshold, limits.HeartbeatInterval, log)

	limiter := ratelimit.New(ratelimit.Config{}, zerolog.New(os.Stderr).With().Timestamp().Logger())

	exec := dispatcherExec()
	svc := orchestrator.New(jobs, bus, engine, sched, registry, log, hotlog, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.RunHeartbeat(ctx)

	mux := transport.New(log)
	mux.Bind(ctx, transport.Binding{
		Kind: "admin", Host: *adminAddr, PreferredPort: *adminPort, ScanRange: *scanRange, Enabled: true,
	}, func(addr string) transport.Listener {
		return transport.NewAdminServer(addr, readyAlways{}, svc, limiter, log)
	})
	mux.Bind(ctx, transport.Binding{
		Kind: "sse", Host: *adminAddr, PreferredPort: *ssePort, ScanRange: *scanRange, Enabled: *enableSSE,
	}, func(addr string) transport.Listener {
		return sse.New(addr, bus, log)
	})
	mux.Bind(ctx, transport.Binding{
		Kind: "websocket", Host: *adminAddr, PreferredPort: *wsPort, ScanRange: *scanRange, Enabled: *enableWS,
	}, func(addr string) transport.Listener {
		return ws.New(addr, bus, log)
	})

	var stdioDone chan error
	if *enableStdio {
		stdioDone = make(chan error, 1)
		t := stdio.New(bus, svc, log, os.Stdin, os.Stdout)
		go func() { stdioDone <- t.Run(ctx) }()
	}

	if !mux.IsStarted() && stdioDone == nil {
		log.WithContext(ctx).Error("no transport could bind; daemon has no ingress")
		return 4
	}

	for _, bound := range mux.Bound() {
		log.WithContext(ctx).WithField("transport", bound.Kind).WithField("addr", bound.Addr).Info("transport started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.WithContext(ctx).Info("shutting down")
	cancel()
	mux.Shutdown()
	if stdioDone != nil {
		<-stdioDone
	}
	return 0
}

// buildOracleClient picks a real HTTP-backed oracle when the environment
// names an endpoint, falling back to a stub so the daemon still starts (with
// every atomicity check defaulting conservatively) in environments with no
// configured collaborator.
func buildOracleClient(timeouts *resilience.TimeoutManager, breaker *resilience.CircuitBreaker) oracle.Client {
	endpoint := os.Getenv("VIBE_ORACLE_ENDPOINT")
	if endpoint == "" {
		return &oracle.StubClient{}
	}
	apiKey := os.Getenv("VIBE_ORACLE_API_KEY")
	model := os.Getenv("VIBE_ORACLE_MODEL")
	return oracle.NewHTTPClient(endpoint, apiKey, model, timeouts, breaker)
}

// dispatcherExec is the Dispatcher's Execute callback. Carrying an atomic
// task's work out (running the agent CLI, applying a patch, whatever the
// task names) is out of scope for the orchestration core itself (spec.md
// Non-goals); this daemon only guarantees the task reached a worker in
// dependency order and reports the outcome. A real deployment swaps this
// closure for one that shells out to or RPCs the actual worker process.
func dispatcherExec() dispatcher.Execute {
	return func(ctx context.Context, task model.AtomicTask, workerID string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

type readyAlways struct{}

func (readyAlways) Ready() bool { return true }

// runStatus polls the admin server's /readyz and prints the result.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	adminAddr := fs.String("admin-addr", "http://127.0.0.1:8080", "admin HTTP base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(*adminAddr + "/readyz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibeorchd: status check failed: %v\n", err)
		return 4
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Println("not ready")
		return 4
	}
	fmt.Println("ready")
	return 0
}

// runSubscribe streams one job's progress events to stdout by printing every
// non-empty line of the SSE transport's raw event stream as received
// (id:/event:/data: framing included) rather than re-implementing an SSE
// client from scratch.
func runSubscribe(args []string) int {
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	adminAddr := fs.String("sse-addr", "http://127.0.0.1:8081", "SSE base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: vibeorchd subscribe <jobId>")
		return 2
	}
	jobID := fs.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *adminAddr+"/v1/jobs/"+jobID+"/events", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibeorchd: %v\n", err)
		return 2
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibeorchd: subscribe failed: %v\n", err)
		return 4
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fmt.Println(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "vibeorchd: stream ended: %v\n", err)
		return 4
	}
	return 0
}

