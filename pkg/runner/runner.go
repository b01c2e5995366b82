package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cuemby/zeta/pkg/heartbeat"
	"github.com/cuemby/zeta/pkg/log"

	"github.com/rs/zerolog"
)

// DefaultPythonPath is the interpreter the harness is launched with.
const DefaultPythonPath = "python3"

// harnessRequest is one line written to the harness subprocess's stdin.
type harnessRequest struct {
	Params map[string]any `json:"params"`
}

// harnessResponse is one line read back from the harness subprocess's
// stdout.
type harnessResponse struct {
	OK     bool   `json:"ok"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Agent supervises the python harness subprocess and serves the
// runner-agent HTTP contract in front of it.
type Agent struct {
	pythonPath  string
	harnessPath string
	socketPath  string
	containerID string
	logger      zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// New returns an Agent that launches harnessPath with python3 and reports
// heartbeats to socketPath. The container ID reported in heartbeats is
// read from the HOSTNAME environment variable, matching the engine's
// default container hostname.
func New(harnessPath, socketPath string) *Agent {
	return &Agent{
		pythonPath:  DefaultPythonPath,
		harnessPath: harnessPath,
		socketPath:  socketPath,
		containerID: os.Getenv("HOSTNAME"),
		logger:      log.WithComponent("runner"),
	}
}

// Routes returns the handler serving /is-running and /run.
func (a *Agent) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /is-running", a.handleIsRunning)
	mux.HandleFunc("POST /run", a.handleRun)
	return mux
}

func (a *Agent) handleIsRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"timestamp": time.Now().Unix(),
	})
}

func (a *Agent) handleRun(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err != io.EOF {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}

	resp, err := a.invoke(params)
	if err != nil {
		a.logger.Error().Err(err).Msg("harness invocation failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !resp.OK {
		status := resp.Code
		if status == 0 {
			status = http.StatusInternalServerError
		}
		http.Error(w, resp.Error, status)
		return
	}

	writeJSON(w, http.StatusOK, resp.Result)

	if err := heartbeat.Emit(a.socketPath, a.containerID, time.Now()); err != nil {
		a.logger.Warn().Err(err).Msg("failed to emit heartbeat")
	}
}

// invoke sends params to the harness and returns its decoded response.
// Calls are serialized: the harness reads and writes one line at a time
// over a single pipe pair, so concurrent /run requests queue here rather
// than interleaving on the wire.
func (a *Agent) invoke(params map[string]any) (harnessResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureHarness(); err != nil {
		return harnessResponse{}, fmt.Errorf("start harness: %w", err)
	}

	line, err := json.Marshal(harnessRequest{Params: params})
	if err != nil {
		return harnessResponse{}, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	if _, err := a.stdin.Write(line); err != nil {
		a.killLocked()
		return harnessResponse{}, fmt.Errorf("write to harness: %w", err)
	}

	raw, err := a.stdout.ReadBytes('\n')
	if err != nil {
		a.killLocked()
		return harnessResponse{}, fmt.Errorf("read from harness: %w", err)
	}

	var resp harnessResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return harnessResponse{}, fmt.Errorf("decode harness response: %w", err)
	}
	return resp, nil
}

// ensureHarness launches the harness subprocess if it is not already
// running. Callers must hold a.mu.
func (a *Agent) ensureHarness() error {
	if a.cmd != nil && a.cmd.ProcessState == nil {
		return nil
	}

	cmd := exec.Command(a.pythonPath, a.harnessPath)
	cmd.Stderr = harnessLogWriter{a.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open harness stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open harness stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch harness: %w", err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.stdout = bufio.NewReader(stdoutPipe)
	a.logger.Info().Int("pid", cmd.Process.Pid).Msg("harness subprocess started")
	return nil
}

// killLocked forces the next invoke to relaunch the harness after a
// broken pipe or dead process. Callers must hold a.mu.
func (a *Agent) killLocked() {
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	a.cmd = nil
	a.stdin = nil
	a.stdout = nil
}

// Shutdown terminates the harness subprocess, if any.
func (a *Agent) Shutdown(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.killLocked()
}

type harnessLogWriter struct {
	logger zerolog.Logger
}

func (w harnessLogWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Str("stream", "harness-stderr").Msg(string(p))
	return len(p), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
