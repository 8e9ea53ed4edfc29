package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"initrunner/internal/audit"
	"initrunner/internal/sandbox"
)

func TestFromRunBuildsPayload(t *testing.T) {
	result := audit.RunResult{RunID: "r1", Output: "hi", Success: true, TokensIn: 1, TokensOut: 2}
	p := FromRun(result, "agent", "gpt-5", "openai", "prompt", "cron", nil)
	require.Equal(t, "r1", p.RunID)
	require.Equal(t, "agent", p.AgentName)
	require.NotNil(t, p.TriggerMetadata)
}

func TestFileSinkWritesJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s := NewFileSink(path, FileFormatJSON, zerolog.Nop())
	s.Send(Payload{AgentName: "a", Output: "result", Success: true})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &decoded))
	require.Equal(t, "a", decoded["agent_name"])
}

func TestFileSinkAppendsMultipleLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s := NewFileSink(path, FileFormatJSON, zerolog.Nop())
	s.Send(Payload{AgentName: "a"})
	s.Send(Payload{AgentName: "b"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestFileSinkTextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	s := NewFileSink(path, FileFormatText, zerolog.Nop())
	s.Send(Payload{AgentName: "a", Output: "hi", Success: false, Error: "boom", Timestamp: "2026-01-01T00:00:00Z"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "ERROR: boom")
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "", nil, 5, 0, zerolog.Nop())
	s.Send(Payload{AgentName: "agent-x", RunID: "run-1"})

	require.Equal(t, "agent-x", received["agent_name"])
	require.Equal(t, "run-1", received["run_id"])
}

func TestWebhookSinkRetriesOnFailure(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "", nil, 5, 2, zerolog.Nop())
	s.Send(Payload{AgentName: "a"})

	require.Equal(t, 2, attempts)
}

func TestCustomSinkCallsJSFunction(t *testing.T) {
	script := filepath.Join(t.TempDir(), "sink.js")
	require.NoError(t, os.WriteFile(script, []byte(`
var lastAgent = "";
function handle(payload) { lastAgent = payload.agent_name; }
`), 0o600))

	cfg := sandbox.Config{AllowEvalExec: true}
	s := NewCustomSink(script, "handle", zerolog.Nop(), sandbox.NewState(nil), cfg, "scripted-agent")
	s.Send(Payload{AgentName: "scripted"})
}

func TestCustomSinkMissingFunctionLogsAndDoesNotPanic(t *testing.T) {
	script := filepath.Join(t.TempDir(), "sink.js")
	require.NoError(t, os.WriteFile(script, []byte(`var x = 1;`), 0o600))

	cfg := sandbox.Config{AllowEvalExec: true}
	s := NewCustomSink(script, "missing", zerolog.Nop(), sandbox.NewState(nil), cfg, "scripted-agent")
	require.NotPanics(t, func() { s.Send(Payload{AgentName: "a"}) })
}

func TestCustomSinkBlocksEvalWhenSandboxDeniesEvalExec(t *testing.T) {
	script := filepath.Join(t.TempDir(), "sink.js")
	require.NoError(t, os.WriteFile(script, []byte(`function handle(payload) {}`), 0o600))

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	s := NewCustomSink(script, "handle", log, sandbox.NewState(nil), sandbox.DefaultConfig(), "scripted-agent")
	s.Send(Payload{AgentName: "a"})

	require.Contains(t, buf.String(), "blocked by sandbox")
}

func TestCustomSinkBlocksScriptWithDisallowedRequire(t *testing.T) {
	script := filepath.Join(t.TempDir(), "sink.js")
	require.NoError(t, os.WriteFile(script, []byte(`
var fs = require("fs");
function handle(payload) {}
`), 0o600))

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	cfg := sandbox.DefaultConfig()
	cfg.AllowEvalExec = true
	s := NewCustomSink(script, "handle", log, sandbox.NewState(nil), cfg, "scripted-agent")
	s.Send(Payload{AgentName: "a"})

	require.Contains(t, buf.String(), "blocked by static sandbox scan")
}

func TestDispatcherIsolatesPanickingSink(t *testing.T) {
	d := NewDispatcher("agent", "gpt-5", "openai", zerolog.Nop())
	d.AddSink(panicSink{})

	var received Payload
	d.AddSink(captureSink{dest: &received})

	require.NotPanics(t, func() {
		d.Dispatch(audit.RunResult{RunID: "r1", Output: "out"}, "prompt", "cron", nil)
	})
	require.Equal(t, "r1", received.RunID)
}

type panicSink struct{}

func (panicSink) Send(Payload) { panic("boom") }

type captureSink struct{ dest *Payload }

func (c captureSink) Send(p Payload) { *c.dest = p }
