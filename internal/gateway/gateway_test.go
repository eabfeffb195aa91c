package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/events"
)

// scriptedClient returns canned responses in order, repeating the last one.
type scriptedClient struct {
	mu    sync.Mutex
	steps []*llm.GenerateResponse
	calls int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Generate(_ context.Context, _ *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.calls++
	return c.steps[i], nil
}

func textResp(text string) *llm.GenerateResponse {
	return &llm.GenerateResponse{
		Blocks: []llm.ResponseBlock{llm.TextResult{Text: text}},
		Model:  "scripted-1",
		Raw:    json.RawMessage(`{}`),
		Usage:  llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
}

type testGateway struct {
	server *Server
	http   *httptest.Server
	store  *sessions.MemoryStore
}

func newTestGateway(t *testing.T, steps ...*llm.GenerateResponse) *testGateway {
	t.Helper()
	if len(steps) == 0 {
		steps = []*llm.GenerateResponse{textResp("done")}
	}
	cfg := config.Default()
	store := sessions.NewMemoryStore()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(Options{
		Config:   cfg,
		Store:    store,
		Client:   &scriptedClient{steps: steps},
		Gatherer: reg,
		Metrics:  observability.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return &testGateway{server: srv, http: ts, store: store}
}

func (g *testGateway) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(g.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (g *testGateway) createSession(t *testing.T) string {
	t.Helper()
	resp := g.post(t, "/api/sessions", map[string]string{"workspace_root": t.TempDir()})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var session sessions.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID == "" {
		t.Fatal("create session: empty id")
	}
	return session.ID
}

// waitForComplete polls the events endpoint until a complete action shows up.
func (g *testGateway) waitForComplete(t *testing.T, id string) []events.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		log := g.getEvents(t, id)
		for _, ev := range log {
			if _, ok := ev.(*events.CompleteAction); ok {
				return log
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never completed", id)
	return nil
}

func (g *testGateway) getEvents(t *testing.T, id string) []events.Event {
	t.Helper()
	resp, err := http.Get(g.http.URL + "/api/sessions/" + id + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET events: status %d", resp.StatusCode)
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	log := make([]events.Event, 0, len(raw))
	for _, data := range raw {
		ev, err := events.Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		log = append(log, ev)
	}
	return log
}

func TestCreateSessionValidatesBody(t *testing.T) {
	g := newTestGateway(t)

	resp := g.post(t, "/api/sessions", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing workspace_root: status %d, want 400", resp.StatusCode)
	}
}

func TestListSessions(t *testing.T) {
	g := newTestGateway(t)
	id := g.createSession(t)

	resp, err := http.Get(g.http.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer resp.Body.Close()
	var list []*sessions.Session
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("list = %+v, want the one created session", list)
	}
}

func TestPostMessageRunsSessionToCompletion(t *testing.T) {
	g := newTestGateway(t, textResp("the answer is 4"))
	id := g.createSession(t)

	resp := g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "what is 2+2?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post message: status %d, want 202", resp.StatusCode)
	}

	log := g.waitForComplete(t, id)
	last := log[len(log)-1]
	complete, ok := last.(*events.CompleteAction)
	if !ok {
		t.Fatalf("last event = %T, want CompleteAction", last)
	}
	if complete.FinalAnswer != "the answer is 4" {
		t.Fatalf("final answer = %q", complete.FinalAnswer)
	}
	if first := log[0].Header().ID; first != 1 {
		t.Fatalf("first event id = %d, want 1", first)
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	g := newTestGateway(t)

	resp := g.post(t, "/api/sessions/nope/messages", map[string]string{"content": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: status %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketReplaysLogThenStreams(t *testing.T) {
	g := newTestGateway(t, textResp("first"), textResp("second"))
	id := g.createSession(t)

	// Complete one task so the replay has something to send.
	g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "task one"}).Body.Close()
	replayed := g.waitForComplete(t, id)

	wsURL := strings.Replace(g.http.URL, "http://", "ws://", 1) + "/ws?session=" + id
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Delivery is at-least-once; track distinct ids.
	seen := map[int64]events.Event{}
	readUntil := func(pred func(events.Event) bool) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read websocket: %v", err)
			}
			ev, err := events.Unmarshal(data)
			if err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			seen[ev.Header().ID] = ev
			if pred(ev) {
				return
			}
		}
	}

	lastReplayed := replayed[len(replayed)-1].Header().ID
	readUntil(func(ev events.Event) bool { return ev.Header().ID == lastReplayed })
	if len(seen) < len(replayed) {
		t.Fatalf("replay delivered %d distinct events, want >= %d", len(seen), len(replayed))
	}

	// A second task streams live over the same connection.
	g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "task two"}).Body.Close()
	readUntil(func(ev events.Event) bool {
		c, ok := ev.(*events.CompleteAction)
		return ok && c.FinalAnswer == "second" && ev.Header().ID > lastReplayed
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	g := newTestGateway(t, textResp("done"))
	id := g.createSession(t)
	g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "go"}).Body.Close()
	g.waitForComplete(t, id)

	resp, err := http.Get(g.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d", resp.StatusCode)
	}

	resp, err = http.Get(g.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "conductor_llm_requests_total") {
		t.Fatalf("metrics output missing llm request counter:\n%s", body)
	}
}

func TestSupersedeOverHTTP(t *testing.T) {
	g := newTestGateway(t, textResp("first answer"), textResp("revised answer"))
	id := g.createSession(t)

	g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "original task"}).Body.Close()
	g.waitForComplete(t, id)

	// A follow-up message to the now-idle session starts a fresh run.
	g.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "follow up"}).Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		log := g.getEvents(t, id)
		var answers []string
		for _, ev := range log {
			if c, ok := ev.(*events.CompleteAction); ok {
				answers = append(answers, c.FinalAnswer)
			}
		}
		if len(answers) >= 2 {
			if answers[1] != "revised answer" {
				t.Fatalf("second answer = %q", answers[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second run never completed; log has %d events", len(log))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBuildContextManagerStrategies(t *testing.T) {
	cfg := config.Default()
	client := &scriptedClient{steps: []*llm.GenerateResponse{textResp("x")}}

	cfg.Context.Strategy = "truncate"
	if _, ok := BuildContextManager(cfg, client).(*agentctx.Truncator); !ok {
		t.Error("truncate strategy did not produce a Truncator")
	}
	cfg.Context.Strategy = "summarize"
	if _, ok := BuildContextManager(cfg, client).(*agentctx.Summarizer); !ok {
		t.Error("summarize strategy did not produce a Summarizer")
	}
	cfg.Context.Strategy = "none"
	if _, ok := BuildContextManager(cfg, client).(agentctx.Passthrough); !ok {
		t.Error("none strategy did not produce a Passthrough")
	}
}

func TestBuildStoreBackends(t *testing.T) {
	cfg := config.Default()
	store, err := BuildStore(cfg)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := store.(*sessions.MemoryStore); !ok {
		t.Fatalf("memory backend produced %T", store)
	}

	cfg.Sessions.Backend = "bogus"
	if _, err := BuildStore(cfg); err == nil {
		t.Fatal("unknown backend did not error")
	}
}

func TestApplyConfigRetunesLogLevel(t *testing.T) {
	levelVar := new(slog.LevelVar)
	cfg := config.Default()
	srv, err := NewServer(Options{
		Config:   cfg,
		Store:    sessions.NewMemoryStore(),
		Client:   &scriptedClient{steps: []*llm.GenerateResponse{textResp("x")}},
		LevelVar: levelVar,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Shutdown(context.Background())

	next := config.Default()
	next.Logging.Level = "debug"
	srv.ApplyConfig(next)
	if got := levelVar.Level(); got != slog.LevelDebug {
		t.Fatalf("level after reload = %v, want debug", got)
	}
}
