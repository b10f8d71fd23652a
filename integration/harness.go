package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/nisekogame/backend/api/rest"
	"github.com/nisekogame/backend/api/sse"
	"github.com/nisekogame/backend/audit"
	"github.com/nisekogame/backend/cache"
	"github.com/nisekogame/backend/config"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/metrics"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/nisekogame/backend/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	PubSub  cache.PubSub
	Audit   *audit.Service
	Metrics *metrics.Metrics
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	Sec     config.SecurityConfig

	limiter *mw.RateLimiter
	events  *sse.Handler
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	return NewTestServerWithSecurity(t, config.SecurityConfig{
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	})
}

// NewTestServerWithSecurity is NewTestServer with custom rate limits and origins.
func NewTestServerWithSecurity(t *testing.T, sec config.SecurityConfig) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	pubsub := testutil.SetupTestPubSub(t)
	logger := zap.NewNop()

	auditSvc := audit.New(db, logger, audit.Options{BatchSize: 1, FlushInterval: 50 * time.Millisecond})
	m := metrics.New()

	// ---- Services ----
	chars := character.NewService(db, logger)
	ledger := coop.NewLedger(db, chars, pubsub, logger)

	// ---- Gin HTTP Server ----
	limiter := mw.NewRateLimiter(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health", "/metrics", "/events"), mw.Recovery(logger))
	r.Use(mw.CORS(sec.AllowedOrigins))
	r.Use(m.Middleware())

	r.GET("/health", apirest.Health(db))
	r.GET("/metrics", mw.IPWhitelist([]string{"127.0.0.1", "::1"}), gin.WrapH(m.Handler()))
	events := sse.NewHandler(pubsub, logger)
	r.GET("/events", events.ServeSSE)

	api := r.Group("/")
	api.Use(limiter.Handler())
	apirest.Register(api,
		apirest.NewCharacterHandler(chars, auditSvc, m, logger),
		apirest.NewCooperativeHandler(ledger, auditSvc, m, logger))

	// ---- Start server ----
	server := httptest.NewServer(r)

	ts := &TestServer{
		DB:      db,
		PubSub:  pubsub,
		Audit:   auditSvc,
		Metrics: m,
		Server:  server,
		URL:     server.URL,
		Sec:     sec,
		limiter: limiter,
		events:  events,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and its background workers. It may be
// called more than once.
func (ts *TestServer) Close() {
	ts.events.Shutdown()
	ts.Server.Close()
	ts.limiter.Close()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

// PostJSON sends a POST request with a JSON body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostRaw sends a POST request with body sent verbatim.
func (ts *TestServer) PostRaw(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

// Get sends a GET request.
func (ts *TestServer) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ReadError decodes an error response and checks its status.
func ReadError(t *testing.T, resp *http.Response, status int) ErrorBody {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var body ErrorBody
	ReadJSON(t, resp, &body)
	return body
}

// --- Domain helpers ---

// CreateCharacter saves a character document and returns its ID.
func (ts *TestServer) CreateCharacter(t *testing.T, name string, attrs map[string]interface{}) int64 {
	t.Helper()
	doc := map[string]interface{}{"name": name}
	for k, v := range attrs {
		doc[k] = v
	}
	resp := ts.PostJSON(t, "/save_character", doc)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		CharacterID int64 `json:"character_id"`
	}
	ReadJSON(t, resp, &result)
	return result.CharacterID
}

// SubmitCoop posts a cooperative score by player names.
func (ts *TestServer) SubmitCoop(t *testing.T, p1, p2 string, score int64) *http.Response {
	t.Helper()
	return ts.PostJSON(t, "/save_cooperative_players", map[string]interface{}{
		"player1":       p1,
		"player2":       p2,
		"highest_score": score,
	})
}

// --- SSE client ---

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// EventStream reads server-sent events in a background goroutine.
type EventStream struct {
	resp   *http.Response
	events chan Event
}

// ConnectEvents opens /events and waits for the initial "connected" event.
func (ts *TestServer) ConnectEvents(t *testing.T) *EventStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	es := &EventStream{resp: resp, events: make(chan Event, 64)}
	go es.readLoop()
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	ev, ok := es.Next(2 * time.Second)
	require.True(t, ok, "no connected event")
	require.Equal(t, "connected", ev.Name)
	return es
}

func (es *EventStream) readLoop() {
	defer close(es.events)
	br := bufio.NewReader(es.resp.Body)
	var ev Event
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if ev.Name != "" {
				es.events <- ev
			}
			ev = Event{}
		}
	}
}

// Next returns the next event, or false after timeout.
func (es *EventStream) Next(timeout time.Duration) (Event, bool) {
	select {
	case ev, ok := <-es.events:
		return ev, ok
	case <-time.After(timeout):
		return Event{}, false
	}
}
