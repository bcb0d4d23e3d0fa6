package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lumenforge/respondctl/internal/config"
	"github.com/lumenforge/respondctl/internal/types"
)

func testConfig() config.Config {
	return config.Config{
		AppEnv:                    config.EnvLocal,
		RequestIDHeader:           "X-Request-ID",
		APIChatTotalTimeoutMs:     20000,
		ModelCallTimeoutMs:        1000,
		MinPassTimeoutMs:          250,
		MinBudgetPerPass:          50,
		MaxPassesEver:             5,
		DeepthinkEnabled:          true,
		DeepthinkTotalBudgetUnits: 300,
		DeepthinkTotalTimeoutMs:   1500,
		DefaultEntitlementTier:    "PRO",
		RateLimitPerMinute:        100,
	}
}

func testServer(cfg config.Config) *Server {
	return New(Options{Config: cfg, Version: "test", NowMs: func() int64 { return 0 }})
}

func postChat(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var cr chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cr); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return cr
}

func TestChatAnswerHappyPath(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"how do compilers parse expressions"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cr := decodeChat(t, rec)
	if cr.Action != string(types.ActionAnswer) {
		t.Fatalf("expected ANSWER, got %s", cr.Action)
	}
	if cr.RequestID == "" || rec.Header().Get("X-Request-ID") != cr.RequestID {
		t.Fatalf("request id must be set and mirrored, got %q / %q", cr.RequestID, rec.Header().Get("X-Request-ID"))
	}
	if rec.Header().Get("X-UX-State") != cr.UXState {
		t.Fatal("X-UX-State header must mirror the body")
	}
}

func TestChatWrongContentType415(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("user_text=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	var er errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil || er.OK || er.FailureType == "" || er.RequestID == "" {
		t.Fatalf("error shape invalid: %s", rec.Body.String())
	}
}

func TestChatMalformedBody400(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	for _, body := range []string{"{not json", `{"user_text":""}`, `{"user_text":"   "}`} {
		rec := postChat(t, handler, body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestRequestIDClientSuppliedSafeValueHonored(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"hello there"}`, map[string]string{"X-Request-ID": "abc-123-DEF"})
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123-DEF" {
		t.Fatalf("safe client id must be honored, got %q", got)
	}
	rec = postChat(t, handler, `{"user_text":"hello there"}`, map[string]string{"X-Request-ID": "not$afe<id>"})
	if got := rec.Header().Get("X-Request-ID"); got == "not$afe<id>" || got == "" {
		t.Fatalf("unsafe client id must be replaced, got %q", got)
	}
}

func TestCORSPreflightExposesHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://app.example.com"}
	handler := testServer(cfg).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("origin not allowed: %v", rec.Header())
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials must be allowed")
	}
	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"X-Request-ID", "X-UX-State", "X-Cooldown-Seconds"} {
		if !strings.Contains(exposed, h) {
			t.Fatalf("exposed headers missing %s: %q", h, exposed)
		}
	}
}

func TestCORSDisallowedOriginNotEchoed(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://app.example.com"}
	handler := testServer(cfg).Handler()

	rec := postChat(t, handler, `{"user_text":"hello"}`, map[string]string{"Origin": "https://evil.example.com"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin must not be echoed")
	}
}

func TestRateLimit429WithCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	handler := testServer(cfg).Handler()

	body := `{"user_text":"hello","session_id":"sess-1"}`
	for i := 0; i < 2; i++ {
		if rec := postChat(t, handler, body, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := postChat(t, handler, body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-Cooldown-Seconds") == "" {
		t.Fatal("429 must carry X-Cooldown-Seconds")
	}
}

func TestChatDeepModeCodeTechAsksOneQuestion(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"I have an error in my code: TypeError exception","mode":"deep","tier":"PRO"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cr := decodeChat(t, rec)
	if cr.Action != string(types.ActionAskOneQuestion) {
		t.Fatalf("expected ASK_ONE_QUESTION after stress test, got %+v", cr)
	}
	if strings.Count(cr.RenderedText, "?") != 1 {
		t.Fatalf("clarify output must contain exactly one '?', got %q", cr.RenderedText)
	}
	lower := strings.ToLower(cr.RenderedText)
	if !strings.Contains(lower, "language") && !strings.Contains(lower, "runtime") {
		t.Fatalf("clarify question must mention language or runtime, got %q", cr.RenderedText)
	}
}

func TestChatDeepModeFreeTierStillAnswers(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"how do compilers parse expressions","mode":"deep","tier":"FREE"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cr := decodeChat(t, rec)
	if cr.Action != string(types.ActionAnswer) {
		t.Fatalf("blocked deep-think must fall back to the baseline answer, got %+v", cr)
	}
}

func TestChatCloseContainsNoQuestionMark(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"never mind"}`, nil)
	cr := decodeChat(t, rec)
	if cr.Action != string(types.ActionClose) {
		t.Fatalf("expected CLOSE, got %+v", cr)
	}
	if strings.Contains(cr.RenderedText, "?") {
		t.Fatalf("CLOSE output must not contain '?', got %q", cr.RenderedText)
	}
	if cr.UXState != uxClosed {
		t.Fatalf("expected closed ux state, got %q", cr.UXState)
	}
}

func TestChatSystemicRequestRefuses(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	rec := postChat(t, handler, `{"user_text":"I want to push this change to all users right away"}`, nil)
	cr := decodeChat(t, rec)
	if cr.Action != string(types.ActionRefuse) {
		t.Fatalf("systemic-scope request should refuse, got %+v", cr)
	}
	if cr.UXState != uxRefused {
		t.Fatalf("expected refused ux state, got %q", cr.UXState)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestReadyEndpointProductionMissingEnv(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = config.EnvProduction
	handler := testServer(cfg).Handler()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status     string   `json:"status"`
		MissingEnv []string `json:"missing_env"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Status != "not_ready" || len(body.MissingEnv) == 0 {
		t.Fatalf("unexpected ready body: %+v", body)
	}
}

func TestReadyEndpointLocalOK(t *testing.T) {
	handler := testServer(testConfig()).Handler()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
