package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"dealflow/api/internal/auth"
	"dealflow/api/internal/store"
)

var testSecret = []byte("test-secret")

type fakeLimiter struct {
	allowFn func(context.Context, string) (bool, error)
	keys    []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func newTestServer(t *testing.T, env *testEnv, limiter RateLimiter) http.Handler {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.VerifierOptions{Secret: testSecret})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return NewHTTPServer(env.service, ServerOptions{
		Verifier:   verifier,
		Limiter:    limiter,
		CORSOrigin: "*",
	}).Handler()
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	claims := auth.Claims{Name: "Partner " + userID, Email: userID + "@fund.vc", Role: role}
	claims.Subject = userID
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	token, err := auth.Issue(testSecret, claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func postForm(t *testing.T, handler http.Handler, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, webhookPath, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	rr := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	checks := decodeResponse(t, rr)["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["status"] != "error" || database["error"] != "connection refused" {
		t.Fatalf("unexpected database check: %v", database)
	}
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestReadyReportsOptionalDependencies(t *testing.T) {
	env := newTestEnv(t)
	verifier, err := auth.NewVerifier(auth.VerifierOptions{Secret: testSecret})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	redisCheck := &fakePinger{}
	handler := NewHTTPServer(env.service, ServerOptions{
		Verifier: verifier,
		Checks:   map[string]Pinger{"redis": redisCheck},
	}).Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	payload := decodeResponse(t, rr)
	if rr.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", rr.Code, payload)
	}

	redisCheck.err = errors.New("dial tcp: connection refused")
	rr = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	payload = decodeResponse(t, rr)
	if rr.Code != http.StatusOK || payload["status"] != "degraded" || payload["ok"] != true {
		t.Fatalf("expected degraded but serving, got %d %v", rr.Code, payload)
	}
	redis := payload["checks"].(map[string]any)["redis"].(map[string]any)
	if redis["status"] != "error" || redis["error"] != "dial tcp: connection refused" {
		t.Fatalf("unexpected redis check: %v", redis)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if payload := decodeResponse(t, rr); rr.Code != http.StatusServiceUnavailable || payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %d %v", rr.Code, payload)
	}
}

func TestWebhookReadiness(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingFn = func(context.Context) error {
		t.Fatalf("readiness probe must not touch storage")
		return nil
	}
	handler := newTestServer(t, env, nil)

	rr := doJSON(t, handler, http.MethodGet, webhookPath, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "ok" || payload["message"] != "JotForm webhook endpoint is ready" {
		t.Fatalf("unexpected readiness body: %v", payload)
	}
	if payload["timestamp"] != testNow.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %v", payload["timestamp"])
	}
}

func TestWebhookAcceptsFormDelivery(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	rr := postForm(t, handler, url.Values{
		"q29_companyName":  {"Acme"},
		"q32_primaryEmail": {"  a@b.com  "},
		"q35_haveYou":      {""},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != true || payload["message"] != "Application received successfully" {
		t.Fatalf("unexpected body: %v", payload)
	}
	id, _ := payload["applicationId"].(string)
	app, err := env.store.GetApplication(context.Background(), id)
	if err != nil {
		t.Fatalf("get application %q: %v", id, err)
	}
	if *app.CompanyName != "Acme" || *app.PrimaryEmail != "a@b.com" || app.PreviousFunding != nil {
		t.Fatalf("unexpected application: %+v", app)
	}
	if app.Stage != "new" || app.VotesRevealed {
		t.Fatalf("unexpected state: %+v", app.State())
	}
}

func TestWebhookMultipartIgnoresFiles(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("rawSubmission[q29_companyName]", "Wrapped Co")
	_ = writer.WriteField("event_id", "evt-99")
	part, err := writer.CreateFormFile("q45_pitchDeck", "deck.pdf")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	_, _ = part.Write([]byte("%PDF-1.4 \x00\x01binary"))
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, webhookPath, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	app, err := env.store.GetApplication(context.Background(), decodeResponse(t, rr)["applicationId"].(string))
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app.CompanyName == nil || *app.CompanyName != "Wrapped Co" || app.SubmissionID != "evt-99" {
		t.Fatalf("unexpected application: %+v", app)
	}
	if app.DeckLink != nil {
		t.Fatalf("binary part leaked into deck link: %q", *app.DeckLink)
	}
}

func TestWebhookOutOfRangeSubmitDateKeepsViewsReadable(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	rr := postForm(t, handler, url.Values{
		"q29_companyName": {"Bad Co"},
		"submitDate":      {"253402300800000"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	token := tokenFor(t, "alice", "partner")
	rr = doJSON(t, handler, http.MethodGet, "/api/pipeline", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pipeline: expected 200, got %d", rr.Code)
	}
	items := decodeResponse(t, rr)["applications"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one application, got %d", len(items))
	}
	app := items[0].(map[string]any)["application"].(map[string]any)
	if app["submittedAt"] != testNow.Format(time.RFC3339) {
		t.Fatalf("expected submittedAt to fall back to ingestion time, got %v", app["submittedAt"])
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/dashboard", token, nil)
	if rr.Code != http.StatusOK || rr.Body.Len() == 0 {
		t.Fatalf("dashboard: status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestWriteJSONUnencodablePayload(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"at": time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "SERVER_ERROR" {
		t.Fatalf("expected SERVER_ERROR, got %v", code)
	}
}

func TestWebhookDuplicateDeliveriesCreateTwoApplications(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)
	values := url.Values{"q29_companyName": {"Acme"}, "event_id": {"evt-1"}}

	first := decodeResponse(t, postForm(t, handler, values))["applicationId"]
	second := decodeResponse(t, postForm(t, handler, values))["applicationId"]
	if first == second {
		t.Fatalf("expected distinct application ids")
	}
	apps, _ := env.store.ListApplications(context.Background(), store.ApplicationFilter{})
	if len(apps) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(apps))
	}
}

func TestWebhookStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.insertApplicationFn = func(context.Context, store.Application) (store.Application, error) {
		return store.Application{}, errors.New("insert application: relation \"applications\" does not exist")
	}
	handler := newTestServer(t, env, nil)

	rr := postForm(t, handler, url.Values{"q29_companyName": {"Acme"}})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["error"] != "Failed to save application" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
	if details, _ := payload["details"].(string); !strings.Contains(details, "does not exist") {
		t.Fatalf("expected store error in details, got %v", payload["details"])
	}
}

func TestWebhookUnreadableBody(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	req := httptest.NewRequest(http.MethodPost, webhookPath, strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "application/xml")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["error"] != "Webhook processing failed" {
		t.Fatalf("unexpected body: %v", payload)
	}
}

func TestWebhookJSONBody(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	body := `{"answers":{"29":{"name":"companyName","answer":"Json Co"}},"submissionID":"5900"}`
	req := httptest.NewRequest(http.MethodPost, webhookPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	app, err := env.store.GetApplication(context.Background(), decodeResponse(t, rr)["applicationId"].(string))
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app.CompanyName == nil || *app.CompanyName != "Json Co" || app.SubmissionID != "5900" {
		t.Fatalf("unexpected application: %+v", app)
	}
}

func TestWebhookRateLimit(t *testing.T) {
	env := newTestEnv(t)
	limiter := &fakeLimiter{allowFn: func(context.Context, string) (bool, error) { return false, nil }}
	handler := newTestServer(t, env, limiter)

	rr := postForm(t, handler, url.Values{"q29_companyName": {"Acme"}})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %v", code)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "192.0.2.1" {
		t.Fatalf("expected limiter keyed by client ip, got %v", limiter.keys)
	}
	apps, _ := env.store.ListApplications(context.Background(), store.ApplicationFilter{})
	if len(apps) != 0 {
		t.Fatalf("rate limited delivery must not be stored")
	}
}

func TestWebhookRateLimiterFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	limiter := &fakeLimiter{allowFn: func(context.Context, string) (bool, error) { return false, errors.New("redis down") }}
	handler := newTestServer(t, env, limiter)

	rr := postForm(t, handler, url.Values{"q29_companyName": {"Acme"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delivery accepted when limiter fails, got %d", rr.Code)
	}
}

func TestPartnerAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, handler, http.MethodGet, "/api/pipeline", tt.token, nil)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}

	expired := auth.Claims{}
	expired.Subject = "alice"
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token, err := auth.Issue(testSecret, expired)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rr := doJSON(t, handler, http.MethodGet, "/api/pipeline", token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestViewerCannotVote(t *testing.T) {
	env := newTestEnv(t)
	app := env.ingest(t, acmePayload())
	handler := newTestServer(t, env, nil)
	token := tokenFor(t, "vera", "viewer")

	if rr := doJSON(t, handler, http.MethodGet, "/api/pipeline", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected viewer to read the pipeline, got %d", rr.Code)
	}
	rr := doJSON(t, handler, http.MethodPost, "/api/applications/"+app.ID+"/votes", token, map[string]any{"vote": "yes"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestVoteLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	app := env.ingest(t, acmePayload())
	handler := newTestServer(t, env, nil)
	votePath := "/api/applications/" + app.ID + "/votes"
	advancePath := "/api/applications/" + app.ID + "/advance"

	alice := tokenFor(t, "alice", "")
	rr := doJSON(t, handler, http.MethodPost, votePath, alice, map[string]any{"vote": "yes", "notes": "great team"})
	if rr.Code != http.StatusOK {
		t.Fatalf("vote: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, advancePath, alice, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("advance without quorum: expected 409, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %v", code)
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/applications/"+app.ID+"/deliberation", alice, map[string]any{
		"decision": "yes",
		"status":   "invested",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("deliberation while voting: expected 409, got %d", rr.Code)
	}

	for _, user := range []string{"bob", "carol"} {
		if rr := doJSON(t, handler, http.MethodPost, votePath, tokenFor(t, user, "partner"), map[string]any{"vote": "maybe"}); rr.Code != http.StatusOK {
			t.Fatalf("vote by %s: expected 200, got %d", user, rr.Code)
		}
	}

	rr = doJSON(t, handler, http.MethodPost, advancePath, alice, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/applications/"+app.ID+"/deliberation", alice, map[string]any{
		"decision": "yes",
		"status":   "invested",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("deliberation: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	application := decodeResponse(t, rr)["application"].(map[string]any)
	if application["stage"] != "invested" {
		t.Fatalf("expected invested, got %v", application["stage"])
	}

	rr = doJSON(t, handler, http.MethodPost, votePath, alice, map[string]any{"vote": "no"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("vote on terminal application: expected 409, got %d", rr.Code)
	}
}

func TestVoteValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	app := env.ingest(t, acmePayload())
	handler := newTestServer(t, env, nil)
	token := tokenFor(t, "alice", "partner")

	rr := doJSON(t, handler, http.MethodPost, "/api/applications/"+app.ID+"/votes", token, map[string]any{"vote": "sure"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/applications/"+app.ID+"/votes", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestApplicationNotFound(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)
	token := tokenFor(t, "alice", "partner")

	rr := doJSON(t, handler, http.MethodGet, "/api/applications/does-not-exist", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/applications/does-not-exist/reveal", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)
	token := tokenFor(t, "alice", "partner")

	rr := doJSON(t, handler, http.MethodGet, "/api/applications/search?q=acme&limit=5", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if query := decodeResponse(t, rr)["query"]; query != "acme" {
		t.Fatalf("expected query echoed, got %v", query)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/applications/search?q=acme&limit=many", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, "/api/applications/search?q=acme&stage=limbo", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad stage, got %d", rr.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, acmePayload())
	handler := newTestServer(t, env, nil)

	rr := doJSON(t, handler, http.MethodGet, "/api/dashboard", tokenFor(t, "alice", "partner"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if needsVote := payload["needsVote"].([]any); len(needsVote) != 1 {
		t.Fatalf("expected one application needing a vote, got %v", needsVote)
	}
	stats := payload["stats"].(map[string]any)
	if stats["pipeline"] != float64(1) {
		t.Fatalf("expected pipeline stat 1, got %v", stats["pipeline"])
	}
}

func TestEmailSenderEndpoints(t *testing.T) {
	env := newTestEnv(t)
	app := env.ingest(t, acmePayload())
	handler := newTestServer(t, env, nil)
	alice := tokenFor(t, "alice", "partner")
	base := "/api/applications/" + app.ID

	rr := doJSON(t, handler, http.MethodPut, base+"/email-sender", alice, map[string]any{"userId": "alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if sender := decodeResponse(t, rr)["application"].(map[string]any)["emailSenderId"]; sender != "alice" {
		t.Fatalf("expected alice as sender, got %v", sender)
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/email-sent", alice, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", rr.Code)
	}
	if sent := decodeResponse(t, rr)["application"].(map[string]any)["emailSent"]; sent != true {
		t.Fatalf("expected emailSent true, got %v", sent)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	handler := newTestServer(t, env, nil)
	rr := doJSON(t, handler, http.MethodGet, "/api/nothing-here", tokenFor(t, "alice", "partner"), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
