package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, limiter *RateLimiter) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:      e,
		BasePath:    "/v1",
		Auth:        AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, EnableDevLogin: true},
		RateLimiter: limiter,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	return decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data).Error.Code
}

func TestHireFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs", map[string]any{
		"title": "Paint fence", "budget": 300, "positions_available": 1,
	}, as("olivia"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create gig: %d %s", res.StatusCode, string(data))
	}
	gig := decode[GigResponse](t, data)
	if gig.OwnerID != "olivia" || gig.RemainingPositions != 1 || gig.Status != "open" {
		t.Fatalf("unexpected gig %+v", gig)
	}

	var bids []BidResponse
	for _, bidder := range []string{"ann", "bob"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/bids", map[string]any{
			"message": "hire me", "price": 250,
		}, as(bidder))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("submit bid: %d %s", res.StatusCode, string(data))
		}
		bids = append(bids, decode[BidResponse](t, data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bids[0].ID+"/hire", nil, as("bob"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403 for non-owner, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bids[0].ID+"/hire", nil, as("olivia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hire: %d %s", res.StatusCode, string(data))
	}
	hired := decode[HireResponse](t, data)
	if hired.Bid.Status != "hired" || !hired.Filled || hired.Counters.RemainingPositions != 0 {
		t.Fatalf("unexpected hire response %+v", hired)
	}
	if len(hired.RejectedBidders) != 1 || hired.RejectedBidders[0] != "bob" {
		t.Fatalf("expected bob rejected, got %v", hired.RejectedBidders)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bids[1].ID+"/hire", nil, as("olivia"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "capacity_exhausted" {
		t.Fatalf("expected capacity_exhausted, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bids[0].ID+"/hire", nil, as("olivia"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("expected conflict on rehire, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me/bids", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my bids: %d %s", res.StatusCode, string(data))
	}
	mine := decode[[]BidResponse](t, data)
	if len(mine) != 1 || mine[0].Status != "rejected" || mine[0].RejectReason == "" {
		t.Fatalf("unexpected bids for bob %+v", mine)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?gig_id="+gig.ID+"&type=bid:hired", nil, as("olivia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	evts := decode[paginatedEvents](t, data)
	if len(evts.Items) != 1 || evts.Items[0].EntityID != bids[0].ID {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/gigs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be public, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/missing/hire", nil, as("olivia"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found, got %d %s", res.StatusCode, string(data))
	}

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs", map[string]any{"title": "Move couch", "budget": 50}, as("olivia"))
	gig := decode[GigResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/bids", map[string]any{"message": "me", "price": 10}, as("olivia"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "self_bid" {
		t.Fatalf("expected self_bid, got %d %s", res.StatusCode, string(data))
	}

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/bids", map[string]any{"message": "me", "price": 40}, as("ann"))
	bid := decode[BidResponse](t, data)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/bids", map[string]any{"message": "again", "price": 30}, as("ann"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "active_bid_exists" {
		t.Fatalf("expected active_bid_exists, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bid.ID+"/hire", nil, as("olivia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hire: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bid.ID+"/reject", map[string]any{"reason": "too late"}, as("olivia"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/gigs/"+gig.ID, nil, as("olivia"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "confirmation_required" {
		t.Fatalf("expected confirmation_required, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/gigs/"+gig.ID+"?confirm=true", nil, as("olivia"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
}

func TestCounterOfferOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs", map[string]any{"title": "Build deck", "budget": 900, "positions_available": 2}, as("olivia"))
	gig := decode[GigResponse](t, data)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/bids", map[string]any{"message": "deck pro", "price": 400}, as("ann"))
	bid := decode[BidResponse](t, data)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bid.ID+"/counter-offer", map[string]any{"price": 500, "message": "add stairs"}, as("olivia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("counter: %d %s", res.StatusCode, string(data))
	}
	countered := decode[BidResponse](t, data)
	if countered.Status != "countered" || countered.CounterOffer == nil || countered.CounterOffer.Price != 500 {
		t.Fatalf("unexpected countered bid %+v", countered)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bid.ID+"/accept-counter", nil, as("ann"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	accepted := decode[HireResponse](t, data)
	if accepted.Bid.Status != "hired" || accepted.Bid.Price != 500 || accepted.Counters.PositionsFilled != 1 {
		t.Fatalf("unexpected accept response %+v", accepted)
	}
}

func TestJWTLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "olivia"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", res.StatusCode, string(data))
	}
	token := decode[DevLoginResponse](t, data).Token

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	me := decode[WhoAmIResponse](t, data)
	if me.ActorID != "olivia" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestRateLimitPerActor(t *testing.T) {
	srv, cleanup := newTestServer(t, NewRateLimiter(0.001, 2))
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 2; i++ {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/gigs", nil, as("ann"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/gigs", nil, as("ann"))
	if res.StatusCode != http.StatusTooManyRequests || errorCode(t, data) != "rate_limited" {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/gigs", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("other actors keep their own bucket, got %d", res.StatusCode)
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()

	if _, err := srv.Engine.CreateGig(ctx, engine.GigCreateOptions{Title: "Old gig", OwnerID: "olivia"}); err != nil {
		t.Fatalf("create gig: %v", err)
	}

	var mu sync.Mutex
	var got []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Gigline-Secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"gig:created"}, Secret: "s3cret"},
	}, nil)
	d.dispatchAll(ctx)

	g, err := srv.Engine.CreateGig(ctx, engine.GigCreateOptions{Title: "New gig", OwnerID: "olivia"})
	if err != nil {
		t.Fatalf("create gig: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Type != "gig:created" || got[0].GigID != g.ID {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
}

func TestCaptureBodyLimitsRequestSize(t *testing.T) {
	var seen []byte
	h := captureBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = bodyBytes(r.Context())
		again, _ := io.ReadAll(r.Body)
		if !bytes.Equal(seen, again) {
			t.Errorf("handler body %q differs from captured %q", again, seen)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/gigs", strings.NewReader(`{"title":"x"}`)))
	if rec.Code != http.StatusNoContent || string(seen) != `{"title":"x"}` {
		t.Fatalf("small body: %d %q", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/gigs", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge || errorCode(t, rec.Body.Bytes()) != "payload_too_large" {
		t.Fatalf("expected payload_too_large, got %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/gigs", nil)
	req.Body = io.NopCloser(iotest.ErrReader(errors.New("client went away")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec.Body.Bytes()) != "bad_request" {
		t.Fatalf("expected bad_request on read failure, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestReconcileOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs", map[string]any{"title": "Rake leaves", "budget": 60}, as("olivia"))
	gig := decode[GigResponse](t, data)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/reconcile", nil, as("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gigs/"+gig.ID+"/reconcile", nil, as("olivia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reconcile: %d %s", res.StatusCode, string(data))
	}
	out := decode[ReconcileResponse](t, data)
	if out.Released != 0 || out.Drift != 0 || len(out.RejectedBids) != 0 {
		t.Fatalf("fresh gig needs no reconcile, got %+v", out)
	}
}
