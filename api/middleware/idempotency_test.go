package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/lending-backend/api/responses"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"borrow", http.MethodPost, "/api/v1/borrows", lendingIdempotencyTTL, true},
		{"return", http.MethodPost, "/api/v1/borrows/return", lendingIdempotencyTTL, true},
		{"add book", http.MethodPost, "/api/v1/books/", defaultIdempotencyTTL, true},
		{"create member", http.MethodPost, "/api/v1/members", defaultIdempotencyTTL, true},
		{"update book", http.MethodPut, "/api/v1/books/{bookId}", 0, false},
		{"list titles", http.MethodGet, "/api/v1/borrows/titles", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]int{"call": calls})
	}))

	send := func() *httptest.ResponseRecorder {
		req := requestWithPattern(http.MethodPost, "/api/v1/borrows", "/api/v1/borrows", strings.NewReader(`{"member_id":"m","book_id":"b"}`))
		req.Header.Set(IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	for key, ttl := range store.ttls {
		if ttl != lendingIdempotencyTTL {
			t.Fatalf("expected %s stored for %v, got %v", key, lendingIdempotencyTTL, ttl)
		}
	}
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, "ok")
	}))

	for i, body := range []string{`{"member_id":"a"}`, `{"member_id":"b"}`} {
		req := requestWithPattern(http.MethodPost, "/api/v1/borrows/return", "/api/v1/borrows/return", strings.NewReader(body))
		req.Header.Set(IdempotencyHeader, "key-2")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 0 {
			continue
		}
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if envelope.Error.Code != string(pkgerrors.CodeIdempotency) {
			t.Fatalf("expected %s, got %s", pkgerrors.CodeIdempotency, envelope.Error.Code)
		}
	}
}

func TestIdempotencyReleasesKeyOnRetryableFailure(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeConflict, "busy"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, "borrowed")
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/borrows", "/api/v1/borrows", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyHeader, "key-3")
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, calls=%d", calls)
	}
	if last.Code != http.StatusCreated {
		t.Fatalf("expected 201 on retry, got %d", last.Code)
	}
}

func TestIdempotencyPendingKeyIsConflict(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	req := requestWithPattern(http.MethodPost, "/api/v1/borrows", "/api/v1/borrows", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyHeader, "key-4")
	pending, _ := json.Marshal(idempotencyRecord{Pending: true, RequestHash: hashBody([]byte(`{}`))})
	store.data[store.IdempotencyKey(buildScope(req), "key-4")] = string(pending)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec.Header().Get(responses.RetryableHeader) != "true" {
		t.Fatal("pending conflict should be marked retryable")
	}
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/borrows", "/api/v1/borrows", strings.NewReader(`{}`))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both calls to run, got %d", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected nothing stored, got %v", store.data)
	}
}
