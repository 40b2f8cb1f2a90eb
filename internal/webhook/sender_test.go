package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"texforge/internal/backend"
)

func note(id string) Notification {
	return Notification{
		JobID:     id,
		TargetKey: "/proj",
		Status:    "completed",
		Result:    &backend.BuildResult{Success: true, ArtifactPath: "out/main.pdf"},
		Timestamp: time.Now().UTC(),
	}
}

func TestHTTPSender_Success(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(2*time.Second, 0)
	if err := s.Notify(context.Background(), srv.URL, note("1")); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if received.JobID != "1" || received.Result == nil || !received.Result.Success {
		t.Fatalf("payload not delivered intact: %+v", received)
	}
}

func TestHTTPSender_RetryThenSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(2*time.Second, 5)
	start := time.Now()
	if err := s.Notify(context.Background(), srv.URL, note("2")); err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if atomic.LoadInt32(&hits) < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", hits)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatalf("expected backoff delay to elapse, too fast: %s", time.Since(start))
	}
}

func TestHTTPSender_ExhaustRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSender(500*time.Millisecond, 2)
	if err := s.Notify(context.Background(), srv.URL, note("3")); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestHTTPSender_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(5*time.Second, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Notify(ctx, srv.URL, note("4")); err == nil {
		t.Fatal("expected context timeout error")
	}
}
