package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Didihazan/WhatsApp-Bot/internal/schedule"
)

func TestBatchCompleted(t *testing.T) {
	t.Parallel()

	var (
		gotPath        string
		gotContentType string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL + "/hooks/broadcast")
	err := n.BatchCompleted(context.Background(), schedule.BatchSummary{
		RunID:    "run-1",
		TenantID: "tenant-1",
		Total:    3,
		Sent:     2,
		Failed:   1,
	})
	if err != nil {
		t.Fatalf("BatchCompleted() error: %v", err)
	}

	if gotPath != "/hooks/broadcast" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}

	var payload batchPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if payload.Event != "broadcast.completed" {
		t.Fatalf("unexpected event %q", payload.Event)
	}
	if payload.Summary.TenantID != "tenant-1" || payload.Summary.Sent != 2 {
		t.Fatalf("unexpected summary %+v", payload.Summary)
	}
	if payload.Timestamp.IsZero() {
		t.Fatalf("expected timestamp set")
	}
}

func TestBatchCompleted_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hook disabled", http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.BatchCompleted(context.Background(), schedule.BatchSummary{RunID: "run-1"})
	if err == nil {
		t.Fatalf("expected error on 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestBatchCompleted_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewWebhookNotifier(srv.URL)
	if err := n.BatchCompleted(ctx, schedule.BatchSummary{RunID: "run-1"}); err == nil {
		t.Fatalf("expected error with canceled context")
	}
}
