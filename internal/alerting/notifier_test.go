package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crop-price-alerts/internal/storage"
)

func sampleNotification() storage.AlertNotification {
	return storage.AlertNotification{
		ID:        "note-1",
		OwnerID:   "farmer-1",
		Title:     "Price increase: maize in Nairobi",
		Message:   "Change: +5.00%",
		AlertType: storage.AlertPriceIncrease,
		CropType:  "maize",
		Location:  "Nairobi",
		OldPrice:  decimal.NewFromInt(100),
		NewPrice:  decimal.NewFromInt(105),
		ChangePct: decimal.NewFromInt(5),
		Status:    storage.NotificationPending,
	}
}

func TestTelegramNotifySendsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, 5*time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotPayload["chat_id"] != "12345" {
		t.Fatalf("unexpected chat_id %q", gotPayload["chat_id"])
	}
	if !strings.Contains(gotPayload["text"], "maize in Nairobi") {
		t.Fatalf("message text should carry the title, got %q", gotPayload["text"])
	}
}

func TestTelegramNotifyRejectsNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, 5*time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false responses must surface as errors")
	}
}

func TestTelegramNotifyRejectsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, 5*time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected a status error, got %v", err)
	}
}
