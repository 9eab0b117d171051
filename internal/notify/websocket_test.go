package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

func TestWebsocketReceivesDetections(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger, 4)
	defer hub.Close()

	srv := httptest.NewServer(NewWSHandler(hub, logger))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// The upgrade registers a hub subscription asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for websocket subscription")
		}
		time.Sleep(10 * time.Millisecond)
	}

	published := store.DetectionRecord{
		ID:         "rec-1",
		UserID:     "alice",
		IsUrgent:   true,
		Confidence: 0.92,
	}
	if delivered, _ := hub.Publish(published); delivered != 1 {
		t.Fatalf("Expected 1 delivery, got %d", delivered)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}

	if event.Event != EventNewDetection {
		t.Errorf("Expected event %q, got %q", EventNewDetection, event.Event)
	}
	if event.Data.ID != "rec-1" || !event.Data.IsUrgent {
		t.Errorf("Event payload mismatch: %+v", event.Data)
	}
}

func TestWebsocketDisconnectUnsubscribes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger, 4)
	defer hub.Close()

	srv := httptest.NewServer(NewWSHandler(hub, logger))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for websocket subscription")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for unsubscribe after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
