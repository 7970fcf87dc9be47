package events_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-learn/internal/events"
)

func TestHub_StreamsLearnerEvents(t *testing.T) {
	bus := events.NewBus()
	hub := events.NewHub()
	defer hub.Attach(bus)()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("learner"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?learner=l1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	// Wait for the server side to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients("l1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.Event{Kind: events.LessonCompleted, LearnerID: "other", LessonKey: "x"})
	bus.Publish(events.Event{Kind: events.LessonCompleted, LearnerID: "l1", LessonKey: "a"})
	bus.Publish(events.Event{Kind: events.ProgressUpdated, LearnerID: "l1"})

	var first, second events.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if first.Kind != events.LessonCompleted || first.LessonKey != "a" {
		t.Errorf("first event = %+v, want lesson_completed for a", first)
	}
	if second.Kind != events.ProgressUpdated {
		t.Errorf("second event kind = %q, want progress_updated", second.Kind)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients("l1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
