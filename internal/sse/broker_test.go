package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects every frame already queued for s.
func drain(t *testing.T, s *Subscriber) []string {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg, ok := <-s.C:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestClientCount(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d, want 0", n)
	}
	s := b.Subscribe(Filter{})
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(s)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after unsubscribe = %d, want 0", n)
	}
}

func TestPublish_NumbersFrames(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	s := b.Subscribe(Filter{})
	defer b.Unsubscribe(s)

	b.Publish(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
	b.Publish(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})

	frames := drain(t, s)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !strings.HasPrefix(frames[0], "id: 1\nevent: catalog.updated\n") {
		t.Errorf("first frame = %q", frames[0])
	}
	if !strings.HasPrefix(frames[1], "id: 2\n") {
		t.Errorf("second frame = %q", frames[1])
	}
}

func TestPublishScanEvent_CarriesLabel(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	s := b.Subscribe(Filter{})
	defer b.Unsubscribe(s)

	b.PublishScanEvent("created", "site/STX01_UTP_A-17_01_T1.nii")
	b.PublishScanEvent("rejected", "notes.txt")
	b.PublishScanEvent("bogus", "c.nii")

	frames := drain(t, s)
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 2 scan events and 1 catalog.updated: %q", len(frames), frames)
	}
	if !strings.Contains(frames[0], "event: scan.created") ||
		!strings.Contains(frames[0], `"label":"STX01_UTP_A-17_01"`) ||
		!strings.Contains(frames[0], `"study":"STX01"`) ||
		!strings.Contains(frames[0], `"convention":"site-issued"`) {
		t.Errorf("created frame = %q", frames[0])
	}
	if !strings.Contains(frames[1], "event: catalog.updated") {
		t.Errorf("second frame = %q, want catalog.updated", frames[1])
	}
	if !strings.Contains(frames[2], "event: scan.rejected") || strings.Contains(frames[2], "label") {
		t.Errorf("rejected frame = %q", frames[2])
	}
}

func TestPublishScanEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	s := b.Subscribe(Filter{})
	defer b.Unsubscribe(s)

	b.PublishScanEvent("created", "a.nii")
	b.PublishScanEvent("updated", "a.nii")
	b.PublishScanEvent("deleted", "a.nii")

	catalog := 0
	for _, f := range drain(t, s) {
		if strings.Contains(f, "event: catalog.updated") {
			catalog++
		}
	}
	if catalog != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalog)
	}
}

func TestSubscribe_StudyFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	stu01 := b.Subscribe(Filter{Study: "stu01"})
	defer b.Unsubscribe(stu01)

	b.PublishScanEvent("created", "STU02_UTO_10001_01_SE01_T1.nii")
	b.PublishScanEvent("created", "STU01_UTO_10001_01_SE01_T1.nii")

	var scans []string
	for _, f := range drain(t, stu01) {
		if strings.Contains(f, "event: scan.created") {
			scans = append(scans, f)
		}
	}
	if len(scans) != 1 || !strings.Contains(scans[0], `"study":"STU01"`) {
		t.Errorf("filtered frames = %q", scans)
	}
}

func TestSubscribe_ReplaysAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	for range 3 {
		b.Publish(Event{Type: TypeScanUpdated, Data: map[string]string{"path": "x.nii"}})
	}
	// Make sure the broker has handled all three before the late subscriber joins.
	time.Sleep(50 * time.Millisecond)

	s := b.Subscribe(Filter{LastEventID: 1})
	defer b.Unsubscribe(s)

	frames := drain(t, s)
	if len(frames) != 2 {
		t.Fatalf("replayed = %d, want 2", len(frames))
	}
	if !strings.HasPrefix(frames[0], "id: 2\n") {
		t.Errorf("first replayed frame = %q", frames[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?study=STU01", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give the handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1 from handler", n)
	}

	b.PublishScanEvent("updated", "STU01_UTO_10001_01_SE01_T1.nii")
	b.PublishScanEvent("updated", "STU09_UTO_10001_01_SE01_T1.nii")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(body, "STU01_UTO_10001_01_SE01_T1.nii") {
		t.Errorf("handler output missing STU01 event: %q", body)
	}
	if strings.Contains(body, "STU09") {
		t.Errorf("handler leaked another study's event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients after disconnect = %d, want 0", n)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	s := b.Subscribe(Filter{})
	defer b.Unsubscribe(s)

	for range bufferSize + 6 {
		b.Publish(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
	}
	if got := len(drain(t, s)); got != bufferSize {
		t.Errorf("buffered = %d, want %d", got, bufferSize)
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	s := b.Subscribe(Filter{})

	b.Close()

	select {
	case _, ok := <-s.C:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after close = %d, want 0", n)
	}

	// No-ops after close.
	b.Publish(Event{Type: TypeScanUpdated, Data: map[string]string{"path": "x.nii"}})
	b.PublishScanEvent("updated", "x.nii")
	b.Unsubscribe(s)
	if _, ok := <-b.Subscribe(Filter{}).C; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
