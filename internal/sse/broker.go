// Package sse streams catalog changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/mrtrack/internal/scanid"
)

// Event types.
const (
	TypeScanCreated    = "scan.created"
	TypeScanUpdated    = "scan.updated"
	TypeScanDeleted    = "scan.deleted"
	TypeScanRejected   = "scan.rejected"
	TypeCatalogUpdated = "catalog.updated"
)

const (
	historySize = 128
	bufferSize  = 64
	keepAlive   = 25 * time.Second
)

// Event is one message fanned out to subscribers. Study, when set, limits
// delivery to subscribers watching that study or all studies.
type Event struct {
	Type  string `json:"type"`
	Study string `json:"-"`
	Data  any    `json:"data"`
}

// Filter narrows a subscription. Study matches the study code carried by
// the scan's own file name, so Site-Issued files match their site study code.
type Filter struct {
	Study string
	// LastEventID replays retained events newer than this id.
	LastEventID uint64
}

func (f Filter) matches(m message) bool {
	return f.Study == "" || m.study == "" || strings.EqualFold(f.Study, m.study)
}

// Subscriber receives encoded SSE frames on C until Unsubscribe or Close.
type Subscriber struct {
	C      <-chan []byte
	ch     chan []byte
	filter Filter
}

type message struct {
	id    uint64
	study string
	raw   []byte
}

type scanChange struct {
	kind string
	path string
}

// Broker owns the subscriber set. A single goroutine holds all mutable
// state (subscribers, event sequence, replay history, catalog throttle);
// public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration

	join    chan *Subscriber
	leave   chan *Subscriber
	events  chan Event
	changes chan scanChange
	count   chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits catalog.updated at most once per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		catalogMin: throttle,
		join:       make(chan *Subscriber),
		leave:      make(chan *Subscriber),
		events:     make(chan Event, 256),
		changes:    make(chan scanChange, 256),
		count:      make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go b.run()
	return b
}

func deliver(s *Subscriber, m message) {
	if !s.filter.matches(m) {
		return
	}
	select {
	case s.ch <- m.raw:
	default:
		// Slow client; drop rather than stall every subscriber.
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[*Subscriber]struct{})
	history := make([]message, 0, historySize)
	var (
		seq         uint64
		lastCatalog time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		m := message{
			id:    seq,
			study: event.Study,
			raw:   fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload),
		}
		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, m)
		for s := range subs {
			deliver(s, m)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.join:
			subs[s] = struct{}{}
			if s.filter.LastEventID > 0 {
				for _, m := range history {
					if m.id > s.filter.LastEventID {
						deliver(s, m)
					}
				}
			}

		case s := <-b.leave:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case event := <-b.events:
			broadcast(event)

		case c := <-b.changes:
			typ, ok := scanEventType(c.kind)
			if !ok {
				continue
			}
			broadcast(scanEvent(typ, c.path))

			if now := time.Now(); now.Sub(lastCatalog) >= b.catalogMin {
				lastCatalog = now
				broadcast(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
			}

		case resp := <-b.count:
			resp <- len(subs)
		}
	}
}

func scanEventType(kind string) (string, bool) {
	switch kind {
	case "created":
		return TypeScanCreated, true
	case "updated":
		return TypeScanUpdated, true
	case "deleted":
		return TypeScanDeleted, true
	case "rejected":
		return TypeScanRejected, true
	}
	return "", false
}

// scanEvent carries the path plus, when the file name parses, its label and
// study so clients can route without a catalog lookup.
func scanEvent(typ, path string) Event {
	data := map[string]string{"path": path}
	ev := Event{Type: typ, Data: data}
	id, err := scanid.ParseFilename(path)
	if err != nil {
		return ev
	}
	if label, err := id.Label(); err == nil {
		data["label"] = label
	}
	data["convention"] = id.Convention().String()
	if study, ok := id.Study(); ok {
		data["study"] = study
		ev.Study = study
	}
	return ev
}

// Close stops the broker loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Its channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe(f Filter) *Subscriber {
	ch := make(chan []byte, bufferSize)
	s := &Subscriber{C: ch, ch: ch, filter: f}
	if b.closed.Load() {
		close(ch)
		return s
	}
	select {
	case b.join <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(s *Subscriber) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all matching clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.stopped:
	}
}

// PublishScanEvent publishes a catalog change of the given kind (created,
// updated, deleted, rejected) followed by a throttled catalog.updated.
// Its signature matches catalog.EventCallback.
func (b *Broker) PublishScanEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changes <- scanChange{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Clients may pass
// ?study= to filter and resume with the Last-Event-ID header.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	f := Filter{Study: r.URL.Query().Get("study")}
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		f.LastEventID, _ = strconv.ParseUint(v, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(f)
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
