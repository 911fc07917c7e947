// Package hub fans notification events out to the subscribers of each
// investigation. Every investigation gets its own stream with an atomically
// assigned sequence number and a bounded ring buffer, so late subscribers
// receive a consistent backlog and every subscriber observes one total order.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

// ErrSequenceGap is returned by Subscribe when the requested resume point has
// already been evicted from the ring buffer. The client cannot silently
// resume; it must be told its history is incomplete.
var ErrSequenceGap = errors.New("requested sequence no longer buffered")

// Config tunes the hub's per-investigation buffers
type Config struct {
	BufferSize      int           // ring buffer capacity per investigation
	SubscriberQueue int           // per-subscriber channel depth
	Retention       time.Duration // how long finished streams stay queryable
}

// Subscription is one subscriber's attachment to an investigation stream.
// Backlog holds the buffered events newer than the requested resume point;
// Events then carries live events in strictly increasing sequence order.
// The hub closes Events when the subscriber is dropped for falling behind or
// when the stream's retention expires.
type Subscription struct {
	InvestigationID string
	Backlog         []models.NotificationEvent
	Events          <-chan models.NotificationEvent

	id     uint64
	events chan models.NotificationEvent
}

// Hub is the process-wide event broadcaster
type Hub struct {
	cfg     Config
	mu      sync.RWMutex
	streams map[string]*stream
	stop    chan struct{}
	once    sync.Once
}

// stream carries the state of one investigation's event flow. All fields are
// guarded by the stream's own mutex; the hub lock covers only the stream map,
// so concurrent investigations never serialize on each other.
type stream struct {
	investigationID string
	createdAt       time.Time

	mu         sync.Mutex
	seq        uint64
	ring       []models.NotificationEvent // oldest first, len <= BufferSize
	subs       map[uint64]*Subscription
	nextSubID  uint64
	finishedAt time.Time // zero while the investigation is live
}

// NewHub creates a hub and starts its retention janitor
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = 64
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}

	h := &Hub{
		cfg:     cfg,
		streams: make(map[string]*stream),
		stop:    make(chan struct{}),
	}

	go h.runJanitor()

	return h
}

// Close stops the janitor and drops every stream and subscriber
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		s.closeAllSubscribers()
		delete(h.streams, id)
	}
}

// Publish assigns the event's sequence number and delivers it to the
// investigation's buffer and subscribers. Safe for concurrent callers across
// investigations; delivery never blocks the publisher. Returns the sequenced
// event.
func (h *Hub) Publish(event models.NotificationEvent) models.NotificationEvent {
	return h.getOrCreate(event.InvestigationID).publish(event, h.cfg.BufferSize)
}

// Broadcast delivers a copy of the event to every live investigation stream,
// sequenced independently per stream. Used for process-wide operational
// signals such as circuit breaker transitions.
func (h *Hub) Broadcast(event models.NotificationEvent) {
	h.mu.RLock()
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.RUnlock()

	for _, s := range streams {
		if s.finished() {
			continue
		}
		clone := event
		clone.InvestigationID = s.investigationID
		s.publish(clone, h.cfg.BufferSize)
	}
}

// Subscribe attaches a subscriber to an investigation's stream. afterSeq is
// the subscriber's last known sequence number; pass 0 for the full buffered
// backlog. Returns ErrSequenceGap when events after afterSeq have already
// been evicted, or when afterSeq lies beyond anything the stream has
// assigned, so the caller must be told it cannot resume seamlessly.
func (h *Hub) Subscribe(investigationID string, afterSeq uint64) (*Subscription, error) {
	return h.getOrCreate(investigationID).subscribe(afterSeq, h.cfg.SubscriberQueue)
}

// Unsubscribe detaches the subscription and closes its live channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.RLock()
	s, ok := h.streams[sub.InvestigationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, attached := s.subs[sub.id]; attached {
		delete(s.subs, sub.id)
		close(sub.events)
	}
}

// MarkFinished flags the investigation's stream for eviction once the
// retention window expires. Events already buffered stay queryable until then.
func (h *Hub) MarkFinished(investigationID string) {
	h.mu.RLock()
	s, ok := h.streams[investigationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.finishedAt.IsZero() {
		s.finishedAt = time.Now()
	}
	s.mu.Unlock()
}

// SubscriberCount returns the number of subscribers attached to an
// investigation's stream.
func (h *Hub) SubscriberCount(investigationID string) int {
	h.mu.RLock()
	s, ok := h.streams[investigationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (h *Hub) getOrCreate(investigationID string) *stream {
	h.mu.RLock()
	s, ok := h.streams[investigationID]
	h.mu.RUnlock()
	if ok {
		return s
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok = h.streams[investigationID]; ok {
		return s
	}

	s = &stream{
		investigationID: investigationID,
		createdAt:       time.Now(),
		subs:            make(map[uint64]*Subscription),
	}
	h.streams[investigationID] = s
	return s
}

// runJanitor evicts dead streams once their retention window expires
func (h *Hub) runJanitor() {
	interval := h.cfg.Retention / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.evictExpired()
		}
	}
}

func (h *Hub) evictExpired() {
	cutoff := time.Now().Add(-h.cfg.Retention)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		s.mu.Lock()
		expired := !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff)
		// A stream that never carried an event and has no subscribers left
		// was created by a subscription to an investigation that never ran.
		// Without this, every bogus ID presented to Subscribe would pin a
		// stream forever.
		idle := s.finishedAt.IsZero() && s.seq == 0 && len(s.subs) == 0 && s.createdAt.Before(cutoff)
		s.mu.Unlock()

		if expired || idle {
			s.closeAllSubscribers()
			delete(h.streams, id)
			logging.Debug().Str("investigation_id", id).Msg("evicted expired event stream")
		}
	}
}

func (s *stream) publish(event models.NotificationEvent, bufferSize int) models.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.SequenceNumber = s.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.ring = append(s.ring, event)
	if len(s.ring) > bufferSize {
		s.ring = s.ring[len(s.ring)-bufferSize:]
	}

	// Fan out without ever blocking the publisher: a subscriber whose queue
	// is full is dropped, not waited for.
	for id, sub := range s.subs {
		select {
		case sub.events <- event:
		default:
			delete(s.subs, id)
			close(sub.events)
			logging.Warn().
				Str("investigation_id", s.investigationID).
				Uint64("subscriber_id", id).
				Uint64("sequence_number", event.SequenceNumber).
				Msg("subscriber overrun, dropping slow subscriber")
		}
	}

	return event
}

func (s *stream) subscribe(afterSeq uint64, queueDepth int) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A resume point ahead of anything this stream has assigned is as broken
	// as one behind the buffer: honoring it would later deliver sequence
	// numbers below what the client claims to have seen.
	if afterSeq > s.seq {
		return nil, ErrSequenceGap
	}

	if afterSeq > 0 && len(s.ring) > 0 {
		oldestBuffered := s.ring[0].SequenceNumber
		if afterSeq+1 < oldestBuffered {
			return nil, ErrSequenceGap
		}
	}
	if afterSeq == 0 && s.seq > 0 && (len(s.ring) == 0 || s.ring[0].SequenceNumber > 1) {
		// Everything from the beginning was requested but the head of the
		// stream has been evicted already.
		return nil, ErrSequenceGap
	}

	var backlog []models.NotificationEvent
	for _, event := range s.ring {
		if event.SequenceNumber > afterSeq {
			backlog = append(backlog, event)
		}
	}

	s.nextSubID++
	events := make(chan models.NotificationEvent, queueDepth)
	sub := &Subscription{
		InvestigationID: s.investigationID,
		Backlog:         backlog,
		Events:          events,
		id:              s.nextSubID,
		events:          events,
	}
	s.subs[sub.id] = sub

	return sub, nil
}

func (s *stream) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finishedAt.IsZero()
}

func (s *stream) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.events)
	}
}
