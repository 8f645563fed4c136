package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	fail     bool
	received chan struct{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{received: make(chan struct{}, 16)}
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, payload)
	s.received <- struct{}{}
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestHubDeliversOnlyToMatchingDeploy(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	a := newRecordingSubscriber()
	b := newRecordingSubscriber()
	hub.Register("dep-a", a)
	hub.Register("dep-b", b)

	hub.Broadcast("dep-a", []byte("hello"))

	select {
	case <-a.received:
	case <-time.After(time.Second):
		t.Fatalf("expected subscriber of dep-a to receive payload")
	}
	if got := hub.Subscribers("dep-b"); got != 1 {
		t.Fatalf("expected dep-b to keep one subscriber, got %d", got)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.payloads) != 0 {
		t.Fatalf("expected dep-b subscriber to receive nothing, got %d payloads", len(b.payloads))
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	sub := newRecordingSubscriber()
	sub.fail = true
	hub.Register("dep", sub)
	hub.Broadcast("dep", []byte("x"))

	if got := hub.Subscribers("dep"); got != 0 {
		t.Fatalf("expected failing subscriber to be removed, got %d", got)
	}
	if !sub.isClosed() {
		t.Fatalf("expected failing subscriber to be closed")
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub(0)
	sub := newRecordingSubscriber()
	hub.Register("dep", sub)
	if got := hub.Subscribers("dep"); got != 1 {
		t.Fatalf("expected one subscriber, got %d", got)
	}
	hub.Close()

	deadline := time.Now().Add(time.Second)
	for !sub.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be closed after hub shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Broadcast("dep", []byte("ignored"))
}
