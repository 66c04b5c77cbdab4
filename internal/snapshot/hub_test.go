package snapshot_test

import (
	"testing"

	"github.com/satyaki-up/trendboard/internal/snapshot"
)

func TestHubDeliversCurrentStateOnSubscribe(t *testing.T) {
	h := snapshot.NewHub()
	h.Publish(snapshot.Progress{RunID: "r1", Phase: snapshot.PhaseEpics, Current: 3, Total: 9})

	ch, cancel := h.Subscribe()
	defer cancel()
	first := <-ch
	if first.RunID != "r1" || first.Current != 3 {
		t.Fatalf("expected the current state first, got %+v", first)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := snapshot.NewHub()
	ch, cancel := h.Subscribe()

	for i := 0; i < 100; i++ {
		h.Publish(snapshot.Progress{Phase: snapshot.PhaseTasks, Current: i})
	}
	h.Publish(snapshot.Progress{Phase: snapshot.PhaseDone, Done: true})

	var last snapshot.Progress
	for len(ch) > 0 {
		last = <-ch
	}
	if !last.Done {
		t.Fatalf("the newest record must survive, got %+v", last)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
	h.Publish(snapshot.Progress{Phase: snapshot.PhaseIdle})
}
