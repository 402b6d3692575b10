package eventbus

import "testing"

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	updates, unsubUpd := b.Subscribe(4, WorkUpdated)
	defer unsubUpd()

	b.Publish(Event{Type: CycleStarted})
	b.Publish(Event{Type: WorkUpdated, Data: "x"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(updates); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-updates; e.Data != "x" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: CycleStarted})
	b.Publish(Event{Type: CycleFinished})
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: CycleStarted})
}
