package events

import (
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeInvocationStarted, InvocationStarted{InvocationID: "i1", CommandID: "echo"})

	select {
	case ev := <-ch:
		if ev.ID != 1 || ev.Type != TypeInvocationStarted {
			t.Fatalf("unexpected event: %#v", ev)
		}
		var payload InvocationStarted
		if err := ev.Decode(&payload); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if payload.CommandID != "echo" {
			t.Fatalf("unexpected payload: %#v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 3 || all[0].ID != 3 || all[2].ID != 5 {
		t.Fatalf("unexpected snapshot: %#v", all)
	}

	since := h.SnapshotSince(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("unexpected snapshot since 4: %#v", since)
	}
	if string(since[0].Data) != "{}" {
		t.Fatalf("expected empty object payload, got %s", since[0].Data)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBacklog+10; i++ {
			h.Publish("tick", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	subs, dropped := h.Stats()
	if subs != 1 || dropped != 10 {
		t.Fatalf("Stats() = %d, %d; want 1, 10", subs, dropped)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if subs, _ := h.Stats(); subs != 0 {
		t.Fatalf("expected no subscribers, got %d", subs)
	}
}
