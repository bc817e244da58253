package task

import "testing"

func TestRegistryGetCreatesOnce(t *testing.T) {
	r := NewRegistry(4)

	ch1 := r.Get("t1")
	ch2 := r.Get("t1")
	if ch1 != ch2 {
		t.Error("Get returned different channels for the same task")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(4)

	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup found a channel that was never created")
	}

	r.Get("t1")
	if _, ok := r.Lookup("t1"); !ok {
		t.Error("Lookup missed an existing channel")
	}
}

func TestRegistryDrop(t *testing.T) {
	r := NewRegistry(4)
	ch := r.Get("t1")

	r.Drop("t1")

	if _, ok := r.Lookup("t1"); ok {
		t.Error("channel still registered after Drop")
	}
	// Dropped channels are closed so attached readers unblock.
	if _, open := <-ch; open {
		t.Error("channel not closed after Drop")
	}

	// Dropping twice is a no-op.
	r.Drop("t1")
}

func TestPublishDeliversToChannel(t *testing.T) {
	r := NewRegistry(4)
	ch := r.Get("t1")

	r.Publish("t1", Event{Type: EventTypeProgress, Status: "processing", Progress: 40, Message: "Translating (1/2, 2/5)"})

	select {
	case evt := <-ch:
		if evt.Progress != 40 || evt.Message != "Translating (1/2, 2/5)" {
			t.Errorf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestPublishWithoutChannelIsNoop(t *testing.T) {
	r := NewRegistry(4)
	// No channel registered; must not panic or block.
	r.Publish("missing", Event{Type: EventTypeProgress})
}

func TestPublishDropsWhenFull(t *testing.T) {
	r := NewRegistry(2)
	ch := r.Get("t1")

	for i := 0; i < 5; i++ {
		r.Publish("t1", Event{Type: EventTypeProgress, Progress: i * 10})
	}

	// Only the first two fit; the rest were dropped, never blocked.
	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
	evt := <-ch
	if evt.Progress != 0 {
		t.Errorf("first event progress = %d, want 0", evt.Progress)
	}
}

func TestPublishConcurrentWithDrop(t *testing.T) {
	// An owner can delete a task while its run is still publishing. The send
	// must be serialized with the close inside Drop or it panics the process.
	for i := 0; i < 1000; i++ {
		r := NewRegistry(1)
		r.Get("t1")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 10; j++ {
				r.Publish("t1", Event{Type: EventTypeProgress, Progress: j})
			}
		}()
		r.Drop("t1")
		<-done

		if _, ok := r.Lookup("t1"); ok {
			t.Fatal("channel still registered after Drop")
		}
	}
}

func TestEventTerminal(t *testing.T) {
	cases := []struct {
		typ  EventType
		want bool
	}{
		{EventTypeProgress, false},
		{EventTypeComplete, true},
		{EventTypeError, true},
	}
	for _, c := range cases {
		if got := (Event{Type: c.typ}).Terminal(); got != c.want {
			t.Errorf("Terminal() for %q = %v, want %v", c.typ, got, c.want)
		}
	}
}
