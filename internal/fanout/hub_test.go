package fanout

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered")
		return Message{}
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	ch := make(chan Message, 4)
	hub.Subscribe(ExperimentChannel("exp-1"), "client-1", ch)

	hub.Publish(ExperimentChannel("exp-1"), "participantUpdate", map[string]int{"n": 1})

	msg := recv(t, ch)
	if msg.Type != "participantUpdate" {
		t.Fatalf("unexpected type %q", msg.Type)
	}
}

func TestSequenceIsMonotonic(t *testing.T) {
	hub := NewHub()
	ch := make(chan Message, 8)
	hub.Subscribe(GameChannel("g"), "client-1", ch)

	hub.Publish(GameChannel("g"), "gameStateUpdate", nil)
	hub.Publish(GameChannel("g"), "gameStateUpdate", nil)

	first := recv(t, ch)
	second := recv(t, ch)
	if second.Seq <= first.Seq {
		t.Fatalf("sequence not increasing: %d then %d", first.Seq, second.Seq)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch := make(chan Message, 4)
	hub.Subscribe(ExperimentChannel("exp-1"), "client-1", ch)
	hub.Unsubscribe(ExperimentChannel("exp-1"), "client-1")

	hub.Publish(ExperimentChannel("exp-1"), "participantUpdate", nil)

	select {
	case msg := <-ch:
		t.Fatalf("message delivered after unsubscribe: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoveSubscriberClearsAllChannels(t *testing.T) {
	hub := NewHub()
	ch := make(chan Message, 4)
	hub.Subscribe(ExperimentChannel("exp-1"), "client-1", ch)
	hub.Subscribe(GameChannel("exp-1"), "client-1", ch)

	hub.RemoveSubscriber("client-1")

	hub.Publish(ExperimentChannel("exp-1"), "participantUpdate", nil)
	hub.Publish(GameChannel("exp-1"), "gameStateUpdate", nil)

	select {
	case msg := <-ch:
		t.Fatalf("message delivered after removal: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnFullChannel(t *testing.T) {
	hub := NewHub()
	ch := make(chan Message, 1)
	hub.Subscribe(GameChannel("g"), "slow-client", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(GameChannel("g"), "gameStateUpdate", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber channel")
	}
}
