package realtime

import (
	"fmt"
	"testing"
	"time"
)

func mustSubscribe(t *testing.T, hub *Hub, channel, clientID string) *Subscription {
	t.Helper()
	subscription, err := hub.Subscribe(channel, clientID)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	return subscription
}

func receiveEvent(t *testing.T, subscription *Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-subscription.Events():
		if !ok {
			t.Fatalf("event stream closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestPublishExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	sender := mustSubscribe(t, hub, "cards:session-1", "client-a")
	receiver := mustSubscribe(t, hub, "cards:session-1", "client-b")

	if err := sender.Send([]byte("frame-1")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	event := receiveEvent(t, receiver)
	if event.Kind != EventBroadcast || string(event.Frame) != "frame-1" {
		t.Fatalf("unexpected event: %+v", event)
	}

	select {
	case event := <-sender.Events():
		t.Fatalf("sender received its own frame: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	hub := NewHub(nil)
	sender := mustSubscribe(t, hub, "cards:session-1", "client-a")
	stranger := mustSubscribe(t, hub, "cards:session-2", "client-b")

	if err := sender.Send([]byte("frame-1")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case event := <-stranger.Events():
		t.Fatalf("frame leaked across channels: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliveryIsFIFOPerSubscriber(t *testing.T) {
	hub := NewHub(nil)
	sender := mustSubscribe(t, hub, "cards:session-1", "client-a")
	receiver := mustSubscribe(t, hub, "cards:session-1", "client-b")

	for i := 0; i < 10; i++ {
		if err := sender.Send([]byte(fmt.Sprintf("frame-%d", i))); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		event := receiveEvent(t, receiver)
		if want := fmt.Sprintf("frame-%d", i); string(event.Frame) != want {
			t.Fatalf("out of order delivery: got %q want %q", event.Frame, want)
		}
	}
}

func TestTrackNotifiesOthersOnce(t *testing.T) {
	hub := NewHub(nil)
	first := mustSubscribe(t, hub, "cards:session-1", "client-a")
	second := mustSubscribe(t, hub, "cards:session-1", "client-b")

	if err := second.Track(PresenceMeta{ActorID: "actor-b"}); err != nil {
		t.Fatalf("unexpected track error: %v", err)
	}
	event := receiveEvent(t, first)
	if event.Kind != EventPresenceJoin || event.ActorID != "actor-b" {
		t.Fatalf("expected join event for actor-b, got %+v", event)
	}

	if err := second.Track(PresenceMeta{ActorID: "actor-b"}); err != nil {
		t.Fatalf("unexpected re-track error: %v", err)
	}
	select {
	case event := <-first.Events():
		t.Fatalf("expected no second join event, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseEmitsLeaveForTrackedClients(t *testing.T) {
	hub := NewHub(nil)
	observer := mustSubscribe(t, hub, "cards:session-1", "client-a")
	leaver := mustSubscribe(t, hub, "cards:session-1", "client-b")

	if err := leaver.Track(PresenceMeta{ActorID: "actor-b"}); err != nil {
		t.Fatalf("unexpected track error: %v", err)
	}
	receiveEvent(t, observer) // join

	if err := leaver.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	event := receiveEvent(t, observer)
	if event.Kind != EventPresenceLeave || event.ActorID != "actor-b" {
		t.Fatalf("expected leave event, got %+v", event)
	}
}

func TestPresenceListsTrackedSubscribersOnly(t *testing.T) {
	hub := NewHub(nil)
	tracked := mustSubscribe(t, hub, "cards:session-1", "client-a")
	mustSubscribe(t, hub, "cards:session-1", "client-b")

	if err := tracked.Track(PresenceMeta{ActorID: "actor-a"}); err != nil {
		t.Fatalf("unexpected track error: %v", err)
	}

	roster := tracked.Presence()
	if len(roster) != 1 || roster[0].ActorID != "actor-a" {
		t.Fatalf("expected only tracked clients in presence, got %+v", roster)
	}
}

func TestDuplicateClientIDRejected(t *testing.T) {
	hub := NewHub(nil)
	mustSubscribe(t, hub, "cards:session-1", "client-a")

	if _, err := hub.Subscribe("cards:session-1", "client-a"); err == nil {
		t.Fatalf("expected duplicate subscription rejection")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	hub := NewHub(nil)
	subscription := mustSubscribe(t, hub, "cards:session-1", "client-a")

	if err := subscription.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := subscription.Send([]byte("frame")); err == nil {
		t.Fatalf("expected send on closed subscription to fail")
	}
	if err := subscription.Close(); err != nil {
		t.Fatalf("expected idempotent close, got %v", err)
	}
}
