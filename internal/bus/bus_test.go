package bus

import "testing"

func TestPublishDeliversToSubscriberAndTap(t *testing.T) {
	b := New()
	sub := b.Subscribe(StagePassCompleted)
	tap := b.NewTap()

	b.Publish(Message{Type: StagePassCompleted, RequestID: "r1"})

	select {
	case msg := <-sub:
		if msg.RequestID != "r1" {
			t.Fatalf("unexpected subscriber payload: %+v", msg)
		}
	default:
		t.Fatal("expected subscriber to receive message")
	}

	select {
	case msg := <-tap:
		if msg.Type != StagePassCompleted {
			t.Fatalf("unexpected tap payload: %+v", msg)
		}
	default:
		t.Fatal("expected tap to receive message")
	}
}

func TestPublishIgnoresUnsubscribedTypes(t *testing.T) {
	b := New()
	sub := b.Subscribe(StagePatchApplied)
	b.Publish(Message{Type: StagePassCompleted, RequestID: "r1"})

	select {
	case msg := <-sub:
		t.Fatalf("expected no delivery for unrelated type, got %+v", msg)
	default:
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	sub := b.Subscribe(StagePassCompleted)
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Message{Type: StagePassCompleted})
	}
	if len(sub) != subscriberBufSize {
		t.Fatalf("expected channel to saturate at buffer size, got %d", len(sub))
	}
}
