package eventbus_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/eventbus"
	"github.com/alarmcore/alarmcore/internal/model"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	bus := eventbus.New(4, zap.NewNop())
	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()

	ev := model.AlarmEvent{Key: model.AlarmKey{Source: "a", AlarmType: "HIGH_LIMIT"}}
	bus.Publish(ev)

	select {
	case got := <-ch1:
		if got.Key != ev.Key {
			t.Fatalf("ch1 got %+v, want %+v", got, ev)
		}
	default:
		t.Fatalf("ch1 did not receive event")
	}
	select {
	case got := <-ch2:
		if got.Key != ev.Key {
			t.Fatalf("ch2 got %+v, want %+v", got, ev)
		}
	default:
		t.Fatalf("ch2 did not receive event")
	}
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	bus := eventbus.New(1, zap.NewNop())
	_, ch := bus.Subscribe()

	first := model.AlarmEvent{Key: model.AlarmKey{Source: "first"}}
	second := model.AlarmEvent{Key: model.AlarmKey{Source: "second"}}
	bus.Publish(first)
	bus.Publish(second)

	got := <-ch
	if got.Key.Source != "second" {
		t.Fatalf("subscriber received %+v, want the newer event after drop-oldest", got)
	}
	if bus.DroppedTotal() != 1 {
		t.Fatalf("DroppedTotal = %d, want 1", bus.DroppedTotal())
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := eventbus.New(1, zap.NewNop())
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after Unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after unsubscribe", bus.SubscriberCount())
	}
}
