package stream

import (
	"testing"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
)

func TestHub_TopicFiltering(t *testing.T) {
	hub := NewHub(4)
	all := hub.Subscribe()
	one := hub.Subscribe(domain.TaskTopic("a"))
	defer all.Close()
	defer one.Close()

	hub.Publish(domain.Event{Topic: domain.TaskTopic("a"), Type: domain.EventTaskState})
	hub.Publish(domain.Event{Topic: domain.TaskTopic("b"), Type: domain.EventTaskState})

	if n := len(all.C()); n != 2 {
		t.Errorf("wildcard subscriber expected 2 events, got %d", n)
	}
	if n := len(one.C()); n != 1 {
		t.Errorf("topic subscriber expected 1 event, got %d", n)
	}

	ev := <-one.C()
	if ev.At.IsZero() {
		t.Error("publish must stamp events")
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	done := make(chan struct{})
	received := 0
	go func() {
		defer close(done)
		for range fast.C() {
			received++
			if received == 5 {
				return
			}
		}
	}()

	start := time.Now()
	for i := 0; i < 5; i++ {
		hub.Publish(domain.Event{Topic: "x"})
		time.Sleep(5 * time.Millisecond)
	}
	if time.Since(start) > time.Second {
		t.Fatal("publish blocked on a slow subscriber")
	}

	<-done
	fast.Close()

	// El lento recibió sólo lo que cabía en el buffer y fue cerrado
	count := 0
	for range slow.C() {
		count++
	}
	if count != 2 {
		t.Errorf("slow subscriber expected 2 buffered events, got %d", count)
	}
	if hub.Dropped() != 1 {
		t.Errorf("expected 1 dropped subscriber, got %d", hub.Dropped())
	}
	if hub.Subscribers() != 0 {
		t.Errorf("expected no live subscribers, got %d", hub.Subscribers())
	}
}

func TestSubscription_CloseTwice(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe()
	sub.Close()
	sub.Close()
	hub.Publish(domain.Event{Topic: "x"})
}
