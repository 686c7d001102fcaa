package domwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/mailglot/domwatch/internal/observer"
	"github.com/hazyhaar/mailglot/ui"
)

func TestDispatchRoutesByType(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []string
		done = make(chan struct{}, 2)
	)
	w := New(Config{QuietPeriod: 20 * time.Millisecond, StartupDelay: time.Hour}, func(context.Context) {})
	w.Handle(EventAction, func(_ context.Context, p []byte) {
		mu.Lock()
		got = append(got, "action:"+string(p))
		mu.Unlock()
		done <- struct{}{}
	})
	w.Handle(EventSpeech, func(_ context.Context, p []byte) {
		mu.Lock()
		got = append(got, "speech")
		mu.Unlock()
		done <- struct{}{}
	})

	w.dispatch(observer.Message{Type: EventAction, Payload: []byte(`{"type":"action"}`)})
	w.dispatch(observer.Message{Type: EventSpeech, Payload: []byte(`{"type":"speech"}`)})
	w.dispatch(observer.Message{Type: "unknown", Payload: []byte(`{"type":"unknown"}`)})
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler not called")
		}
	}
	w.wg.Wait()
	if len(got) != 2 {
		t.Errorf("got = %v", got)
	}
}

func TestMutationsFeedRescans(t *testing.T) {
	rescanned := make(chan struct{}, 4)
	w := New(Config{QuietPeriod: 20 * time.Millisecond, StartupDelay: time.Hour}, func(context.Context) {
		rescanned <- struct{}{}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.deb.Run(ctx)

	for i := 0; i < 5; i++ {
		w.dispatch(observer.Message{Type: EventMutation})
	}
	select {
	case <-rescanned:
	case <-time.After(time.Second):
		t.Fatal("no rescan after mutations")
	}
	select {
	case <-rescanned:
		t.Error("burst produced more than one rescan")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction([]byte(`{"type":"action","action":"compose-translate","key":"compose:c1","value":"de"}`))
	if err != nil {
		t.Fatal(err)
	}
	want := ui.Action{Name: ui.ActionComposeTranslate, Key: "compose:c1", Value: "de"}
	if a != want {
		t.Errorf("action = %+v", a)
	}
	if _, err := DecodeAction([]byte(`{"type":"action"}`)); err == nil {
		t.Error("missing action accepted")
	}
}
