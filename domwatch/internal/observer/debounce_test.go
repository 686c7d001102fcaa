package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runDebouncer(t *testing.T, cfg DebounceConfig, rescan func(context.Context)) (*Debouncer, func()) {
	t.Helper()
	d := NewDebouncer(cfg, rescan)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()
	return d, func() {
		cancel()
		wg.Wait()
	}
}

func TestDebounce_BurstYieldsOneRescan(t *testing.T) {
	var calls atomic.Int32
	d, stop := runDebouncer(t, DebounceConfig{Quiet: 60 * time.Millisecond, Startup: time.Hour},
		func(context.Context) { calls.Add(1) })
	defer stop()

	for i := 0; i < 10; i++ {
		d.Notify()
		time.Sleep(10 * time.Millisecond)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("rescan ran during the burst: %d", n)
	}
	time.Sleep(250 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("rescans = %d, want 1", n)
	}
}

func TestDebounce_StartupRescanWithoutMutations(t *testing.T) {
	var calls atomic.Int32
	_, stop := runDebouncer(t, DebounceConfig{Quiet: time.Hour, Startup: 30 * time.Millisecond},
		func(context.Context) { calls.Add(1) })
	defer stop()

	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("rescans = %d, want exactly 1", n)
	}
}

func TestDebounce_StartupAndQuietAreIndependent(t *testing.T) {
	var calls atomic.Int32
	d, stop := runDebouncer(t, DebounceConfig{Quiet: 40 * time.Millisecond, Startup: 20 * time.Millisecond},
		func(context.Context) { calls.Add(1) })
	defer stop()

	d.Notify()
	time.Sleep(250 * time.Millisecond)
	if n := calls.Load(); n != 2 {
		t.Fatalf("rescans = %d, want 2 (startup + quiet)", n)
	}
	if d.Rescans() != 2 {
		t.Errorf("Rescans() = %d", d.Rescans())
	}
}

func TestDebounce_NoOverlap(t *testing.T) {
	var (
		active, maxActive, calls atomic.Int32
		release                  = make(chan struct{})
	)
	d, stop := runDebouncer(t, DebounceConfig{Quiet: 10 * time.Millisecond, Startup: time.Hour},
		func(context.Context) {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			if calls.Add(1) == 1 {
				<-release
			}
			active.Add(-1)
		})
	defer stop()

	d.Notify()
	time.Sleep(50 * time.Millisecond) // first rescan is now blocked
	for i := 0; i < 3; i++ {
		d.Notify()
		time.Sleep(30 * time.Millisecond)
	}
	close(release)
	time.Sleep(100 * time.Millisecond)

	if m := maxActive.Load(); m != 1 {
		t.Errorf("max concurrent rescans = %d", m)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("rescans = %d, want 2 (one coalesced follow-up)", n)
	}
}

func TestDebounce_Trigger(t *testing.T) {
	var calls atomic.Int32
	d, stop := runDebouncer(t, DebounceConfig{Quiet: time.Hour, Startup: time.Hour},
		func(context.Context) { calls.Add(1) })
	defer stop()

	d.Trigger()
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("rescans = %d, want 1", n)
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode(`{"type":"action","action":"toggle","key":"message:1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "action" || len(msg.Payload) == 0 {
		t.Errorf("msg = %+v", msg)
	}
	for _, bad := range []string{`nope`, `{}`, `{"type":""}`, `[]`} {
		if _, err := Decode(bad); err == nil {
			t.Errorf("Decode(%q) accepted", bad)
		}
	}
}
