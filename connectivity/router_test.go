package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/mailglot/dbopen"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func echoFactory(calls *int32, closed *int32) TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		h := func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte(endpoint), nil
		}
		var closeFn func()
		if closed != nil {
			closeFn = func() { atomic.AddInt32(closed, 1) }
		}
		return h, closeFn, nil
	}
}

func TestRegisterLocal_and_Call(t *testing.T) {
	r := New()
	r.RegisterLocal("translate", func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	resp, err := r.Call(context.Background(), "translate", []byte("bonjour"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp) != "bonjour" {
		t.Fatalf("got %q, want %q", resp, "bonjour")
	}
}

func TestCall_ServiceNotFound(t *testing.T) {
	r := New()
	_, err := r.Call(context.Background(), "summarize", nil)
	var snf *ErrServiceNotFound
	if !errors.As(err, &snf) {
		t.Fatalf("expected ErrServiceNotFound, got %T: %v", err, err)
	}
	if snf.Service != "summarize" {
		t.Fatalf("got service %q", snf.Service)
	}
}

func TestReload_NoopStrategy(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterLocal("detect", func(ctx context.Context, payload []byte) ([]byte, error) {
		t.Fatal("local handler must not run for a noop route")
		return nil, nil
	})
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy) VALUES ('detect', 'noop')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Call(context.Background(), "detect", []byte("x"))
	if err != nil || resp != nil {
		t.Fatalf("noop: got %q, %v", resp, err)
	}
}

func TestReload_RemoteOverridesLocal(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterTransport("http", echoFactory(nil, nil))
	r.RegisterLocal("translate", func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("local"), nil
	})
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('translate', 'http', 'http://proxy')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Call(context.Background(), "translate", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "http://proxy" {
		t.Fatalf("expected remote, got %q", resp)
	}

	if _, err := db.Exec(`DELETE FROM routes`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, _ = r.Call(context.Background(), "translate", nil)
	if string(resp) != "local" {
		t.Fatalf("expected local after route removal, got %q", resp)
	}
}

func TestReload_UnchangedRoutePreservesHandler(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	var builds int32
	r.RegisterTransport("http", echoFactory(&builds, nil))
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('svc', 'http', 'http://x')`); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Reload(context.Background(), db); err != nil {
			t.Fatal(err)
		}
	}
	if builds != 1 {
		t.Fatalf("factory called %d times, want 1", builds)
	}
}

func TestReload_ChangedRouteClosesOld(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	var builds, closed int32
	r.RegisterTransport("http", echoFactory(&builds, &closed))
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('svc', 'http', 'http://old')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE routes SET endpoint = 'http://new' WHERE service_name = 'svc'`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if builds != 2 || closed != 1 {
		t.Fatalf("builds=%d closed=%d, want 2 and 1", builds, closed)
	}
	resp, _ := r.Call(context.Background(), "svc", nil)
	if string(resp) != "http://new" {
		t.Fatalf("expected new endpoint, got %q", resp)
	}
}

func TestReload_NoFactorySkipsRoute(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('svc', 'http', 'http://x')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	_, err := r.Call(context.Background(), "svc", nil)
	var snf *ErrServiceNotFound
	if !errors.As(err, &snf) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestCall_DefaultTimeout(t *testing.T) {
	r := New(WithDefaultTimeout(30 * time.Millisecond))
	r.RegisterLocal("summarize", func(ctx context.Context, payload []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := r.Call(context.Background(), "summarize", nil)
	var te *ErrCallTimeout
	if !errors.As(err, &te) {
		t.Fatalf("expected ErrCallTimeout, got %T: %v", err, err)
	}
	if te.After != 30*time.Millisecond {
		t.Fatalf("After: got %s", te.After)
	}
}

func TestCall_RouteTimeoutOverride(t *testing.T) {
	db := setupTestDB(t)
	r := New(WithDefaultTimeout(10 * time.Millisecond))
	r.RegisterLocal("summarize", func(ctx context.Context, payload []byte) ([]byte, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return []byte("done"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, config) VALUES ('summarize', 'local', '{"timeout_ms": 2000}')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Call(context.Background(), "summarize", nil)
	if err != nil {
		t.Fatalf("route timeout should override default: %v", err)
	}
	if string(resp) != "done" {
		t.Fatalf("got %q", resp)
	}
}

func TestClose(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	var closed int32
	r.RegisterTransport("http", echoFactory(nil, &closed))
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy, endpoint) VALUES ('a', 'http', 'http://a'), ('b', 'http', 'http://b')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	r.Close()
	if closed != 2 {
		t.Fatalf("closed %d handlers, want 2", closed)
	}
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []string
	b := NewBreaker("translate", BreakerConfig{
		Threshold: 3,
		Cooldown:  100 * time.Millisecond,
		Probes:    1,
		Now:       func() time.Time { return now },
		OnChange:  func(from, to BreakerState) { transitions = append(transitions, from.String()+"->"+to.String()) },
	})
	fail := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("upstream 503")
	}
	ok := func(ctx context.Context, payload []byte) ([]byte, error) { return []byte("{}"), nil }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Middleware()(fail)(ctx, nil)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	_, err := b.Middleware()(ok)(ctx, nil)
	var co *ErrCircuitOpen
	if !errors.As(err, &co) || co.RetryIn != 100*time.Millisecond {
		t.Fatalf("expected ErrCircuitOpen with full cooldown, got %v", err)
	}

	now = now.Add(150 * time.Millisecond)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	if _, err := b.Middleware()(ok)(ctx, nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("detect", BreakerConfig{Threshold: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	fail := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	h := b.Middleware()(fail)
	h(context.Background(), nil)
	now = now.Add(2 * time.Second)
	h(context.Background(), nil)
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}
}

func TestBreaker_OneProbeAtATime(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("summarize", BreakerConfig{Threshold: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	b.Middleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("500")
	})(context.Background(), nil)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	slow := b.Middleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		close(started)
		<-release
		return nil, nil
	})
	done := make(chan error, 1)
	go func() {
		_, err := slow(context.Background(), nil)
		done <- err
	}()
	<-started

	_, err := b.Middleware()(func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil })(context.Background(), nil)
	var co *ErrCircuitOpen
	if !errors.As(err, &co) {
		t.Fatalf("second call during probe: got %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestBreaker_PermanentErrorsCountAsSuccess(t *testing.T) {
	b := NewBreaker("translate", BreakerConfig{Threshold: 1})
	h := b.Middleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, MarkPermanent(errors.New("400 bad key"))
	})
	h(context.Background(), nil)
	h(context.Background(), nil)
	if b.State() != BreakerClosed {
		t.Fatalf("permanent errors opened the breaker: %v", b.State())
	}
}

func TestRetry_TransientThenOK(t *testing.T) {
	var calls int32
	h := Retry(RetryPolicy{Attempts: 2, Backoff: time.Millisecond})(func(ctx context.Context, payload []byte) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return []byte("ok"), nil
	})
	resp, err := h(context.Background(), nil)
	if err != nil || string(resp) != "ok" || calls != 3 {
		t.Fatalf("got %q, %v after %d calls", resp, err, calls)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	var calls int32
	h := Retry(RetryPolicy{Attempts: 1, Backoff: time.Millisecond})(func(ctx context.Context, payload []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection reset")
	})
	if _, err := h(context.Background(), nil); err == nil || calls != 2 {
		t.Fatalf("err=%v calls=%d, want an error after 2 calls", err, calls)
	}
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	var calls int32
	h := Retry(RetryPolicy{Attempts: 3, Backoff: time.Millisecond})(func(ctx context.Context, payload []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, MarkPermanent(errors.New("API key not valid"))
	})
	_, err := h(context.Background(), nil)
	if err == nil || err.Error() != "API key not valid" || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_HonoursRetryAfter(t *testing.T) {
	var calls int32
	h := Retry(RetryPolicy{Attempts: 1, Backoff: time.Millisecond, MaxWait: 80 * time.Millisecond})(
		func(ctx context.Context, payload []byte) ([]byte, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, &StatusError{Endpoint: "http://proxy", Code: 429, After: time.Hour}
			}
			return []byte("ok"), nil
		})
	start := time.Now()
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 80*time.Millisecond || waited > 2*time.Second {
		t.Fatalf("waited %s, want the 80ms cap", waited)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{"3": 3 * time.Second, " 1 ": time.Second, "": 0, "-2": 0, "Wed, 21 Oct 2015 07:28:00 GMT": 0}
	for in, want := range cases {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, payload []byte) ([]byte, error) {
				order = append(order, name+"-before")
				resp, err := next(ctx, payload)
				order = append(order, name+"-after")
				return resp, err
			}
		}
	}
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	}
	Chain(mw("mw1"), mw("mw2"))(base)(context.Background(), nil)

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("got %v, want %v", order, expected)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("at index %d: got %q, want %q", i, order[i], v)
		}
	}
}

func TestRecovery(t *testing.T) {
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("boom")
	}
	_, err := Recovery(slog.Default())(base)(context.Background(), nil)
	var ep *ErrPanic
	if !errors.As(err, &ep) {
		t.Fatalf("expected ErrPanic, got %T: %v", err, err)
	}
}

func TestHTTPFactory_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	f := HTTPFactory()
	h, closeFn, err := f(srv.URL, json.RawMessage(`{"allow_private": true, "headers": {"X-Api-Key": "k"}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	resp, err := h(context.Background(), []byte(`{"q":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != `echo:{"q":"hi"}` {
		t.Fatalf("got %q", resp)
	}

	h2, _, err := f(srv.URL, json.RawMessage(`{"allow_private": true}`))
	if err != nil {
		t.Fatal(err)
	}
	_, err = h2(context.Background(), nil)
	var p *Permanent
	if !errors.As(err, &p) {
		t.Fatalf("4xx should be permanent, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden || se.Body != "forbidden" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestHTTPFactory_RejectsPrivateURL(t *testing.T) {
	f := HTTPFactory()
	if _, _, err := f("http://127.0.0.1:8080", nil); err == nil {
		t.Fatal("expected SSRF error for loopback URL")
	}
	if _, _, err := f("http://10.0.0.1:8080", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected SSRF error for private URL")
	}
	if _, _, err := f("file:///etc/passwd", json.RawMessage(`{"allow_private": true}`)); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestTable_Validates(t *testing.T) {
	tbl := NewTable(setupTestDB(t))
	ctx := context.Background()
	for _, rt := range []Route{
		{Service: "translate", Strategy: "quic"},
		{Service: "translate", Strategy: StrategyHTTP},
		{Service: "translate", Strategy: StrategyHTTP, Endpoint: "https://proxy.example/t", Config: json.RawMessage(`{"timeout_ms":`)},
	} {
		if err := tbl.Upsert(ctx, rt); !errors.Is(err, ErrInvalidRoute) {
			t.Errorf("Upsert(%+v) = %v, want ErrInvalidRoute", rt, err)
		}
	}
	if err := tbl.SetStrategy(ctx, "translate", StrategyHTTP); !errors.Is(err, ErrInvalidRoute) {
		t.Errorf("SetStrategy http = %v", err)
	}
	if err := tbl.SetStrategy(ctx, "translate", StrategyNoop); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("SetStrategy on missing row = %v", err)
	}
}

func TestTable_Lifecycle(t *testing.T) {
	tbl := NewTable(setupTestDB(t))
	ctx := context.Background()
	rt := Route{Service: "summarize", Strategy: StrategyHTTP, Endpoint: "https://proxy.example/s", Config: json.RawMessage(`{"timeout_ms":5000}`)}
	if err := tbl.Upsert(ctx, rt); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetStrategy(ctx, "summarize", StrategyNoop); err != nil {
		t.Fatal(err)
	}
	got, ok, err := tbl.Get(ctx, "summarize")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if got.Strategy != StrategyNoop || got.Endpoint != rt.Endpoint || string(got.Config) != `{"timeout_ms":5000}` {
		t.Fatalf("row = %+v", got)
	}
	if err := tbl.Delete(ctx, "summarize"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tbl.Get(ctx, "summarize"); ok {
		t.Fatal("row survived Delete")
	}
	if err := tbl.Delete(ctx, "summarize"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("second Delete = %v", err)
	}
}

func TestServices_Disabled(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	local := func(ctx context.Context, payload []byte) ([]byte, error) { return payload, nil }
	r.RegisterLocal("translate", local)
	r.RegisterLocal("detect", local)
	if _, err := db.Exec(`INSERT INTO routes (service_name, strategy) VALUES ('detect', 'noop'), ('summarize', 'local')`); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	got := r.Services()
	if len(got) != 3 {
		t.Fatalf("services = %+v", got)
	}
	want := map[string]bool{"detect": true, "summarize": true, "translate": false}
	for _, si := range got {
		if si.Disabled != want[si.Name] {
			t.Errorf("%s: disabled = %v", si.Name, si.Disabled)
		}
	}
	if got[0].Name != "detect" || got[2].Name != "translate" {
		t.Errorf("not sorted: %+v", got)
	}
	if _, ok := r.Inspect("nope"); ok {
		t.Error("Inspect found an unknown service")
	}
}

func TestWatch_DetectsChanges(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	var builds int32
	r.RegisterTransport("http", echoFactory(&builds, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Watch(ctx, db, 20*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if err := NewTable(db).Upsert(ctx, Route{Service: "translate", Strategy: StrategyHTTP, Endpoint: "http://proxy"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&builds) >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not rebuild the route after an upsert")
}
