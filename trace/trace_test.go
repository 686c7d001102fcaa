package trace

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hazyhaar/mailglot/dbopen"
	"github.com/hazyhaar/mailglot/kit"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func withMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	SetMetrics(NewMetrics(reg))
	t.Cleanup(func() { SetMetrics(nil) })
	return reg
}

func sampleCount(t *testing.T, reg *prometheus.Registry, name, op string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if !hasLabel(m, "op", op) {
				continue
			}
			if h := m.GetHistogram(); h != nil {
				return h.GetSampleCount()
			}
			if c := m.GetCounter(); c != nil {
				return uint64(c.GetValue())
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

func TestDriver_TracesStatements(t *testing.T) {
	logs := captureLogs(t)
	reg := withMetrics(t)
	db := dbopen.OpenMemory(t, dbopen.WithDriver(DriverName),
		dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))

	ctx := kit.WithRequestID(context.Background(), "req_abc")
	ctx = kit.WithNodeKey(ctx, "message:#msg-f:1")
	if _, err := db.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "target_lang", "fr"); err != nil {
		t.Fatal(err)
	}
	var v string
	if err := db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, "target_lang").Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != "fr" {
		t.Fatalf("got %q, want fr", v)
	}

	out := logs.String()
	for _, want := range []string{"INSERT INTO kv", "request_id=req_abc", "node_key=message:#msg-f:1", "op=query"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if n := sampleCount(t, reg, "mailglot_sql_statement_duration_seconds", "exec"); n == 0 {
		t.Error("no exec samples recorded")
	}
	if n := sampleCount(t, reg, "mailglot_sql_statement_duration_seconds", "query"); n == 0 {
		t.Error("no query samples recorded")
	}
}

func TestDriver_RecordsErrors(t *testing.T) {
	logs := captureLogs(t)
	reg := withMetrics(t)
	db := dbopen.OpenMemory(t, dbopen.WithDriver(DriverName),
		dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))

	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('a', '2')`); err == nil {
		t.Fatal("expected constraint error")
	}
	if !strings.Contains(logs.String(), "level=ERROR") {
		t.Fatalf("no error log:\n%s", logs.String())
	}
	if n := sampleCount(t, reg, "mailglot_sql_statement_errors_total", "exec"); n != 1 {
		t.Fatalf("errors = %d, want 1", n)
	}
}

func TestDriver_SkipsFastPragmas(t *testing.T) {
	logs := captureLogs(t)
	db := dbopen.OpenMemory(t, dbopen.WithDriver(DriverName))

	var version int64
	if err := db.QueryRow(`PRAGMA data_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(logs.String(), "PRAGMA data_version") {
		t.Fatalf("fast pragma logged:\n%s", logs.String())
	}
}

func TestCompact(t *testing.T) {
	got := compact("SELECT a,\n\t b\n  FROM t")
	if got != "SELECT a, b FROM t" {
		t.Fatalf("got %q", got)
	}
}
