package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsBurstThenDenies(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(Config{Capacity: 3, WindowSeconds: 60})
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		d, err := l.Check(context.Background(), "alice")
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if d.Remaining != 2-i {
			t.Fatalf("call %d remaining = %d", i, d.Remaining)
		}
	}

	d, err := l.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if d.Allowed {
		t.Fatal("bucket exhausted, call must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denial must carry a retry hint, got %v", d.RetryAfter)
	}
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(Config{Capacity: 2, WindowSeconds: 60})
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		l.Check(context.Background(), "bob")
	}
	if d, _ := l.Check(context.Background(), "bob"); d.Allowed {
		t.Fatal("should be empty")
	}

	// 2 tokens per 60s: one token back after 30s.
	now = now.Add(31 * time.Second)
	d, err := l.Check(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !d.Allowed {
		t.Fatal("refilled token should admit the call")
	}
}

func TestMemoryLimiter_CapacityBoundsRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(Config{Capacity: 2, WindowSeconds: 1})
	l.SetClock(func() time.Time { return now })

	l.Check(context.Background(), "carol")
	now = now.Add(time.Hour)

	// Long idle must not overfill: exactly capacity calls succeed.
	for i := 0; i < 2; i++ {
		if d, _ := l.Check(context.Background(), "carol"); !d.Allowed {
			t.Fatalf("call %d should be allowed after refill", i)
		}
	}
	if d, _ := l.Check(context.Background(), "carol"); d.Allowed {
		t.Fatal("refill must clamp at capacity")
	}
}

func TestMemoryLimiter_ZeroCapacityDeniesEverything(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 0, WindowSeconds: 60})
	d, err := l.Check(context.Background(), "dave")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if d.Allowed {
		t.Fatal("zero capacity must deny")
	}
	if d.RetryAfter != 0 {
		t.Fatalf("no retry hint possible at zero refill, got %v", d.RetryAfter)
	}
}

func TestMemoryLimiter_BucketsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 1, WindowSeconds: 60})
	if d, _ := l.Check(context.Background(), "a"); !d.Allowed {
		t.Fatal("fresh bucket a should admit")
	}
	if d, _ := l.Check(context.Background(), "b"); !d.Allowed {
		t.Fatal("draining a must not affect b")
	}
	if d, _ := l.Check(context.Background(), "a"); d.Allowed {
		t.Fatal("a is drained")
	}
}

// fakeEvaler records the script call and returns a canned reply.
type fakeEvaler struct {
	keys []string
	args []interface{}
	ret  interface{}
	err  error
}

func (f *fakeEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.keys = keys
	f.args = args
	return f.ret, f.err
}

func TestRedisLimiter_ParsesScriptReply(t *testing.T) {
	fe := &fakeEvaler{ret: []interface{}{int64(1), int64(7), int64(0), int64(12000)}}
	l := NewRedisLimiter(fe, Config{Capacity: 10, WindowSeconds: 60})
	now := time.Unix(2000, 0)
	l.SetClock(func() time.Time { return now })

	d, err := l.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !d.Allowed || d.Remaining != 7 || d.Limit != 10 {
		t.Fatalf("bad decision: %+v", d)
	}
	if !d.ResetAt.Equal(now.Add(12 * time.Second)) {
		t.Fatalf("bad reset: %v", d.ResetAt)
	}
	if len(fe.keys) != 1 || fe.keys[0] != "sentinel:ratelimit:alice" {
		t.Fatalf("bad keys: %v", fe.keys)
	}
	if len(fe.args) != 4 {
		t.Fatalf("expected 4 script args, got %d", len(fe.args))
	}
}

func TestRedisLimiter_DenialCarriesRetryAfter(t *testing.T) {
	fe := &fakeEvaler{ret: []interface{}{int64(0), int64(0), int64(1500), int64(60000)}}
	l := NewRedisLimiter(fe, Config{Capacity: 10, WindowSeconds: 60})

	d, err := l.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("bad retry-after: %v", d.RetryAfter)
	}
}

func TestRedisLimiter_EvalErrorSurfaces(t *testing.T) {
	fe := &fakeEvaler{err: errors.New("connection refused")}
	l := NewRedisLimiter(fe, Config{Capacity: 10, WindowSeconds: 60})
	if _, err := l.Check(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisLimiter_BadReplyShape(t *testing.T) {
	fe := &fakeEvaler{ret: "OK"}
	l := NewRedisLimiter(fe, Config{Capacity: 10, WindowSeconds: 60})
	if _, err := l.Check(context.Background(), "alice"); err == nil {
		t.Fatal("expected shape error")
	}
}
