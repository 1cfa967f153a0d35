package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mgebhardt/docintake/internal/common"
)

// immediateScheduler runs requeue timers right away so retry tests do not
// depend on wall-clock delays.
func immediateScheduler(_ time.Duration, f func()) func() {
	go f()
	return func() {}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConcurrencyCeiling(t *testing.T) {
	release := make(chan struct{})
	var current, peak atomic.Int32

	proc := ProcessorFunc[int, int](func(ctx context.Context, job *Job[int, int]) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return job.Payload * 2, nil
	})

	q := New(proc, nil, WithConcurrency[int, int](2))
	for i := 0; i < 5; i++ {
		q.Add(fmt.Sprintf("job-%d", i), i)
	}

	waitFor(t, func() bool { return q.Stats().Processing == 2 }, "never reached 2 in-flight jobs")
	if s := q.Stats(); s.Pending != 3 {
		t.Fatalf("Pending = %d, want 3 held back", s.Pending)
	}

	close(release)
	waitFor(t, func() bool { return q.Stats().Completed == 5 }, "jobs did not drain")

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", got)
	}
}

func TestDuplicateIDsEachHoldASlot(t *testing.T) {
	release := make(chan struct{})
	var current, peak atomic.Int32

	proc := ProcessorFunc[int, int](func(ctx context.Context, job *Job[int, int]) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return job.Payload, nil
	})

	q := New(proc, nil, WithConcurrency[int, int](2))
	q.Add("dup", 1)
	q.Add("dup", 2)
	q.Add("other", 3)

	waitFor(t, func() bool { return q.Stats().Processing == 2 }, "never reached 2 in-flight jobs")
	if s := q.Stats(); s.Pending != 1 {
		t.Fatalf("Pending = %d, want the third job held back behind the duplicates", s.Pending)
	}

	close(release)
	waitFor(t, func() bool { return q.Stats().Completed == 3 }, "jobs did not drain")

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2 with duplicate ids in flight", got)
	}
}

func TestRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	proc := ProcessorFunc[string, string](func(ctx context.Context, job *Job[string, string]) (string, error) {
		calls.Add(1)
		return "", errors.New("transient blip")
	})

	q := New(proc, nil,
		WithConcurrency[string, string](1),
		WithMaxRetries[string, string](3),
		WithScheduler[string, string](immediateScheduler),
	)
	q.Add("doomed", "payload")

	waitFor(t, func() bool { return q.Stats().Failed == 1 }, "job never failed")
	if got := calls.Load(); got != 3 {
		t.Fatalf("processor ran %d times, want exactly the retry budget of 3", got)
	}
	job, _ := q.Get("doomed")
	if job.Retries != 3 {
		t.Errorf("Retries = %d, want 3", job.Retries)
	}
	if job.Err == "" {
		t.Error("failed job carries no error")
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	proc := ProcessorFunc[string, string](func(ctx context.Context, job *Job[string, string]) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("transient blip")
		}
		return "ok", nil
	})

	q := New(proc, nil,
		WithMaxRetries[string, string](3),
		WithScheduler[string, string](immediateScheduler),
	)
	q.Add("flaky", "payload")

	waitFor(t, func() bool { return q.Stats().Completed == 1 }, "job never completed")
	job, _ := q.Get("flaky")
	if job.Result != "ok" {
		t.Errorf("Result = %q", job.Result)
	}
	if job.Retries != 1 {
		t.Errorf("Retries = %d, want 1", job.Retries)
	}
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	proc := ProcessorFunc[string, string](func(ctx context.Context, job *Job[string, string]) (string, error) {
		calls.Add(1)
		return "", common.Permanent(errors.New("document is gone"))
	})

	q := New(proc, nil,
		WithMaxRetries[string, string](3),
		WithScheduler[string, string](immediateScheduler),
	)
	q.Add("gone", "payload")

	waitFor(t, func() bool { return q.Stats().Failed == 1 }, "job never failed")
	if got := calls.Load(); got != 1 {
		t.Fatalf("processor ran %d times, want 1 for a permanent error", got)
	}
}

func TestOnCompleteFiresOnce(t *testing.T) {
	proc := ProcessorFunc[int, int](func(ctx context.Context, job *Job[int, int]) (int, error) {
		return job.Payload + 1, nil
	})
	q := New(proc, nil)

	var mu sync.Mutex
	var fired []Status
	done := make(chan struct{})
	q.OnComplete("one", func(job *Job[int, int]) {
		mu.Lock()
		fired = append(fired, job.Status)
		mu.Unlock()
		close(done)
	})
	q.Add("one", 41)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != StatusCompleted {
		t.Fatalf("fired = %v, want one completed callback", fired)
	}
}

func TestClearDropsTerminalOnly(t *testing.T) {
	release := make(chan struct{})
	proc := ProcessorFunc[int, int](func(ctx context.Context, job *Job[int, int]) (int, error) {
		if job.Payload == 0 {
			return 0, nil
		}
		<-release
		return job.Payload, nil
	})
	q := New(proc, nil, WithConcurrency[int, int](1))

	q.Add("done", 0)
	waitFor(t, func() bool { return q.Stats().Completed == 1 }, "first job never completed")
	q.Add("stuck", 7)
	waitFor(t, func() bool { return q.Stats().Processing == 1 }, "second job never started")

	if cleared := q.Clear(); cleared != 1 {
		t.Fatalf("Clear() = %d, want only the completed job", cleared)
	}
	if _, ok := q.Get("stuck"); !ok {
		t.Fatal("in-flight job dropped by Clear")
	}
	if _, ok := q.Get("done"); ok {
		t.Fatal("terminal job still tracked after Clear")
	}

	close(release)
	q.Shutdown(context.Background())
}

func TestStatsAndRecent(t *testing.T) {
	proc := ProcessorFunc[int, int](func(ctx context.Context, job *Job[int, int]) (int, error) {
		return job.Payload, nil
	})
	q := New(proc, nil)

	for i := 0; i < 3; i++ {
		q.Add(fmt.Sprintf("job-%d", i), i)
	}
	waitFor(t, func() bool { return q.Stats().Completed == 3 }, "jobs did not complete")

	recent := q.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(recent))
	}
	if recent[0].ID != "job-2" {
		t.Errorf("Recent not newest-first: %s", recent[0].ID)
	}
	if s := q.Stats(); s.Total != 3 {
		t.Errorf("Total = %d, want 3", s.Total)
	}
}
