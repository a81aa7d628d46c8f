package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	err := s.Register(Job{Name: "bad", Spec: "not a cron spec", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	if err := s.RunNow("ghost"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestRunNowExecutesAndTracksStatus(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	done := make(chan struct{}, 1)
	err := s.Register(Job{Name: "tick", Spec: "0 3 * * *", Run: func(context.Context) error {
		done <- struct{}{}
		return nil
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunNow("tick"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	<-done
	waitFor(t, time.Second, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Runs == 1 && !st[0].Running
	})
	st := s.Status()[0]
	if st.Failures != 0 || st.LastError != "" {
		t.Fatalf("clean run must not record failure: %+v", st)
	}
	if st.LastStart == nil || st.LastFinish == nil {
		t.Fatalf("timestamps must be recorded: %+v", st)
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	err := s.Register(Job{Name: "slow", Spec: "0 3 * * *", MaxConcurrent: 1, Run: func(context.Context) error {
		started <- struct{}{}
		<-block
		return nil
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunNow("slow"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	<-started

	if err := s.RunNow("slow"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.Status()[0].Skips == 1 })
	close(block)
	waitFor(t, time.Second, func() bool { return s.Status()[0].Runs == 1 && !s.Status()[0].Running })
}

func TestJobPanicIsCaptured(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	err := s.Register(Job{Name: "boom", Spec: "0 3 * * *", Run: func(context.Context) error {
		panic("kaput")
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunNow("boom"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		st := s.Status()[0]
		return st.Failures == 1 && st.LastError != ""
	})
}

func TestJobErrorIsRecorded(t *testing.T) {
	s := New(time.UTC, time.Second, nil)
	err := s.Register(Job{Name: "fail", Spec: "0 3 * * *", Run: func(context.Context) error {
		return errors.New("db unreachable")
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunNow("fail"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		st := s.Status()[0]
		return st.Failures == 1 && st.LastError == "db unreachable"
	})
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(time.UTC, 50*time.Millisecond, nil)
	cancelled := make(chan struct{})
	err := s.Register(Job{Name: "ctx", Spec: "0 3 * * *", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RunNow("ctx"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	s.Stop()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("job context must be cancelled on stop")
	}
}
