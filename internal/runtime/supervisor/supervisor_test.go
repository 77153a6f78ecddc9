package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPanicBecomesError(t *testing.T) {
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("boom") })
	if err := s.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })
	s.Go("fail", func(context.Context) error { return errors.New("bad") })
	if err := s.Wait(waitCtx(t)); err == nil || err.Error() != "fail: bad" {
		t.Fatalf("Wait = %v", err)
	}
}

func TestCancellationIsNotAFailure(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if got := s.Running(); len(got) != 1 || got[0] != "loop" {
		t.Fatalf("Running = %v", got)
	}
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Running(); len(got) != 0 {
		t.Fatalf("Running after stop = %v", got)
	}
}

func TestGoRestart(t *testing.T) {
	cases := []struct {
		name    string
		succeed int32 // attempt that returns nil; 0 never
		limit   int
		runs    int32
		wantErr bool
	}{
		{"recovers", 3, 0, 3, false},
		{"gives up", 0, 2, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(context.Background())
			var runs atomic.Int32
			s.GoRestart("flaky", func(context.Context) error {
				if n := runs.Add(1); n == tc.succeed {
					return nil
				}
				return errors.New("transient")
			}, Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Limit: tc.limit})

			err := s.Wait(waitCtx(t))
			if (err != nil) != tc.wantErr {
				t.Fatalf("Wait = %v, wantErr %v", err, tc.wantErr)
			}
			if runs.Load() != tc.runs {
				t.Fatalf("runs = %d, want %d", runs.Load(), tc.runs)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}
