/*
NAME
  stack_test.go

DESCRIPTION
  stack_test.go tests Averager's accumulate-then-average cadence,
  backpressure drop behaviour, and motion-snapshot handoff.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package stack

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/nightcam/config"
	"github.com/ausocean/nightcam/encode"
	"github.com/ausocean/nightcam/ivs"
)

type dumbLogger struct{}

func (dumbLogger) Log(l int8, m string, a ...interface{})  {}
func (dumbLogger) SetLevel(l int8)                         {}
func (dumbLogger) Debug(msg string, args ...interface{})   {}
func (dumbLogger) Info(msg string, args ...interface{})    {}
func (dumbLogger) Warning(msg string, args ...interface{}) {}
func (dumbLogger) Error(msg string, args ...interface{})   {}
func (dumbLogger) Fatal(msg string, args ...interface{})   {}

type fakeEncoder struct {
	mu       sync.Mutex
	calls    int
	blockCh  chan struct{}
	blocking bool
}

func (f *fakeEncoder) Encode(dst io.Writer, src encode.RowSource, quality int) error {
	if f.blocking {
		<-f.blockCh
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	_, err := dst.Write([]byte("jpeg"))
	return err
}

func (f *fakeEncoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePusher struct {
	mu         sync.Mutex
	stackCalls int
	jsonBodies []string
}

func (p *fakePusher) PostStack(path, basename string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stackCalls++
	return nil
}

func (p *fakePusher) PostJSON(body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jsonBodies = append(p.jsonBodies, body)
	return nil
}

func newTestConfig(t *testing.T, w, h, framesPerStack int) config.Config {
	t.Helper()
	dir := t.TempDir()
	c := config.Default(dumbLogger{})
	c.StationID = "XX0001"
	c.StackWidth = w
	c.StackHeight = h
	c.FPS = float64(framesPerStack)
	c.StackIntervalSecs = 1
	c.StagingDir = dir
	return c
}

func waitForCalls(t *testing.T, calls func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %d", want, calls())
}

func TestAveragerEncodesAfterFramesPerStack(t *testing.T) {
	const w, h, n = 4, 2, 3
	cfg := newTestConfig(t, w, h, n)
	counters := ivs.New()
	enc := &fakeEncoder{}
	pusher := &fakePusher{}

	a := New(cfg, counters, enc, pusher)
	defer a.Stop()

	y := make([]byte, w*h)
	uv := make([]byte, w*h/2)
	for i := 0; i < n; i++ {
		a.OnFrame(y, uv, w, int64(i))
	}

	waitForCalls(t, enc.Calls, 1)
	if enc.Calls() != 1 {
		t.Errorf("encoder called %d times, want exactly 1 for exactly one stack's worth of frames", enc.Calls())
	}

	waitForCalls(t, func() int { pusher.mu.Lock(); defer pusher.mu.Unlock(); return pusher.stackCalls }, 1)
	waitForCalls(t, func() int { pusher.mu.Lock(); defer pusher.mu.Unlock(); return len(pusher.jsonBodies) }, 1)

	pusher.mu.Lock()
	body := pusher.jsonBodies[0]
	pusher.mu.Unlock()
	if body == "" {
		t.Fatal("expected non-empty stack event JSON")
	}
}

func TestAveragerDropsWhenEncoderBusy(t *testing.T) {
	const w, h, n = 2, 2, 2
	cfg := newTestConfig(t, w, h, n)
	counters := ivs.New()
	enc := &fakeEncoder{blocking: true, blockCh: make(chan struct{})}
	pusher := &fakePusher{}

	a := New(cfg, counters, enc, pusher)
	defer func() {
		close(enc.blockCh)
		a.Stop()
	}()

	y := make([]byte, w*h)
	uv := make([]byte, w*h/2)

	// First stack: handed off, encoder blocks on it.
	a.OnFrame(y, uv, w, 0)
	a.OnFrame(y, uv, w, 1)

	// Give the encoder goroutine a chance to pick up the pending stack.
	time.Sleep(20 * time.Millisecond)

	// Second stack completes while the encoder is still blocked on the
	// first — it must be dropped, not queued.
	a.OnFrame(y, uv, w, 2)
	a.OnFrame(y, uv, w, 3)

	time.Sleep(20 * time.Millisecond)
	if calls := enc.Calls(); calls != 0 {
		t.Errorf("encoder completed %d calls before unblocking, want 0 (still blocked on first)", calls)
	}
}

func TestAveragerMotionSnapshotResetsBetweenStacks(t *testing.T) {
	const w, h, n = 2, 2, 1
	cfg := newTestConfig(t, w, h, n)
	counters := ivs.New()
	counters.Poll(true, 4)
	enc := &fakeEncoder{}
	pusher := &fakePusher{}

	a := New(cfg, counters, enc, pusher)
	defer a.Stop()

	y := make([]byte, w*h)
	uv := make([]byte, w*h/2)
	a.OnFrame(y, uv, w, 0)

	waitForCalls(t, enc.Calls, 1)

	snap := counters.Snapshot()
	if snap.Polls != 0 {
		t.Errorf("counters not reset after stack completion: %+v", snap)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
