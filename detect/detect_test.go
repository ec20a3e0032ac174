/*
NAME
  detect_test.go

DESCRIPTION
  detect_test.go exercises Detector's handoff, candidate extraction and
  validation against the pipeline's end-to-end scenarios: a straight
  streak, an empty sky, a saturated (flood) block, and consumer
  backpressure.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package detect

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/nightcam/block"
	"github.com/ausocean/nightcam/config"
)

type dumbLogger struct{}

func (dumbLogger) Log(l int8, m string, a ...interface{})  {}
func (dumbLogger) SetLevel(l int8)                         {}
func (dumbLogger) Debug(msg string, args ...interface{})   {}
func (dumbLogger) Info(msg string, args ...interface{})    {}
func (dumbLogger) Warning(msg string, args ...interface{}) {}
func (dumbLogger) Error(msg string, args ...interface{})   {}
func (dumbLogger) Fatal(msg string, args ...interface{})   {}

type capturingLogger struct {
	mu       sync.Mutex
	warnings []string
	debugs   []string
}

func (c *capturingLogger) Log(l int8, m string, a ...interface{}) {}
func (c *capturingLogger) SetLevel(l int8)                        {}
func (c *capturingLogger) Info(msg string, args ...interface{})   {}
func (c *capturingLogger) Error(msg string, args ...interface{})  {}
func (c *capturingLogger) Fatal(msg string, args ...interface{})  {}
func (c *capturingLogger) Debug(msg string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debugs = append(c.debugs, msg)
}
func (c *capturingLogger) Warning(msg string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}
func (c *capturingLogger) warningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings)
}
func (c *capturingLogger) debugCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.debugs)
}

type fakePusher struct {
	mu        sync.Mutex
	jsonCount int
	ffCount   int
	lastJSON  string
	block     chan struct{}
}

func (p *fakePusher) PostJSON(body string) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jsonCount++
	p.lastJSON = body
	return nil
}

func (p *fakePusher) PostFF(path, basename string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ffCount++
	return nil
}

func (p *fakePusher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jsonCount, p.ffCount
}

func testConfig(t *testing.T, w, h int) config.Config {
	t.Helper()
	dir := t.TempDir()
	c := config.Default(dumbLogger{})
	c.StationID = "XX0001"
	c.DetectWidth = w
	c.DetectHeight = h
	c.StagingDir = dir
	return c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// pushBlackFrames pushes n all-zero frames of w x h into d.
func pushBlackFrames(d *Detector, w, h, n int, tsStart int64) {
	luma := make([]byte, w*h)
	for i := 0; i < n; i++ {
		d.PushFrame(luma, w, tsStart+int64(i))
	}
}

func TestDetectorStraightStreakEmitsOneDetection(t *testing.T) {
	const w, h = 640, 480
	cfg := testConfig(t, w, h)
	pusher := &fakePusher{}
	d := New(cfg, pusher)
	defer d.Stop()

	pushBlackFrames(d, w, h, 255, 0)

	// One bright diagonal streak from (100,100) to (129,129).
	luma := make([]byte, w*h)
	for i := 0; i < 30; i++ {
		x, y := 100+i, 100+i
		luma[y*w+x] = 255
	}
	d.PushFrame(luma, w, 255)

	waitUntil(t, func() bool { json, _ := pusher.counts(); return json >= 1 })

	jsonCount, ffCount := pusher.counts()
	if jsonCount != 1 {
		t.Errorf("PostJSON called %d times, want exactly 1", jsonCount)
	}
	if ffCount != 1 {
		t.Errorf("PostFF called %d times, want exactly 1", ffCount)
	}

	files, err := os.ReadDir(cfg.StagingDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("staging dir has %d files after upload, want 0 (unlinked)", len(files))
	}
}

func TestDetectorEmptySkyYieldsNoDetection(t *testing.T) {
	const w, h = 64, 48
	cfg := testConfig(t, w, h)
	pusher := &fakePusher{}
	d := New(cfg, pusher)
	defer d.Stop()

	// Uniform faint background, no injected streak.
	luma := make([]byte, w*h)
	for i := range luma {
		luma[i] = 16
	}
	for i := 0; i < block.FrameCap; i++ {
		d.PushFrame(luma, w, int64(i))
	}

	// Give the consumer time to process the block; since uniform input has
	// zero standard deviation the candidate count should be zero.
	time.Sleep(50 * time.Millisecond)

	jsonCount, ffCount := pusher.counts()
	if jsonCount != 0 || ffCount != 0 {
		t.Errorf("got (%d json, %d ff) posts, want (0, 0) for uniform background", jsonCount, ffCount)
	}
	files, _ := os.ReadDir(cfg.StagingDir)
	if len(files) != 0 {
		t.Errorf("staging dir has %d files, want 0", len(files))
	}
}

func TestDetectorFloodSkipsHoughAndLogsSaturation(t *testing.T) {
	const w, h = 32, 24
	cfg := testConfig(t, w, h)
	cfg.MaxCandidates = 100 // small, so a full-frame brightness surge saturates it.
	log := &capturingLogger{}
	cfg.Logger = log
	pusher := &fakePusher{}
	d := New(cfg, pusher)
	defer d.Stop()

	luma := make([]byte, w*h)
	for i := range luma {
		luma[i] = 16
	}
	for i := 0; i < block.FrameCap-1; i++ {
		d.PushFrame(luma, w, int64(i))
	}
	// Scene-wide brightness surge on the last frame.
	flood := make([]byte, w*h)
	for i := range flood {
		flood[i] = 255
	}
	d.PushFrame(flood, w, int64(block.FrameCap-1))

	waitUntil(t, func() bool { return log.debugCount() >= 1 })

	jsonCount, ffCount := pusher.counts()
	if jsonCount != 0 || ffCount != 0 {
		t.Errorf("flood block produced (%d json, %d ff) posts, want (0, 0)", jsonCount, ffCount)
	}
}

func TestDetectorDropsBlockWhenConsumerBusy(t *testing.T) {
	const w, h = 64, 48
	cfg := testConfig(t, w, h)
	log := &capturingLogger{}
	cfg.Logger = log
	blockCh := make(chan struct{})
	pusher := &fakePusher{block: blockCh}
	d := New(cfg, pusher)
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(blockCh) }) }
	defer func() {
		release()
		d.Stop()
	}()

	// Block 1: a detectable streak whose PostJSON call blocks on
	// pusher.block, holding the consumer busy for the rest of the test.
	pushBlackFrames(d, w, h, block.FrameCap-1, 0)
	streak := make([]byte, w*h)
	for i := 0; i < 30; i++ {
		x, y := 10+i, 10+i
		streak[y*w+x] = 255
	}
	d.PushFrame(streak, w, int64(block.FrameCap-1))

	// Give the consumer goroutine time to pick up block 1 and reach the
	// blocking PostJSON call.
	time.Sleep(30 * time.Millisecond)

	// Block 2: plain black, fills the other buffer while the consumer is
	// still stuck on block 1. The handoff slot is free (the consumer
	// already took block 1 out of it), so block 2 hands off successfully
	// and waits as "pending".
	pushBlackFrames(d, w, h, block.FrameCap, int64(block.FrameCap))

	// Block 3: the handoff slot is now occupied by block 2's pending
	// handoff, so this block must be dropped.
	pushBlackFrames(d, w, h, block.FrameCap, int64(2*block.FrameCap))

	waitUntil(t, func() bool { return d.BlocksDropped() >= 1 })
	if dropped := d.BlocksDropped(); dropped != 1 {
		t.Errorf("BlocksDropped() = %d, want exactly 1", dropped)
	}
	found := false
	for _, msg := range log.warnings {
		if msg == "detect: consumer busy, dropping block" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a 'consumer busy, dropping block' warning, got %v", log.warnings)
	}

	// Release block 1's PostJSON, letting the consumer finish it, then
	// drain block 2 (which has no candidates and completes quickly), then
	// prove block 4 is processed cleanly afterwards.
	release()
	waitUntil(t, func() bool { json, _ := pusher.counts(); return json >= 1 })

	pushBlackFrames(d, w, h, block.FrameCap, int64(3*block.FrameCap))
	time.Sleep(30 * time.Millisecond)
	if dropped := d.BlocksDropped(); dropped != 1 {
		t.Errorf("BlocksDropped() = %d after recovery, want still exactly 1 (block 4 processed cleanly)", dropped)
	}
}

func TestLineEndpointsRejectsLinesOutsideBounds(t *testing.T) {
	// theta=0 is a vertical line x=rho; rho=-5 places it entirely to the
	// left of a 10x10 image, so no border intersection falls in bounds.
	_, _, _, _, ok := lineEndpoints(-5, 0, 180, 10, 10)
	if ok {
		t.Error("expected a line entirely outside the image bounds to be rejected")
	}
}

func TestLineEndpointsDiagonalMatchesExpectedBorderPoints(t *testing.T) {
	// theta index 135 (of 180 steps covering [0,180) degrees) is the
	// normal angle of the y=x diagonal; rho=0 passes it through the
	// origin, so it should clip the two opposite corners (0,0)-(100,100).
	const w, h = 100, 100
	x1, y1, x2, y2, ok := lineEndpoints(0, 135, 180, w, h)
	if !ok {
		t.Fatal("expected a valid pair of endpoints")
	}
	if abs(x1-y1) > 1 || abs(x2-y2) > 1 {
		t.Errorf("endpoints (%d,%d)-(%d,%d) not on y=x", x1, y1, x2, y2)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
