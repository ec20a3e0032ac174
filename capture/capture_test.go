/*
NAME
  capture_test.go

DESCRIPTION
  capture_test.go tests nearest-neighbour downsampling against padded
  strides and the producer loop's wiring to a Detector and Stacker.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package capture

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

type dumbLogger struct{}

func (dumbLogger) Log(l int8, m string, a ...interface{})  {}
func (dumbLogger) SetLevel(l int8)                         {}
func (dumbLogger) Debug(msg string, args ...interface{})   {}
func (dumbLogger) Info(msg string, args ...interface{})    {}
func (dumbLogger) Warning(msg string, args ...interface{}) {}
func (dumbLogger) Error(msg string, args ...interface{})   {}
func (dumbLogger) Fatal(msg string, args ...interface{})   {}

func TestDownsampleExactDivisor(t *testing.T) {
	// 4x4 source, decimate by 2 in each dimension -> 2x2, picking the
	// top-left pixel of each 2x2 block.
	src := []byte{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}
	dst := make([]byte, 4)
	Downsample(src, 4, 4, 4, dst, 2, 2)
	want := []byte{1, 3, 9, 11}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestDownsampleHonoursStride(t *testing.T) {
	// 2x2 logical image padded to stride 4; Downsample must read only the
	// first 2 bytes of each stride-4 row.
	src := []byte{
		1, 2, 0xAA, 0xAA,
		3, 4, 0xAA, 0xAA,
	}
	dst := make([]byte, 4)
	Downsample(src, 2, 2, 4, dst, 2, 2)
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d (padding bytes leaked in)", i, dst[i], want[i])
		}
	}
}

func TestDownsampleNoAllocationSizeMismatchPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic on undersized dst")
		}
	}()
	src := make([]byte, 16)
	dst := make([]byte, 1) // too small for a 2x2 destination.
	Downsample(src, 4, 4, 4, dst, 2, 2)
}

type countingDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDetector) PushFrame(luma []byte, stride int, tsMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
}

func (d *countingDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type countingStacker struct {
	mu    sync.Mutex
	calls int
}

func (s *countingStacker) OnFrame(y, uv []byte, stride int, tsMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *countingStacker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRunPushesEveryFrameToDetectorAndStacker(t *testing.T) {
	const w, h, detW, detH = 8, 8, 4, 4
	const frames = 5
	src := NewSynthetic(w, h, 25, frames, func(i int64, y, uv []byte) {
		for j := range y {
			y[j] = byte(i)
		}
	})

	det := &countingDetector{}
	stk := &countingStacker{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, src, det, stk, detW, detH, dumbLogger{})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if det.count() >= frames && stk.count() >= frames {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if det.count() < frames {
		t.Errorf("Detector got %d PushFrame calls, want at least %d", det.count(), frames)
	}
	if stk.count() < frames {
		t.Errorf("Stacker got %d OnFrame calls, want at least %d", stk.count(), frames)
	}
}

func TestFileSourceReadsAndLoops(t *testing.T) {
	const w, h = 2, 2
	frameSize := w*h + w*h/2
	dir := t.TempDir()
	path := dir + "/frames.raw"

	frame0 := make([]byte, frameSize)
	for i := range frame0 {
		frame0[i] = byte(i + 1)
	}
	frame1 := make([]byte, frameSize)
	for i := range frame1 {
		frame1[i] = byte(i + 100)
	}
	data := append(append([]byte{}, frame0...), frame1...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewFileSource(dumbLogger{}, path, w, h, 25, true)
	if err := src.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	_, _, _, stride, y, uv, _, err := src.Frame()
	if err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	if stride != w {
		t.Errorf("stride = %d, want %d", stride, w)
	}
	if y[0] != 1 || uv[0] != frame0[w*h] {
		t.Errorf("frame 0 planes not as written")
	}

	_, _, _, _, y, _, _, err = src.Frame()
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if y[0] != 100 {
		t.Errorf("frame 1 y[0] = %d, want 100", y[0])
	}

	// A third read should loop back to frame 0's content.
	_, _, _, _, y, _, _, err = src.Frame()
	if err != nil {
		t.Fatalf("frame 2 (looped): %v", err)
	}
	if y[0] != 1 {
		t.Errorf("looped frame y[0] = %d, want 1", y[0])
	}
}

func TestFileSourceNonLoopingReturnsErrorAtEOF(t *testing.T) {
	const w, h = 2, 2
	frameSize := w*h + w*h/2
	dir := t.TempDir()
	path := dir + "/frames.raw"
	if err := os.WriteFile(path, make([]byte, frameSize), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewFileSource(dumbLogger{}, path, w, h, 25, false)
	if err := src.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if _, _, _, _, _, _, _, err := src.Frame(); err != nil {
		t.Fatalf("frame 0: unexpected error %v", err)
	}
	if _, _, _, _, _, _, _, err := src.Frame(); err == nil {
		t.Error("expected an error at end of non-looping file")
	}
}

func TestSyntheticExhaustsAfterMaxFrames(t *testing.T) {
	src := NewSynthetic(2, 2, 25, 2, func(i int64, y, uv []byte) {})
	if _, _, _, _, _, _, _, err := src.Frame(); err != nil {
		t.Fatalf("frame 0: unexpected error %v", err)
	}
	if _, _, _, _, _, _, _, err := src.Frame(); err != nil {
		t.Fatalf("frame 1: unexpected error %v", err)
	}
	if _, _, _, _, _, _, _, err := src.Frame(); err == nil {
		t.Error("frame 2: expected exhaustion error, got nil")
	}
}
