/*
NAME
  stack.go

DESCRIPTION
  stack.go provides Averager, which accumulates full-resolution NV12
  frames, averages every N frames into one image, snapshots motion-stat
  metadata, and hands both to an encoder goroutine for transport.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package stack provides Averager, the full-resolution frame-stacking
// sibling of the detect package's block-based meteor detector. Both share
// the same producer thread; Averager owns its own accumulate/encode
// handoff, independent of the detector's.
package stack

import (
	"fmt"
	"os"
	"sync"

	"github.com/ausocean/nightcam/config"
	"github.com/ausocean/nightcam/encode"
	"github.com/ausocean/nightcam/ffmt"
	"github.com/ausocean/nightcam/ivs"
	"github.com/ausocean/utils/logging"
)

// Pusher is the minimal surface Averager needs of an event/artifact
// pusher; push.Pusher satisfies it.
type Pusher interface {
	PostStack(path, basename string) error
	PostJSON(body string) error
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// pendingStack is the data handed from the producer to the encoder
// goroutine at the instant one stack's worth of frames has been averaged.
// yAvg/uvAvg reference one of Averager's two preallocated average buffers,
// not a copy; ownership of that buffer transfers to the encoder until it
// finishes processStack, by which point the producer has moved on to the
// other buffer and won't touch this one again until it cycles back.
type pendingStack struct {
	yAvg, uvAvg []byte
	tsMs        int64
	index       int
	motion      ivs.Snapshot
}

// Averager accumulates framesPerStack full-resolution NV12 frames into
// running uint32 sums, then averages, optionally dark-subtracts, and hands
// the result to a background encoder goroutine. Accumulators are owned
// solely by the producer; the averaged planes alternate ownership between
// producer and encoder the same way detect.Detector's blocks do.
type Averager struct {
	w, h int

	yAcc  []uint32
	uvAcc []uint32

	yDark, uvDark []byte // optional, read-only after construction.

	frameCount     int
	framesPerStack int

	// yAvgBuf/uvAvgBuf are two preallocated average-plane buffer pairs,
	// alternated between stacks so the producer can compute the next
	// average into one while the encoder still holds a reference to the
	// other, without allocating. avgSlot is the pair currently owned by
	// the producer.
	yAvgBuf, uvAvgBuf [2][]byte
	avgSlot           int

	mu             sync.Mutex
	cond           *sync.Cond
	encoderPending bool
	pending        pendingStack

	stackIndex int
	running    bool

	encoder     encode.Encoder
	pusher      Pusher
	counters    *ivs.Counters
	cfg         config.Config
	log         logging.Logger
	stagingDir  string
	jpegQuality int

	wg sync.WaitGroup
}

// New constructs an Averager and starts its encoder goroutine. The
// accumulators and average buffers are allocated here once; OnFrame never
// allocates, while the encoder allocates per stack for conversion,
// encoding and upload.
func New(cfg config.Config, counters *ivs.Counters, enc encode.Encoder, pusher Pusher) *Averager {
	w, h := cfg.StackWidth, cfg.StackHeight
	a := &Averager{
		w:              w,
		h:              h,
		yAcc:           make([]uint32, w*h),
		uvAcc:          make([]uint32, w*h/2),
		framesPerStack: cfg.FramesPerStack(),
		encoder:        enc,
		pusher:         pusher,
		counters:       counters,
		cfg:            cfg,
		log:            cfg.Logger,
		stagingDir:     cfg.StagingDir,
		jpegQuality:    cfg.JPEGQuality,
		running:        true,
	}
	a.yAvgBuf[0] = make([]byte, w*h)
	a.yAvgBuf[1] = make([]byte, w*h)
	a.uvAvgBuf[0] = make([]byte, w*h/2)
	a.uvAvgBuf[1] = make([]byte, w*h/2)
	a.cond = sync.NewCond(&a.mu)

	a.wg.Add(1)
	go a.encodeLoop()

	return a
}

// SetDark loads optional dark-frame planes, subtracted from every future
// average. yDark/uvDark must match the Averager's plane sizes.
func (a *Averager) SetDark(yDark, uvDark []byte) {
	a.yDark, a.uvDark = yDark, uvDark
}

// OnFrame folds one full-resolution NV12 frame into the running sums,
// honouring stride for both planes the same way capture.Downsample does
// for the detection path. It is producer-side and non-blocking: if a
// previous stack is still being encoded when this frame completes a new
// stack, the new stack is dropped rather than queued.
func (a *Averager) OnFrame(y, uv []byte, stride int, tsMs int64) {
	for r := 0; r < a.h; r++ {
		srcRow := y[r*stride : r*stride+a.w]
		dstRow := a.yAcc[r*a.w : r*a.w+a.w]
		for i, v := range srcRow {
			dstRow[i] += uint32(v)
		}
	}
	uvh := a.h / 2
	for r := 0; r < uvh; r++ {
		srcRow := uv[r*stride : r*stride+a.w]
		dstRow := a.uvAcc[r*a.w : r*a.w+a.w]
		for i, v := range srcRow {
			dstRow[i] += uint32(v)
		}
	}

	a.frameCount++
	if a.frameCount < a.framesPerStack {
		return
	}

	yAvg, uvAvg := a.yAvgBuf[a.avgSlot], a.uvAvgBuf[a.avgSlot]

	n := uint32(a.frameCount)
	for i, s := range a.yAcc {
		yAvg[i] = byte(s / n)
		a.yAcc[i] = 0
	}
	for i, s := range a.uvAcc {
		uvAvg[i] = byte(s / n)
		a.uvAcc[i] = 0
	}
	a.frameCount = 0

	if a.yDark != nil {
		for i := range yAvg {
			yAvg[i] = clamp8(int(yAvg[i]) - int(a.yDark[i]))
		}
	}
	if a.uvDark != nil {
		for i := range uvAvg {
			uvAvg[i] = clamp8(int(uvAvg[i]) - int(a.uvDark[i]) + 128)
		}
	}

	a.mu.Lock()
	if a.encoderPending {
		a.log.Warning("stack: encoder busy, dropping stack")
		a.mu.Unlock()
		return
	}
	a.stackIndex++
	a.pending = pendingStack{
		yAvg:   yAvg,
		uvAvg:  uvAvg,
		tsMs:   tsMs,
		index:  a.stackIndex,
		motion: a.counters.Snapshot(),
	}
	a.encoderPending = true
	a.avgSlot = 1 - a.avgSlot
	a.cond.Signal()
	a.mu.Unlock()
}

// Stop signals the encoder goroutine to exit once any in-flight stack has
// been handled, and waits for it to finish.
func (a *Averager) Stop() {
	a.mu.Lock()
	a.running = false
	a.cond.Broadcast()
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Averager) encodeLoop() {
	defer a.wg.Done()
	a.mu.Lock()
	for {
		for a.running && !a.encoderPending {
			a.cond.Wait()
		}
		if !a.running && !a.encoderPending {
			a.mu.Unlock()
			return
		}
		ps := a.pending
		a.mu.Unlock()

		a.processStack(ps)

		a.mu.Lock()
		// encoderPending stays true for the whole of processStack, not just
		// until ps is copied out: OnFrame's busy check gates both queuing a
		// new handoff and flipping avgSlot, so clearing it early would let
		// the producer cycle avgSlot back onto ps.yAvg/ps.uvAvg while
		// processStack is still reading them.
		a.encoderPending = false
	}
}

func (a *Averager) processStack(ps pendingStack) {
	src := encode.NewNV12Source(ps.yAvg, ps.uvAvg, a.w, a.h)

	var hdr ffmt.Header
	hdr.FromTimestamp(ps.tsMs)
	filename := fmt.Sprintf("STACK_%s_%04d%02d%02d_%02d%02d%02d_%03d.jpg",
		a.cfg.StationID, hdr.Year, hdr.Month, hdr.Day, hdr.Hour, hdr.Minute, hdr.Second, hdr.Millisecond)
	path := fmt.Sprintf("%s/%s", a.stagingDir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		a.log.Warning("stack: could not create staging file", "path", path, "error", err)
		return
	}
	encErr := a.encoder.Encode(f, src, a.jpegQuality)
	closeErr := f.Close()
	if encErr != nil {
		a.log.Warning("stack: JPEG encode failed", "filename", filename, "error", encErr)
		os.Remove(path)
		return
	}
	if closeErr != nil {
		a.log.Warning("stack: could not finalise staging file", "path", path, "error", closeErr)
		os.Remove(path)
		return
	}

	if err := a.pusher.PostStack(path, filename); err != nil {
		a.log.Warning("stack: push /stack failed", "error", err)
	} else {
		a.log.Info("stack: pushed", "filename", filename)
	}
	os.Remove(path)

	event := fmt.Sprintf(
		`{"camera_id":"%s","type":"stack","timestamp_ms":%d,"filename":"%s",`+
			`"ivs_polls":%d,"ivs_active_polls":%d,"ivs_total_rois":%d,"ivs_last_rois":%d}`,
		a.cfg.StationID, ps.tsMs, filename,
		ps.motion.Polls, ps.motion.ActivePolls, ps.motion.TotalROIs, ps.motion.LastROIs)
	if err := a.pusher.PostJSON(event); err != nil {
		a.log.Warning("stack: push /event failed", "error", err)
	}
}
