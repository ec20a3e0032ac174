/*
NAME
  detect.go

DESCRIPTION
  detect.go provides Detector, the double-buffered meteor-streak
  orchestrator tying TemporalBlock, the Hough accumulator, candidate
  extraction, line validation and summary-file upload into one pipeline.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package detect provides Detector, the core meteor-streak orchestrator:
// it owns a double-buffered pair of block.TemporalBlock accumulators, a
// hough.Accumulator, and a consumer goroutine that finalises each
// completed block, extracts candidates, runs the Hough transform,
// validates peaks into line detections, and uploads a summary artifact
// plus event to a Pusher.
package detect

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/ausocean/nightcam/block"
	"github.com/ausocean/nightcam/config"
	"github.com/ausocean/nightcam/ffmt"
	"github.com/ausocean/nightcam/hough"
	"github.com/ausocean/utils/logging"
)

// Pusher is the minimal surface Detector needs of an event/artifact
// pusher; push.Pusher satisfies it.
type Pusher interface {
	PostJSON(body string) error
	PostFF(path, basename string) error
}

// Line is one validated line detection within a processed block.
type Line struct {
	Rho, Theta     int
	Votes          uint16
	X1, Y1, X2, Y2 int
	LengthPx       int
}

// pendingBlock is the handoff payload: a reference to one of the two
// owned blocks, plus the timestamp the producer stamped at completion.
type pendingBlock struct {
	idx  int
	tsMs int64
}

// Detector owns two TemporalBlocks (double-buffer), a Hough accumulator,
// staging planes and candidate buffers sized once at construction, and a
// consumer goroutine. PushFrame is the only producer-facing entry
// point; it never blocks.
type Detector struct {
	blocks [2]*block.TemporalBlock
	active int // index into blocks currently being filled by the producer.

	frameCountInActive int

	accum *hough.Accumulator

	maxPlane, maxframePlane, avgPlane, stdPlane []byte
	candX, candY                                []int
	peaks                                        []hough.Peak // scratch FindPeaks output, sized cfg.MaxCandidates.

	mu             sync.Mutex
	cond           *sync.Cond
	pendingPresent bool
	pending        pendingBlock
	running        bool

	blocksDropped int

	cfg    config.Config
	pusher Pusher
	log    logging.Logger

	wg sync.WaitGroup
}

// New constructs a Detector for detection-resolution planes sized
// cfg.DetectWidth x cfg.DetectHeight, and starts its consumer goroutine.
// The blocks, staging planes, candidate and peak buffers are allocated
// here once; PushFrame never allocates, while the consumer allocates only
// for endpoint reconstruction and for building and uploading a detection.
func New(cfg config.Config, pusher Pusher) *Detector {
	w, h := cfg.DetectWidth, cfg.DetectHeight
	d := &Detector{
		blocks: [2]*block.TemporalBlock{
			block.New(w, h),
			block.New(w, h),
		},
		accum:         hough.New(cfg.ThetaSteps, cfg.RhoMax),
		maxPlane:      make([]byte, w*h),
		maxframePlane: make([]byte, w*h),
		avgPlane:      make([]byte, w*h),
		stdPlane:      make([]byte, w*h),
		candX:         make([]int, cfg.MaxCandidates),
		candY:         make([]int, cfg.MaxCandidates),
		peaks:         make([]hough.Peak, cfg.MaxCandidates),
		cfg:           cfg,
		pusher:        pusher,
		log:           cfg.Logger,
		running:       true,
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(1)
	go d.consumeLoop()

	return d
}

// PushFrame folds one downsampled luminance frame into the active block.
// It is producer-side and non-blocking: a completed block is handed off
// if the single handoff slot is free, even while the consumer is still
// processing an earlier block; if the slot still holds a block the
// consumer has not yet taken, the new block is discarded and
// blocksDropped is incremented.
func (d *Detector) PushFrame(luma []byte, stride int, tsMs int64) {
	b := d.blocks[d.active]
	if d.frameCountInActive == 0 {
		b.Reset(tsMs)
	}
	b.Update(luma, stride, uint8(d.frameCountInActive))
	d.frameCountInActive++

	if d.frameCountInActive != block.FrameCap {
		return
	}

	d.mu.Lock()
	if !d.pendingPresent {
		d.pending = pendingBlock{idx: d.active, tsMs: b.BlockStartMs}
		d.pendingPresent = true
		d.active = 1 - d.active
		d.frameCountInActive = 0
		d.cond.Signal()
		d.mu.Unlock()
		return
	}
	d.blocksDropped++
	d.log.Warning("detect: consumer busy, dropping block", "blocks_dropped", d.blocksDropped)
	d.frameCountInActive = 0
	d.mu.Unlock()
}

// BlocksDropped returns the number of blocks discarded so far because the
// handoff slot still held a block the consumer had not yet taken.
func (d *Detector) BlocksDropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocksDropped
}

// Stop signals the consumer goroutine to exit once any in-flight block
// has been processed, and waits for it to finish.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.running = false
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Detector) consumeLoop() {
	defer d.wg.Done()
	d.mu.Lock()
	for {
		for d.running && !d.pendingPresent {
			d.cond.Wait()
		}
		if !d.running && !d.pendingPresent {
			d.mu.Unlock()
			return
		}
		pb := d.pending
		d.pendingPresent = false
		d.mu.Unlock()

		d.processBlock(pb)

		d.mu.Lock()
	}
}

// processBlock finalises the block at pb.idx, immediately resets it so the
// producer can reuse it for the next block, then extracts candidates, runs
// the Hough transform, and validates peaks into at most one detection.
// Resetting right after Finalize (rather than at the end, after the
// potentially slow candidate/Hough/emit work below, which can include a
// blocking Pusher call) keeps the window where the block is reserved from
// the producer as short as possible.
func (d *Detector) processBlock(pb pendingBlock) {
	b := d.blocks[pb.idx]
	b.Finalize(d.maxPlane, d.maxframePlane, d.avgPlane, d.stdPlane)
	b.Reset(0)

	nCand := d.collectCandidates()

	switch {
	case nCand < d.cfg.MinCandidates:
		// Too few candidates; nothing resembling a streak this block.
	case nCand >= d.cfg.MaxCandidates:
		d.log.Debug("detect: block saturated, skipping Hough", "candidates", nCand)
	default:
		d.accum.Reset()
		for i := 0; i < nCand; i++ {
			d.accum.Vote(d.candX[i], d.candY[i])
		}
		n := d.accum.FindPeaks(d.cfg.PeakThreshold, d.peaks)
		d.validateAndEmit(d.peaks[:n], pb.tsMs)
	}
}

// collectCandidates scans the finalised planes for pixels whose
// brightness deviated from the temporal mean by more than K standard
// deviations, filling candX/candY and returning the count found, capped
// at MaxCandidates.
func (d *Detector) collectCandidates() int {
	k := d.cfg.SigmaK
	n := 0
	maxCand := d.cfg.MaxCandidates
	w := d.cfg.DetectWidth
	for i, mx := range d.maxPlane {
		if n >= maxCand {
			return n
		}
		avg := int(d.avgPlane[i])
		std := int(d.stdPlane[i])
		if int(mx)-avg > k*std {
			d.candX[n] = i % w
			d.candY[n] = i / w
			n++
		}
	}
	return n
}

// validateAndEmit walks peaks in scan order, filtering by vote count and
// reconstructed line length, and emits at most one detection for the
// first peak that survives both filters.
func (d *Detector) validateAndEmit(peaks []hough.Peak, blockStartMs int64) {
	w, h := d.cfg.DetectWidth, d.cfg.DetectHeight
	for _, p := range peaks {
		if int(p.Votes) < d.cfg.MinVotes {
			continue
		}
		x1, y1, x2, y2, ok := lineEndpoints(p.Rho, p.Theta, d.cfg.ThetaSteps, w, h)
		if !ok {
			continue
		}
		dx, dy := x2-x1, y2-y1
		length := int(math.Round(math.Sqrt(float64(dx*dx + dy*dy))))
		if length < d.cfg.MinLengthPx {
			continue
		}

		line := Line{Rho: p.Rho, Theta: p.Theta, Votes: p.Votes, X1: x1, Y1: y1, X2: x2, Y2: y2, LengthPx: length}
		d.emitDetection(line, blockStartMs)
		return // at most one detection per block.
	}
}

// lineEndpoints intersects the line x*cos(theta) + y*sin(theta) = rho
// with the four image borders and returns the first pair of intersections
// within [0,w]x[0,h] that lie at least half a pixel apart. It returns
// ok=false if no such pair is found (a degenerate or near-axis-aligned
// line at this resolution).
func lineEndpoints(rho, thetaIdx, thetaSteps, w, h int) (x1, y1, x2, y2 int, ok bool) {
	theta := float64(thetaIdx) * math.Pi / float64(thetaSteps)
	cosT, sinT := math.Cos(theta), math.Sin(theta)
	r := float64(rho)

	type pt struct{ x, y float64 }
	var pts []pt

	inBounds := func(x, y float64) bool {
		const eps = 1e-6
		return x >= -eps && x <= float64(w)+eps && y >= -eps && y <= float64(h)+eps
	}

	// Left edge, x=0: y = (r - 0*cosT)/sinT.
	if math.Abs(sinT) > 1e-9 {
		y := r / sinT
		if inBounds(0, y) {
			pts = append(pts, pt{0, y})
		}
		// Right edge, x=w.
		y = (r - float64(w)*cosT) / sinT
		if inBounds(float64(w), y) {
			pts = append(pts, pt{float64(w), y})
		}
	}
	if math.Abs(cosT) > 1e-9 {
		// Top edge, y=0.
		x := r / cosT
		if inBounds(x, 0) {
			pts = append(pts, pt{x, 0})
		}
		// Bottom edge, y=h.
		x = (r - float64(h)*sinT) / cosT
		if inBounds(x, float64(h)) {
			pts = append(pts, pt{x, float64(h)})
		}
	}

	// Keep only distinct pairs; reject degenerate coincident points.
	const minSep = 0.5
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			dx, dy := pts[i].x-pts[j].x, pts[i].y-pts[j].y
			if dx*dx+dy*dy >= minSep*minSep {
				return int(math.Round(pts[i].x)), int(math.Round(pts[i].y)),
					int(math.Round(pts[j].x)), int(math.Round(pts[j].y)), true
			}
		}
	}
	return 0, 0, 0, 0, false
}

// emitDetection builds the summary header and filename, writes the
// staging file, posts the JSON event and file body, and unlinks the
// staging file whether or not the POSTs succeeded.
func (d *Detector) emitDetection(line Line, blockStartMs int64) {
	var hdr ffmt.Header
	hdr.Station = d.cfg.StationID
	hdr.Width, hdr.Height = d.cfg.DetectWidth, d.cfg.DetectHeight
	hdr.NFrames = uint32(block.FrameCap)
	hdr.FPS = d.cfg.FPS
	hdr.CameraID = d.cfg.CameraID
	hdr.FromTimestamp(blockStartMs)

	planes := ffmt.Planes{
		Max:      d.maxPlane,
		Maxframe: d.maxframePlane,
		Avg:      d.avgPlane,
		Std:      d.stdPlane,
	}

	path, err := ffmt.WriteFile(d.cfg.StagingDir, hdr, planes)
	if err != nil {
		d.log.Warning("detect: could not write summary file", "error", err)
		return
	}
	basename := hdr.Filename()

	thetaDeg := line.Theta * 360 / (2 * d.cfg.ThetaSteps)
	event := fmt.Sprintf(
		`{"camera_id":"%s","type":"meteor","timestamp_ms":%d,"block_start_ms":%d,`+
			`"candidate":{"rho":%d,"theta":%d,"x1":%d,"y1":%d,"x2":%d,"y2":%d,"length_px":%d,"votes":%d}}`,
		d.cfg.StationID, blockStartMs, blockStartMs,
		line.Rho, thetaDeg, line.X1, line.Y1, line.X2, line.Y2, line.LengthPx, line.Votes)

	if err := d.pusher.PostJSON(event); err != nil {
		d.log.Warning("detect: push /event failed", "error", err)
	}
	if err := d.pusher.PostFF(path, basename); err != nil {
		d.log.Warning("detect: push /ff failed", "error", err)
	}
	os.Remove(path)
}
