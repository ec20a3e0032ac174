/*
NAME
  synthetic.go

DESCRIPTION
  synthetic.go provides Synthetic, a programmatic Source used by tests
  and scenario harnesses to replicate fixed frame sequences without a
  backing device or file.

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
	"fmt"
	"sync"
)

// FrameFunc generates the NV12 luma and chroma planes for frame index i.
// It is called once per Frame call and must fill y and uv completely.
type FrameFunc func(i int64, y, uv []byte)

// Synthetic is a Source that calls a FrameFunc to generate each frame's
// content programmatically, at a fixed nominal frame interval. It never
// fails once started, and exhausts after a configured frame count (0
// meaning unbounded).
type Synthetic struct {
	mu sync.Mutex

	w, h      int
	fps       float64
	gen       FrameFunc
	maxFrames int64

	idx   int64
	y, uv []byte
}

// NewSynthetic returns a Synthetic source of w x h NV12 frames generated
// by gen, at the given nominal fps. maxFrames caps the number of frames
// produced before Frame starts returning an error; 0 means unbounded.
func NewSynthetic(w, h int, fps float64, maxFrames int64, gen FrameFunc) *Synthetic {
	return &Synthetic{
		w:         w,
		h:         h,
		fps:       fps,
		gen:       gen,
		maxFrames: maxFrames,
		y:         make([]byte, w*h),
		uv:        make([]byte, w*h/2),
	}
}

// Frame generates and returns the next synthetic frame.
func (s *Synthetic) Frame() (tsMs int64, w, h, stride int, y, uv []byte, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxFrames > 0 && s.idx >= s.maxFrames {
		return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: synthetic source exhausted after %d frames", s.maxFrames)
	}

	s.gen(s.idx, s.y, s.uv)
	tsMs = int64(float64(s.idx) * 1000 / s.fps)
	s.idx++

	return tsMs, s.w, s.h, s.w, s.y, s.uv, noop, nil
}
