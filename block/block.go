/*
NAME
  block.go

DESCRIPTION
  block.go provides TemporalBlock, a fixed-size per-pixel accumulator that
  folds a run of luminance frames into four summary planes (maxpixel,
  maxframe, avgpixel, stdpixel) using bounded integer arithmetic only.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package block provides TemporalBlock, the fixed-size per-pixel temporal
// accumulator at the base of the meteor detection pipeline.
package block

import "fmt"

// FrameCap is the number of frames folded into one block. A block's
// maxframe plane indexes into this range, so it must fit in a uint8.
const FrameCap = 256

// pixel is the per-pixel accumulator state. The 8-byte layout (u8/u8/u16/u32)
// keeps the hot loop free of overflow checks by construction: sum can never
// exceed 256*255 and sum_sq can never exceed 256*255^2, both of which fit
// their respective types with room to spare.
type pixel struct {
	maxpixel uint8
	maxframe uint8
	sum      uint16
	sumSq    uint32
}

// TemporalBlock accumulates up to FrameCap consecutive luminance frames of
// a fixed-size plane. At any moment it is owned exclusively by either the
// producer or the consumer of a detect.Detector; ownership flips only
// through that handoff, never concurrently.
type TemporalBlock struct {
	Width, Height int

	pixels []pixel

	// FrameCount is the number of frames folded so far, in [0, FrameCap].
	FrameCount int

	// BlockStartMs is the wall-clock timestamp of the first frame folded
	// into this block since the last Reset.
	BlockStartMs int64

	// BlockIndex is a monotonic counter wrapping modulo FrameCap, bumped on
	// every Reset.
	BlockIndex int
}

// New returns a TemporalBlock for a plane of the given dimensions. All
// backing storage is allocated once here; no further allocation occurs on
// Update, Reset or Finalize.
func New(width, height int) *TemporalBlock {
	return &TemporalBlock{
		Width:  width,
		Height: height,
		pixels: make([]pixel, width*height),
	}
}

// Reset zeroes all per-pixel state, resets FrameCount to zero, stamps
// BlockStartMs and bumps BlockIndex (mod FrameCap). It must be called
// before the first Update of a new block.
func (b *TemporalBlock) Reset(startMs int64) {
	for i := range b.pixels {
		b.pixels[i] = pixel{}
	}
	b.FrameCount = 0
	b.BlockStartMs = startMs
	b.BlockIndex = (b.BlockIndex + 1) % FrameCap
}

// Update folds one luminance frame into the block. luma is row-major with
// the given stride, which may exceed Width to allow padded input; only the
// first Width bytes of each row are read. frameIdx is the frame's index
// within the block, used to record maxframe.
//
// Update panics if FrameCount >= FrameCap — callers must not exceed
// FrameCap updates between Resets.
func (b *TemporalBlock) Update(luma []byte, stride int, frameIdx uint8) {
	if b.FrameCount >= FrameCap {
		panic(fmt.Sprintf("block: Update called with FrameCount already at cap %d", FrameCap))
	}
	for y := 0; y < b.Height; y++ {
		row := luma[y*stride : y*stride+b.Width]
		base := y * b.Width
		for x := 0; x < b.Width; x++ {
			v := row[x]
			p := &b.pixels[base+x]
			if v > p.maxpixel {
				p.maxpixel = v
				p.maxframe = frameIdx
			}
			p.sum += uint16(v)
			p.sumSq += uint32(v) * uint32(v)
		}
	}
	b.FrameCount++
}

// Finalize computes the four summary planes from the accumulated state.
// Each out slice must have length Width*Height; Finalize does not
// allocate.
func (b *TemporalBlock) Finalize(outMax, outMaxframe, outAvg, outStd []byte) {
	n := b.FrameCount
	if n == 0 {
		n = 1
	}
	un := uint32(n)
	for i, p := range b.pixels {
		avg := uint32(p.sum) / un
		if avg > 255 {
			avg = 255
		}

		eSq := uint32(p.sumSq) / un
		avgSq := avg * avg
		var variance uint32
		if eSq > avgSq {
			variance = eSq - avgSq
		}
		std := isqrt(variance)
		if std > 255 {
			std = 255
		}

		outMax[i] = p.maxpixel
		outMaxframe[i] = p.maxframe
		outAvg[i] = byte(avg)
		outStd[i] = byte(std)
	}
}

// isqrt computes the integer square root of v via Newton's method, which
// converges within about five iterations for uint32 inputs. No floating
// point is used.
func isqrt(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	x := v
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + v/x) / 2
	}
	return x
}
