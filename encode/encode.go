/*
NAME
  encode.go

DESCRIPTION
  encode.go provides the Encoder interface the stack averager hands
  averaged image data to, plus the fixed-point NV12 (Y + interleaved UV)
  to interleaved-RGB scanline conversion the spec requires.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package encode provides the image-encoder boundary the stack averager
// consumes: an interleaved-RGB scanline source and an Encoder that writes
// a complete encoded image from it. Everything in this package is, per the
// pipeline's scope, an adapter over an external encoder concern (spec
// places "image-format encoders" outside the detection core), not part of
// the detection algorithm itself.
package encode

import "io"

// RowSource yields one interleaved-RGB scanline at a time, width*3 bytes
// per call, until height rows have been produced.
type RowSource interface {
	// Row returns the RGB bytes for scanline y (0-indexed from the top).
	Row(y int) []byte
	Width() int
	Height() int
}

// Encoder writes a complete encoded image read from src to dst, at the
// given quality (0-100, encoder-defined meaning).
type Encoder interface {
	Encode(dst io.Writer, src RowSource, quality int) error
}

// clamp8 saturates v to the [0, 255] range used by every image plane in
// this pipeline.
func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// NV12Source adapts averaged NV12 planes (one luma byte per pixel,
// interleaved U/V at half resolution in both dimensions) into a RowSource,
// converting to RGB lazily, one row at a time, via the exact fixed-point
// transform specified for this pipeline:
//
//	R = y + ((v*1436) >> 10)
//	G = y - ((u*352 + v*731) >> 10)
//	B = y + ((u*1815) >> 10)
type NV12Source struct {
	Y, UV  []byte
	W, H   int
	rowBuf []byte
}

// NewNV12Source returns a RowSource over y/uv planes of dimensions w x h.
func NewNV12Source(y, uv []byte, w, h int) *NV12Source {
	return &NV12Source{Y: y, UV: uv, W: w, H: h, rowBuf: make([]byte, w*3)}
}

func (s *NV12Source) Width() int  { return s.W }
func (s *NV12Source) Height() int { return s.H }

// Row computes and returns the RGB bytes for scanline y, reusing an
// internal buffer — callers must consume the slice before the next call to
// Row.
func (s *NV12Source) Row(y int) []byte {
	yBase := y * s.W
	uvBase := (y / 2) * s.W
	for x := 0; x < s.W; x++ {
		luma := int(s.Y[yBase+x])
		uvIdx := uvBase + (x &^ 1)
		u := int(s.UV[uvIdx]) - 128
		v := int(s.UV[uvIdx+1]) - 128

		r := luma + ((v * 1436) >> 10)
		g := luma - ((u*352 + v*731) >> 10)
		b := luma + ((u * 1815) >> 10)

		s.rowBuf[x*3+0] = clamp8(r)
		s.rowBuf[x*3+1] = clamp8(g)
		s.rowBuf[x*3+2] = clamp8(b)
	}
	return s.rowBuf
}
