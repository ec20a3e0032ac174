/*
NAME
  capture.go

DESCRIPTION
  capture.go provides Source, the frame-acquisition interface the
  producer loop consumes, and Run, the producer loop itself: pull a
  frame, downsample its luma plane, and push both the downsampled and
  full-resolution planes to the detection and stacking pipelines.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package capture provides the frame-source interface consumed by the
// producer loop and the producer loop itself. Frame acquisition is, per
// the detection pipeline's scope, an external collaborator: this package
// defines only the narrow surface the core needs (Source), the way
// device.AVDevice is a narrow surface over physical or file-backed
// devices in the wider av pipeline this module is drawn from.
package capture

import (
	"context"
	"time"

	"github.com/ausocean/utils/logging"
)

// Detector is the minimal surface Run needs of a detection pipeline.
type Detector interface {
	PushFrame(luma []byte, stride int, tsMs int64)
}

// Stacker is the minimal surface Run needs of a stack averager.
type Stacker interface {
	OnFrame(y, uv []byte, stride int, tsMs int64)
}

// Source yields timestamped NV12 frames: a luma plane, an interleaved
// chroma half-plane, and the frame's native width/height/stride. Release
// must be called once the caller is done reading the returned slices;
// after release the slices must not be reused, matching the source's
// scoped-borrow contract.
type Source interface {
	// Frame blocks until a frame is available, or returns a non-nil err
	// if none could be acquired this attempt (a transient condition the
	// caller should back off and retry, not a fatal failure).
	Frame() (tsMs int64, w, h, stride int, y, uv []byte, release func(), err error)
}

// acquireRetryDelay is how long Run backs off after a failed Frame call
// before retrying.
const acquireRetryDelay = 10 * time.Millisecond

// Run repeatedly pulls frames from src, downsamples the luma plane by
// nearest-neighbour decimation into detW x detH, and pushes the
// downsampled plane to det and the full-resolution NV12 frame to stk. It
// returns when ctx is cancelled.
func Run(ctx context.Context, src Source, det Detector, stk Stacker, detW, detH int, log logging.Logger) {
	dsBuf := make([]byte, detW*detH)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tsMs, w, h, stride, y, uv, release, err := src.Frame()
		if err != nil {
			log.Debug("capture: frame acquisition failed, backing off", "error", err)
			time.Sleep(acquireRetryDelay)
			continue
		}

		Downsample(y, w, h, stride, dsBuf, detW, detH)
		det.PushFrame(dsBuf, detW, tsMs)
		stk.OnFrame(y[:h*stride], uv[:h/2*stride], stride, tsMs)

		release()
	}
}

// Downsample decimates src (a w x h luma plane with the given row
// stride, which may exceed w for padded input) by nearest-neighbour
// sampling into dst, sized dstW x dstH. dst must have length
// dstW*dstH; Downsample does not allocate.
func Downsample(src []byte, w, h, stride int, dst []byte, dstW, dstH int) {
	xStep := w / dstW
	yStep := h / dstH
	if xStep < 1 {
		xStep = 1
	}
	if yStep < 1 {
		yStep = 1
	}
	for dy := 0; dy < dstH; dy++ {
		srcY := dy * yStep
		if srcY >= h {
			srcY = h - 1
		}
		rowBase := srcY * stride
		dstBase := dy * dstW
		for dx := 0; dx < dstW; dx++ {
			srcX := dx * xStep
			if srcX >= w {
				srcX = w - 1
			}
			dst[dstBase+dx] = src[rowBase+srcX]
		}
	}
}
