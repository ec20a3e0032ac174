/*
NAME
  hough.go

DESCRIPTION
  hough.go provides Accumulator, a fixed-point Hough-transform line detector
  that votes sparse candidate pixels into a (rho, theta) accumulator and
  extracts local-maximum peaks above a threshold.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hough provides a fixed-point Hough-transform accumulator for
// detecting straight lines among sparse candidate pixels.
package hough

import "math"

// Default parameters, matching the thresholding behaviour the original
// detector was tuned against. Callers that want a differently-sized
// accumulator pass their own thetaSteps/rhoMax to New.
const (
	DefaultThetaSteps = 180
	DefaultRhoMax     = 900
	PeakThreshold     = 8
	trigScale         = 1024
	trigScaleShift    = 10 // log2(trigScale)
)

// Peak is one detected line in (rho, theta) space.
type Peak struct {
	Rho   int
	Theta int
	Votes uint16
}

// Accumulator votes candidate pixels into a 2*rhoMax x thetaSteps cell grid
// and extracts local-maximum peaks. All trig is precomputed once as
// fixed-point tables so the vote loop is pure integer arithmetic. The grid
// is flattened into a single slice, sized once at construction from
// thetaSteps/rhoMax, since Go arrays can't be sized by a runtime value.
type Accumulator struct {
	thetaSteps int
	rhoMax     int

	cells []uint16 // row-major [2*rhoMax][thetaSteps], indexed via at().

	cosTab []int16
	sinTab []int16
}

// New returns a ready-to-use Accumulator sized for thetaSteps theta
// divisions of [0,180) degrees and rho values in [-rhoMax, rhoMax). A
// non-positive thetaSteps or rhoMax falls back to the package defaults.
func New(thetaSteps, rhoMax int) *Accumulator {
	if thetaSteps <= 0 {
		thetaSteps = DefaultThetaSteps
	}
	if rhoMax <= 0 {
		rhoMax = DefaultRhoMax
	}
	a := &Accumulator{
		thetaSteps: thetaSteps,
		rhoMax:     rhoMax,
		cells:      make([]uint16, 2*rhoMax*thetaSteps),
		cosTab:     make([]int16, thetaSteps),
		sinTab:     make([]int16, thetaSteps),
	}
	for t := 0; t < thetaSteps; t++ {
		theta := float64(t) * math.Pi / float64(thetaSteps)
		a.cosTab[t] = int16(math.Round(math.Cos(theta) * trigScale))
		a.sinTab[t] = int16(math.Round(math.Sin(theta) * trigScale))
	}
	return a
}

// at returns the flattened index of cell (r, t).
func (a *Accumulator) at(r, t int) int {
	return r*a.thetaSteps + t
}

// Reset zeroes every cell.
func (a *Accumulator) Reset() {
	for i := range a.cells {
		a.cells[i] = 0
	}
}

// Vote casts one vote per theta step for the point (x, y), saturating each
// touched cell at math.MaxUint16 rather than wrapping.
func (a *Accumulator) Vote(x, y int) {
	for t := 0; t < a.thetaSteps; t++ {
		rhoFP := int32(x)*int32(a.cosTab[t]) + int32(y)*int32(a.sinTab[t])
		rho := rhoFP >> trigScaleShift
		r := int(rho) + a.rhoMax
		if r < 0 || r >= 2*a.rhoMax {
			continue
		}
		i := a.at(r, t)
		if a.cells[i] < math.MaxUint16 {
			a.cells[i]++
		}
	}
}

// FindPeaks scans the interior of the accumulator (excluding the outermost
// ring, which has no full 3x3 neighbourhood) for cells that are at least
// threshold and are a local maximum (ties broken by scan order) over their
// 8 neighbours: a cell must exceed the neighbours scanned before it and be
// no smaller than those scanned after it, so of several equal adjacent
// cells only the first is reported. Peaks are appended to out, in scan
// order, until out reaches its capacity; the number written is returned.
func (a *Accumulator) FindPeaks(threshold int, out []Peak) int {
	found := 0
	maxOut := len(out)
	for r := 1; r < 2*a.rhoMax-1 && found < maxOut; r++ {
		for t := 1; t < a.thetaSteps-1 && found < maxOut; t++ {
			v := a.cells[a.at(r, t)]
			if int(v) < threshold {
				continue
			}
			if v <= a.cells[a.at(r-1, t-1)] ||
				v <= a.cells[a.at(r-1, t)] ||
				v <= a.cells[a.at(r-1, t+1)] ||
				v <= a.cells[a.at(r, t-1)] ||
				v < a.cells[a.at(r, t+1)] ||
				v < a.cells[a.at(r+1, t-1)] ||
				v < a.cells[a.at(r+1, t)] ||
				v < a.cells[a.at(r+1, t+1)] {
				continue
			}
			out[found] = Peak{Rho: r - a.rhoMax, Theta: t, Votes: v}
			found++
		}
	}
	return found
}
