/*
NAME
  embd_poller.go

DESCRIPTION
  embd_poller.go provides EmbdPoller, a reference implementation of the
  external IVS-region motion collaborator, reading a region-of-interest
  motion summary register over I2C on a fixed interval. This stands in for
  the detection hardware/firmware the spec treats as out of scope; the
  detection pipeline depends only on Counters, never on this poller.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ivs

import (
	"time"

	"github.com/kidoman/embd"
	"github.com/ausocean/utils/logging"
	"gonum.org/v1/gonum/stat"
)

// Register layout of the reference IVS controller: one status byte (bit 0
// set if any ROI reported motion since the last read) followed by one byte
// giving the count of ROIs currently reporting motion.
const (
	statusReg = 0x10
	roiReg    = 0x11

	statusMotionBit = 1 << 0
)

// EmbdPoller polls a reference IVS controller over I2C and feeds the
// results into a Counters. It is provided as a concrete example of the
// external collaborator the spec describes, not as part of the detection
// pipeline's critical path.
type EmbdPoller struct {
	bus      embd.I2CBus
	addr     byte
	interval time.Duration
	counters *Counters
	log      logging.Logger

	history []float64
	done    chan struct{}
}

// NewEmbdPoller returns a poller reading the IVS controller at I2C address
// addr on bus i2cBus, feeding counters every interval.
func NewEmbdPoller(i2cBus int, addr byte, interval time.Duration, counters *Counters, log logging.Logger) *EmbdPoller {
	return &EmbdPoller{
		bus:      embd.NewI2CBus(byte(i2cBus)),
		addr:     addr,
		interval: interval,
		counters: counters,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins polling on a background goroutine. It returns immediately.
func (p *EmbdPoller) Start() {
	go p.run()
}

// Stop halts the polling goroutine.
func (p *EmbdPoller) Stop() {
	close(p.done)
}

func (p *EmbdPoller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *EmbdPoller) pollOnce() {
	status, err := p.bus.ReadByteFromReg(p.addr, statusReg)
	if err != nil {
		p.log.Warning("ivs: could not read status register", "error", err)
		return
	}
	active := status&statusMotionBit != 0

	var rois int
	if active {
		n, err := p.bus.ReadByteFromReg(p.addr, roiReg)
		if err != nil {
			p.log.Warning("ivs: could not read ROI count register", "error", err)
			return
		}
		rois = int(n)
	}

	p.counters.Poll(active, rois)

	p.history = append(p.history, float64(rois))
	if len(p.history) > 32 {
		p.history = p.history[len(p.history)-32:]
	}
	if len(p.history) >= 2 {
		mean, std := stat.MeanStdDev(p.history, nil)
		p.log.Debug("ivs: poll", "active", active, "rois", rois, "mean_rois", mean, "std_rois", std)
	}
}
