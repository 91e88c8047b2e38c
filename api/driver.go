// Package api defines the driver API for the symbolic masking simulator.
package api

import (
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/masksim/core"
	"github.com/sarchlab/masksim/verify"
)

// Driver provides the interface to control a verification run.
type Driver interface {
	// Run simulates cycle by cycle until the input trace is exhausted or
	// the configured cycle bound is reached.
	Run() error

	// Report returns the verdict of the finished run.
	Report() *verify.Report

	// Simulation exposes the underlying engine, e.g. for wire inspection.
	Simulation() *core.Simulation
}

type driverImpl struct {
	*sim.TickingComponent

	engine sim.Engine
	simul  *core.Simulation
	design string
	shares int
	err    error
}

// Tick simulates exactly one cycle per engine tick. The run makes progress
// until the simulation reports itself done or a trace error surfaces.
func (d *driverImpl) Tick() (madeProgress bool) {
	if d.err != nil || d.simul.Done() {
		return false
	}
	if err := d.simul.Step(); err != nil {
		d.err = err
		return false
	}
	return true
}

func (d *driverImpl) Run() error {
	d.TickLater()
	if err := d.engine.Run(); err != nil {
		return err
	}
	return d.err
}

func (d *driverImpl) Report() *verify.Report {
	return verify.FromSimulation(d.design, d.shares, d.simul)
}

func (d *driverImpl) Simulation() *core.Simulation {
	return d.simul
}
