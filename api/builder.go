package api

import (
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/masksim/core"
)

// DriverBuilder creates a new instance of Driver.
type DriverBuilder struct {
	engine sim.Engine
	freq   sim.Freq
	simul  *core.Simulation
	design string
	shares int
}

// WithEngine sets the engine.
func (b DriverBuilder) WithEngine(engine sim.Engine) DriverBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the driver.
func (b DriverBuilder) WithFreq(freq sim.Freq) DriverBuilder {
	b.freq = freq
	return b
}

// WithSimulation sets the simulation to drive.
func (b DriverBuilder) WithSimulation(s *core.Simulation) DriverBuilder {
	b.simul = s
	return b
}

// WithDesign names the design for the verdict report.
func (b DriverBuilder) WithDesign(name string) DriverBuilder {
	b.design = name
	return b
}

// WithShares records the share count for the verdict report.
func (b DriverBuilder) WithShares(d int) DriverBuilder {
	b.shares = d
	return b
}

// Build creates a driver.
func (b DriverBuilder) Build(name string) Driver {
	d := &driverImpl{
		engine: b.engine,
		simul:  b.simul,
		design: b.design,
		shares: b.shares,
	}
	freq := b.freq
	if freq == 0 {
		freq = 1 * sim.GHz
	}
	d.TickingComponent = sim.NewTickingComponent(name, b.engine, freq, d)
	return d
}
