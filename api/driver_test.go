package api_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/masksim/api"
	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/core"
	"github.com/sarchlab/masksim/gadget"
	"github.com/sarchlab/masksim/trace"
)

// toggleNetlist is a one-register toggle: q feeds back through an inverter.
func toggleNetlist() *circuit.Netlist {
	nl := circuit.NewNetlist()
	m := circuit.NewModule("toggle")
	m.Attrs.Set(circuit.AttrStrat, "composite_top")

	clk := m.AddWire("clk")
	d := m.AddWire("d")
	q := m.AddWire("q")

	m.AddPort("clk", circuit.DirIn, clk, circuit.Attributes{circuit.AttrType: "clock"})
	m.AddPort("q", circuit.DirOut, q, circuit.Attributes{circuit.AttrType: "control"})

	m.AddCell("inv", circuit.CellNot, []circuit.Connection{
		{Port: circuit.PortA, Wire: q}, {Port: circuit.PortY, Wire: d}})
	m.AddCell("ff", circuit.CellDFF, []circuit.Connection{
		{Port: circuit.PortC, Wire: clk}, {Port: circuit.PortD, Wire: d}, {Port: circuit.PortQ, Wire: q}})
	nl.Add(m)
	return nl
}

func toggleSimulation(horizon int64) *core.Simulation {
	nl := toggleNetlist()
	gadgets, err := gadget.FromNetlist(nl, 2)
	Expect(err).ToNot(HaveOccurred())
	Expect(circuit.Elaborate(nl, "toggle", gadgets)).To(Succeed())

	tr := trace.NewMapTrace(horizon).Constant("tb.dut.clk", false)
	simulation, err := core.NewBuilder().
		WithNetlist(nl).
		WithGadgets(gadgets).
		WithInputTrace(tr).
		Build("tb.dut")
	Expect(err).ToNot(HaveOccurred())
	return simulation
}

var _ = Describe("Driver", func() {
	It("runs the simulation to the trace horizon", func() {
		engine := sim.NewSerialEngine()
		simulation := toggleSimulation(6)

		driver := api.DriverBuilder{}.
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithSimulation(simulation).
			WithDesign("toggle").
			WithShares(2).
			Build("Driver")

		Expect(driver.Run()).To(Succeed())
		Expect(simulation.Done()).To(BeTrue())
		Expect(simulation.Cycle()).To(BeEquivalentTo(6))
	})

	It("reports a secure verdict for a deterministic design", func() {
		engine := sim.NewSerialEngine()
		driver := api.DriverBuilder{}.
			WithEngine(engine).
			WithSimulation(toggleSimulation(4)).
			WithDesign("toggle").
			WithShares(2).
			Build("Driver")

		Expect(driver.Run()).To(Succeed())

		report := driver.Report()
		Expect(report.Secure()).To(BeTrue())
		Expect(report.Design).To(Equal("toggle"))
		Expect(report.Cycles).To(BeEquivalentTo(4))
		Expect(report.Violations).To(BeEmpty())
	})

	It("surfaces input-trace errors from the run", func() {
		nl := toggleNetlist()
		gadgets, err := gadget.FromNetlist(nl, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(circuit.Elaborate(nl, "toggle", gadgets)).To(Succeed())

		// The clock pin is never driven in the trace.
		tr := trace.NewMapTrace(4)
		simulation, err := core.NewBuilder().
			WithNetlist(nl).
			WithGadgets(gadgets).
			WithInputTrace(tr).
			Build("tb.dut")
		Expect(err).ToNot(HaveOccurred())

		engine := sim.NewSerialEngine()
		driver := api.DriverBuilder{}.
			WithEngine(engine).
			WithSimulation(simulation).
			Build("Driver")

		Expect(driver.Run()).To(HaveOccurred())
	})
})
