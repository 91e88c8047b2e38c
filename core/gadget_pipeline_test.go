package core_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/core"
	"github.com/sarchlab/masksim/trace"
)

// domAndModule is an assumed first-order AND gadget: shares and randomness
// enter at stage 0, the result shares leave at stage 1.
func domAndModule(prop string) *circuit.Module {
	g := circuit.NewModule("dom_and")
	g.Attrs.Set(circuit.AttrStrat, "assumed")
	g.Attrs.Set(circuit.AttrArch, "pipeline")
	g.Attrs.Set(circuit.AttrProp, prop)

	clk := g.AddWire("clk")
	en := g.AddWire("en")
	a0, a1 := g.AddWire("a_0"), g.AddWire("a_1")
	r0 := g.AddWire("r_0")
	y0, y1 := g.AddWire("y_0"), g.AddWire("y_1")

	g.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
	g.AddPort("en", circuit.DirIn, en, attrs(
		circuit.AttrType, "control", circuit.AttrLatency, "0"))
	g.AddPort("a_0", circuit.DirIn, a0, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "0",
		circuit.AttrActive, "en", circuit.AttrLatency, "0"))
	g.AddPort("a_1", circuit.DirIn, a1, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "1",
		circuit.AttrActive, "en", circuit.AttrLatency, "0"))
	g.AddPort("r_0", circuit.DirIn, r0, attrs(
		circuit.AttrType, "random", circuit.AttrActive, "en", circuit.AttrLatency, "0"))
	g.AddPort("y_0", circuit.DirOut, y0, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "0",
		circuit.AttrActive, "en", circuit.AttrLatency, "1"))
	g.AddPort("y_1", circuit.DirOut, y1, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "1",
		circuit.AttrActive, "en", circuit.AttrLatency, "1"))
	return g
}

// gadgetTopNetlist instantiates the assumed gadget under a composite top.
// rndFeed customises how the gadget's randomness port is driven.
type rndFeed int

const (
	feedFresh rndFeed = iota
	feedCombined
	feedUsedTwice
)

func gadgetTopNetlist(prop string, feed rndFeed) *circuit.Netlist {
	nl := circuit.NewNetlist()
	gid := nl.Add(domAndModule(prop))

	m := circuit.NewModule("top")
	m.Attrs.Set(circuit.AttrStrat, "composite_top")

	clk := m.AddWire("clk")
	en := m.AddWire("en")
	i0, i1 := m.AddWire("i_0"), m.AddWire("i_1")
	rng := m.AddWire("rng_0")
	o0, o1 := m.AddWire("o_0"), m.AddWire("o_1")

	m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
	m.AddPort("en", circuit.DirIn, en, attrs(circuit.AttrType, "control"))
	m.AddPort("i_0", circuit.DirIn, i0, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))
	m.AddPort("i_1", circuit.DirIn, i1, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "1", circuit.AttrActive, "en"))
	m.AddPort("rng_0", circuit.DirIn, rng, attrs(
		circuit.AttrType, "random", circuit.AttrActive, "en"))
	m.AddPort("o_0", circuit.DirOut, o0, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))
	m.AddPort("o_1", circuit.DirOut, o1, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "1", circuit.AttrActive, "en"))

	rport := rng
	switch feed {
	case feedCombined:
		// Destroy the fresh identity before it reaches the gadget.
		one := m.AddWire("one")
		rr := m.AddWire("rr")
		m.AddTie("tie_one", true, one)
		m.AddCell("u_and", circuit.CellAnd, cc(
			circuit.PortA, rng, circuit.PortB, one, circuit.PortY, rr))
		rport = rr
	case feedUsedTwice:
		// Spend the random on a mask first; the gadget then sees it stale.
		zero := m.AddWire("zero")
		x := m.AddWire("x")
		m.AddTie("tie_zero", false, zero)
		m.AddCell("u_mask", circuit.CellXor, cc(
			circuit.PortA, rng, circuit.PortB, zero, circuit.PortY, x))
		m.AddCell("u_sink", circuit.CellBuf, cc(circuit.PortA, x, circuit.PortY, m.AddWire("xs")))
	}

	m.AddSub("u_dom", gid, cc(
		"clk", clk, "en", en,
		"a_0", i0, "a_1", i1, "r_0", rport,
		"y_0", o0, "y_1", o1))
	nl.Add(m)
	return nl
}

func gadgetTopTrace() *trace.MapTrace {
	return trace.NewMapTrace(4).
		Constant("tb.dut.clk", false).
		Constant("tb.dut.en", true).
		Constant("tb.dut.i_0", true).
		Constant("tb.dut.i_1", false).
		Constant("tb.dut.rng_0", true)
}

var _ = Describe("PipelineGadget", func() {
	It("emits deterministic outputs until the pipeline fills", func() {
		sim := buildSim(gadgetTopNetlist("PINI", feedFresh), "top", 2, gadgetTopTrace())

		Expect(sim.Step()).To(Succeed())
		o0, _ := sim.WireBit(nil, "o_0")
		Expect(o0.Det).To(BeTrue(), "stage 1 has nothing to say at cycle 0")
	})

	It("carries per-share sensitivity through a PINI gadget", func() {
		sim := buildSim(gadgetTopNetlist("PINI", feedFresh), "top", 2, gadgetTopTrace())

		Expect(sim.Step()).To(Succeed())
		Expect(sim.Step()).To(Succeed())

		o0, _ := sim.WireBit(nil, "o_0")
		Expect(o0.Det).To(BeFalse())
		Expect(o0.Stable.Indices()).To(Equal([]int{0}))
		Expect(o0.Glitch.Indices()).To(Equal([]int{0}))

		o1, _ := sim.WireBit(nil, "o_1")
		Expect(o1.Stable.Indices()).To(Equal([]int{1}))

		Expect(sim.Run()).To(Succeed())
		Expect(sim.Secure()).To(BeTrue())
		Expect(sim.Violations()).To(BeEmpty())
	})

	It("unions input sensitivities through an OPINI gadget", func() {
		sim := buildSim(gadgetTopNetlist("OPINI", feedFresh), "top", 2, gadgetTopTrace())

		Expect(sim.Step()).To(Succeed())
		Expect(sim.Step()).To(Succeed())

		o0, _ := sim.WireBit(nil, "o_0")
		Expect(o0.Stable.Indices()).To(Equal([]int{0, 1}))

		// An OPINI output crossing the top boundary exceeds its own share.
		Expect(findViolation(sim, core.ShareLeakage)).ToNot(BeNil())
		Expect(sim.Secure()).To(BeFalse())
	})

	It("reports GadgetRandomnessReuse for a combined randomness input", func() {
		sim := buildSim(gadgetTopNetlist("PINI", feedCombined), "top", 2, gadgetTopTrace())

		Expect(sim.Step()).To(Succeed())
		v := findViolation(sim, core.GadgetRandomnessReuse)
		Expect(v).ToNot(BeNil())
		Expect(v.Path).To(Equal("tb.dut.u_dom.r_0"))
		Expect(sim.Secure()).To(BeFalse())
	})

	It("reports GadgetInputNotFresh for a random spent elsewhere", func() {
		sim := buildSim(gadgetTopNetlist("PINI", feedUsedTwice), "top", 2, gadgetTopTrace())

		Expect(sim.Step()).To(Succeed())
		v := findViolation(sim, core.GadgetInputNotFresh)
		Expect(v).ToNot(BeNil())
		Expect(v.HasRand).To(BeTrue())
		Expect(v.Rand.Port).To(Equal("rng_0"))
		Expect(sim.Secure()).To(BeFalse())
	})
})
