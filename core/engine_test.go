package core_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/core"
	"github.com/sarchlab/masksim/gadget"
	"github.com/sarchlab/masksim/trace"
)

// cc builds a connection list from (port, wire) pairs.
func cc(pairs ...interface{}) []circuit.Connection {
	out := make([]circuit.Connection, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, circuit.Connection{
			Port: pairs[i].(string),
			Wire: pairs[i+1].(circuit.WireID),
		})
	}
	return out
}

func attrs(pairs ...string) circuit.Attributes {
	a := circuit.Attributes{}
	for i := 0; i < len(pairs); i += 2 {
		a.Set(pairs[i], pairs[i+1])
	}
	return a
}

// buildSim elaborates a netlist and constructs the simulation against the
// given trace; the DUT sits at scope tb.dut.
func buildSim(nl *circuit.Netlist, top string, shares int, tr core.InputTrace) *core.Simulation {
	gadgets, err := gadget.FromNetlist(nl, shares)
	Expect(err).ToNot(HaveOccurred())
	Expect(circuit.Elaborate(nl, top, gadgets)).To(Succeed())

	sim, err := core.NewBuilder().
		WithNetlist(nl).
		WithGadgets(gadgets).
		WithInputTrace(tr).
		Build("tb.dut")
	Expect(err).ToNot(HaveOccurred())
	return sim
}

func findViolation(sim *core.Simulation, kind core.ViolationKind) *core.Violation {
	vs := sim.Violations()
	for i := range vs {
		if vs[i].Kind == kind {
			return &vs[i]
		}
	}
	return nil
}

// shiftRegisterNetlist is a 4-stage shift register: out follows in after
// four clock edges. Everything is deterministic.
func shiftRegisterNetlist() *circuit.Netlist {
	nl := circuit.NewNetlist()
	m := circuit.NewModule("shreg")
	m.Attrs.Set(circuit.AttrStrat, "composite_top")
	m.Attrs.Set(circuit.AttrArch, "pipeline")

	clk := m.AddWire("clk")
	in := m.AddWire("in")
	q1, q2, q3, out := m.AddWire("q1"), m.AddWire("q2"), m.AddWire("q3"), m.AddWire("out")

	m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
	m.AddPort("in", circuit.DirIn, in, attrs(circuit.AttrType, "control"))
	m.AddPort("out", circuit.DirOut, out, attrs(circuit.AttrType, "control"))

	m.AddCell("s1", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, in, circuit.PortQ, q1))
	m.AddCell("s2", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q1, circuit.PortQ, q2))
	m.AddCell("s3", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q2, circuit.PortQ, q3))
	m.AddCell("s4", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q3, circuit.PortQ, out))
	nl.Add(m)
	return nl
}

func shiftRegisterTrace() *trace.MapTrace {
	return trace.NewMapTrace(8).
		Constant("tb.dut.clk", false).
		Constant("tb.dut.in", true)
}

// maskedDelayNetlist is the single-share masked pipeline: a fresh random is
// XORed with a constant 0 and delayed four cycles to the share-0 output.
func maskedDelayNetlist() *circuit.Netlist {
	nl := circuit.NewNetlist()
	m := circuit.NewModule("mask")
	m.Attrs.Set(circuit.AttrStrat, "composite_top")
	m.Attrs.Set(circuit.AttrShares, "2")

	clk := m.AddWire("clk")
	en := m.AddWire("en")
	rng := m.AddWire("rng_0")
	z := m.AddWire("z")
	t := m.AddWire("t")
	q1, q2, q3 := m.AddWire("q1"), m.AddWire("q2"), m.AddWire("q3")
	o0 := m.AddWire("o_0")

	m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
	m.AddPort("en", circuit.DirIn, en, attrs(circuit.AttrType, "control"))
	m.AddPort("rng_0", circuit.DirIn, rng, attrs(
		circuit.AttrType, "random", circuit.AttrActive, "en"))
	m.AddPort("o_0", circuit.DirOut, o0, attrs(
		circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))

	m.AddTie("tie_z", false, z)
	m.AddCell("u_mask", circuit.CellXor, cc(circuit.PortA, rng, circuit.PortB, z, circuit.PortY, t))
	m.AddCell("d1", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, t, circuit.PortQ, q1))
	m.AddCell("d2", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q1, circuit.PortQ, q2))
	m.AddCell("d3", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q2, circuit.PortQ, q3))
	m.AddCell("d4", circuit.CellDFF, cc(circuit.PortC, clk, circuit.PortD, q3, circuit.PortQ, o0))
	nl.Add(m)
	return nl
}

func maskedDelayTrace() *trace.MapTrace {
	return trace.NewMapTrace(8).
		Constant("tb.dut.clk", false).
		Constant("tb.dut.en", true).
		Constant("tb.dut.rng_0", true)
}

var _ = Describe("Simulation", func() {
	Describe("deterministic shift register", func() {
		It("keeps every wire deterministic and the verdict secure", func() {
			sim := buildSim(shiftRegisterNetlist(), "shreg", 2, shiftRegisterTrace())

			for c := 0; c < 8; c++ {
				Expect(sim.Step()).To(Succeed())
				for _, w := range []string{"in", "q1", "q2", "q3", "out"} {
					bit, ok := sim.WireBit(nil, w)
					Expect(ok).To(BeTrue())
					Expect(bit.Det).To(BeTrue(), "wire %s cycle %d", w, c)
					Expect(bit.WellFormed()).To(BeTrue())
				}
			}
			Expect(sim.Done()).To(BeTrue())
			Expect(sim.Secure()).To(BeTrue())
			Expect(sim.Violations()).To(BeEmpty())
		})

		It("propagates the input value through four stages", func() {
			sim := buildSim(shiftRegisterNetlist(), "shreg", 2, shiftRegisterTrace())

			Expect(sim.Step()).To(Succeed())
			bit, _ := sim.WireBit(nil, "out")
			Expect(bit.Value).To(BeFalse(), "registers power up at 0")

			for c := 0; c < 4; c++ {
				Expect(sim.Step()).To(Succeed())
			}
			bit, _ = sim.WireBit(nil, "out")
			Expect(bit.Value).To(BeTrue(), "the 1 arrives after four edges")
		})

		It("honours max_cycles", func() {
			nl := shiftRegisterNetlist()
			gadgets, err := gadget.FromNetlist(nl, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(circuit.Elaborate(nl, "shreg", gadgets)).To(Succeed())

			sim, err := core.NewBuilder().
				WithNetlist(nl).
				WithGadgets(gadgets).
				WithInputTrace(shiftRegisterTrace()).
				WithMaxCycles(3).
				Build("tb.dut")
			Expect(err).ToNot(HaveOccurred())

			Expect(sim.Run()).To(Succeed())
			Expect(sim.Cycle()).To(BeEquivalentTo(3))
		})

		It("aligns cycle 0 on the first in_valid sample", func() {
			nl := shiftRegisterNetlist()
			gadgets, err := gadget.FromNetlist(nl, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(circuit.Elaborate(nl, "shreg", gadgets)).To(Succeed())

			tr := shiftRegisterTrace().
				Set("tb.dut.in_valid", 0, false).
				Set("tb.dut.in_valid", 3, true)
			sim, err := core.NewBuilder().
				WithNetlist(nl).
				WithGadgets(gadgets).
				WithInputTrace(tr).
				WithInValid("in_valid").
				Build("tb.dut")
			Expect(err).ToNot(HaveOccurred())

			Expect(sim.Run()).To(Succeed())
			// 8 trace cycles, the first 3 skipped.
			Expect(sim.Cycle()).To(BeEquivalentTo(5))
		})

		It("fails on a missing input", func() {
			tr := trace.NewMapTrace(4).Constant("tb.dut.clk", false)
			sim := buildSim(shiftRegisterNetlist(), "shreg", 2, tr)

			err := sim.Step()
			Expect(err).To(HaveOccurred())
			var mie *trace.MissingInputError
			Expect(errors.As(err, &mie)).To(BeTrue())
			Expect(mie.Wire).To(Equal("tb.dut.in"))
		})
	})

	Describe("masked delay pipeline", func() {
		It("carries the fresh random to the output and stays secure", func() {
			sim := buildSim(maskedDelayNetlist(), "mask", 2, maskedDelayTrace())

			Expect(sim.Step()).To(Succeed())
			bit, ok := sim.WireBit(nil, "t")
			Expect(ok).To(BeTrue())
			Expect(bit.IsRand).To(BeTrue(), "XOR with constant 0 preserves the random")
			Expect(bit.Rand.Port).To(Equal("rng_0"))

			for c := 0; c < 4; c++ {
				Expect(sim.Step()).To(Succeed())
			}
			out, _ := sim.WireBit(nil, "o_0")
			Expect(out.IsRand).To(BeTrue())
			Expect(out.Rand.Cycle).To(BeEquivalentTo(0), "the cycle-0 random after four stages")
			Expect(out.Stable.Empty()).To(BeTrue())
			Expect(out.Glitch.Empty()).To(BeTrue())

			Expect(sim.Secure()).To(BeTrue())
		})

		It("produces a byte-identical attribute log on a re-run", func() {
			render := func() string {
				var buf bytes.Buffer
				nl := maskedDelayNetlist()
				gadgets, err := gadget.FromNetlist(nl, 2)
				Expect(err).ToNot(HaveOccurred())
				Expect(circuit.Elaborate(nl, "mask", gadgets)).To(Succeed())
				w := trace.NewVCDWriter(&buf, 2)
				sim, err := core.NewBuilder().
					WithNetlist(nl).
					WithGadgets(gadgets).
					WithInputTrace(maskedDelayTrace()).
					WithTraceSink(w).
					Build("tb.dut")
				Expect(err).ToNot(HaveOccurred())
				Expect(sim.Run()).To(Succeed())
				Expect(w.Close()).To(Succeed())
				return buf.String()
			}
			Expect(render()).To(Equal(render()))
		})
	})

	Describe("share misrouting", func() {
		It("reports ShareLeakage with the extra index", func() {
			nl := circuit.NewNetlist()
			m := circuit.NewModule("route")
			m.Attrs.Set(circuit.AttrStrat, "composite_top")

			clk := m.AddWire("clk")
			en := m.AddWire("en")
			i0 := m.AddWire("i_0")
			o1 := m.AddWire("o_1")

			m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
			m.AddPort("en", circuit.DirIn, en, attrs(circuit.AttrType, "control"))
			m.AddPort("i_0", circuit.DirIn, i0, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))
			m.AddPort("o_1", circuit.DirOut, o1, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "1", circuit.AttrActive, "en"))

			// Share 0 routed straight onto the share-1 output.
			m.AddCell("u_buf", circuit.CellBuf, cc(circuit.PortA, i0, circuit.PortY, o1))
			nl.Add(m)

			tr := trace.NewMapTrace(2).
				Constant("tb.dut.clk", false).
				Constant("tb.dut.en", true).
				Constant("tb.dut.i_0", true)
			sim := buildSim(nl, "route", 2, tr)

			Expect(sim.Run()).To(Succeed())
			Expect(sim.Secure()).To(BeFalse())

			leak := findViolation(sim, core.ShareLeakage)
			Expect(leak).ToNot(BeNil())
			Expect(leak.Path).To(Equal("tb.dut.o_1"))
			Expect(leak.Extra.Indices()).To(Equal([]int{0}))

			glitch := findViolation(sim, core.GlitchLeakage)
			Expect(glitch).ToNot(BeNil())
			Expect(glitch.Extra.Indices()).To(Equal([]int{0}))
		})
	})

	Describe("random reuse", func() {
		It("reports RandomReused when one fresh bit masks twice", func() {
			nl := circuit.NewNetlist()
			m := circuit.NewModule("reuse")
			m.Attrs.Set(circuit.AttrStrat, "composite_top")

			clk := m.AddWire("clk")
			en := m.AddWire("en")
			rng := m.AddWire("rng_0")
			z0, z1 := m.AddWire("z0"), m.AddWire("z1")
			x0, x1 := m.AddWire("x0"), m.AddWire("x1")

			m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
			m.AddPort("en", circuit.DirIn, en, attrs(circuit.AttrType, "control"))
			m.AddPort("rng_0", circuit.DirIn, rng, attrs(
				circuit.AttrType, "random", circuit.AttrActive, "en"))
			m.AddPort("x0", circuit.DirOut, x0, attrs(circuit.AttrType, "control"))
			m.AddPort("x1", circuit.DirOut, x1, attrs(circuit.AttrType, "control"))

			m.AddTie("t0", false, z0)
			m.AddTie("t1", true, z1)
			m.AddCell("m0", circuit.CellXor, cc(circuit.PortA, rng, circuit.PortB, z0, circuit.PortY, x0))
			m.AddCell("m1", circuit.CellXor, cc(circuit.PortA, rng, circuit.PortB, z1, circuit.PortY, x1))
			nl.Add(m)

			tr := trace.NewMapTrace(1).
				Constant("tb.dut.clk", false).
				Constant("tb.dut.en", true).
				Constant("tb.dut.rng_0", false)
			sim := buildSim(nl, "reuse", 2, tr)

			Expect(sim.Run()).To(Succeed())
			Expect(sim.Secure()).To(BeFalse())

			v := findViolation(sim, core.RandomReused)
			Expect(v).ToNot(BeNil())
			Expect(v.Rand.Port).To(Equal("rng_0"))
			Expect(v.Cycle).To(BeEquivalentTo(0))
		})
	})

	Describe("glitch versus stable divergence", func() {
		It("narrows the glitch set through a flip-flop", func() {
			nl := circuit.NewNetlist()
			m := circuit.NewModule("muxglitch")
			m.Attrs.Set(circuit.AttrStrat, "composite_top")

			clk := m.AddWire("clk")
			en := m.AddWire("en")
			sel := m.AddWire("s")
			i0, i1 := m.AddWire("i_0"), m.AddWire("i_1")
			mw, qw := m.AddWire("m"), m.AddWire("q")

			m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
			m.AddPort("en", circuit.DirIn, en, attrs(circuit.AttrType, "control"))
			m.AddPort("s", circuit.DirIn, sel, attrs(circuit.AttrType, "control"))
			m.AddPort("i_0", circuit.DirIn, i0, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))
			m.AddPort("i_1", circuit.DirIn, i1, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "1", circuit.AttrActive, "en"))
			m.AddPort("q", circuit.DirOut, qw, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "en"))

			m.AddCell("u_mux", circuit.CellMux, cc(
				circuit.PortA, i0, circuit.PortB, i1, circuit.PortS, sel, circuit.PortY, mw))
			m.AddCell("u_ff", circuit.CellDFF, cc(
				circuit.PortC, clk, circuit.PortD, mw, circuit.PortQ, qw))
			nl.Add(m)

			tr := trace.NewMapTrace(3).
				Constant("tb.dut.clk", false).
				Constant("tb.dut.en", true).
				Constant("tb.dut.s", false).
				Constant("tb.dut.i_0", true).
				Constant("tb.dut.i_1", false)
			sim := buildSim(nl, "muxglitch", 2, tr)

			Expect(sim.Step()).To(Succeed())
			bit, _ := sim.WireBit(nil, "m")
			Expect(bit.Stable.Indices()).To(Equal([]int{0}), "only the selected share is stable")
			Expect(bit.Glitch.Indices()).To(Equal([]int{0, 1}), "glitches reach both shares")

			Expect(sim.Step()).To(Succeed())
			q, _ := sim.WireBit(nil, "q")
			Expect(q.Stable.Indices()).To(Equal([]int{0}))
			Expect(q.Glitch.Indices()).To(Equal([]int{0}), "the edge narrows the glitch set")

			Expect(sim.Secure()).To(BeTrue())
		})
	})

	Describe("activity handling", func() {
		It("reports InconsistentActivity on a sensitive inactive output", func() {
			nl := circuit.NewNetlist()
			m := circuit.NewModule("act")
			m.Attrs.Set(circuit.AttrStrat, "composite_top")

			clk := m.AddWire("clk")
			done := m.AddWire("done")
			i0 := m.AddWire("i_0")
			o0 := m.AddWire("o_0")

			m.AddPort("clk", circuit.DirIn, clk, attrs(circuit.AttrType, "clock"))
			m.AddPort("done", circuit.DirIn, done, attrs(circuit.AttrType, "control"))
			m.AddPort("i_0", circuit.DirIn, i0, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "done"))
			m.AddPort("o_0", circuit.DirOut, o0, attrs(
				circuit.AttrType, "share", circuit.AttrShare, "0", circuit.AttrActive, "done"))

			// A register keeps the share alive after its activity drops.
			m.AddCell("u_ff", circuit.CellDFF, cc(
				circuit.PortC, clk, circuit.PortD, i0, circuit.PortQ, o0))
			nl.Add(m)

			tr := trace.NewMapTrace(3).
				Constant("tb.dut.clk", false).
				Constant("tb.dut.i_0", true).
				Set("tb.dut.done", 0, true).
				Set("tb.dut.done", 1, false)
			sim := buildSim(nl, "act", 2, tr)

			Expect(sim.Step()).To(Succeed())
			Expect(sim.Violations()).To(BeEmpty(), "the active cycle is clean")

			// done=0 now, but the register still holds share 0.
			Expect(sim.Step()).To(Succeed())
			v := findViolation(sim, core.InconsistentActivity)
			Expect(v).ToNot(BeNil())
			Expect(v.Path).To(Equal("tb.dut.o_0"))
			Expect(v.Extra.Indices()).To(Equal([]int{0}))
			Expect(sim.Secure()).To(BeFalse())
		})
	})
})
