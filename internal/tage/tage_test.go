package tage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FreshPredictorFallsBackToBase(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x1000)
	assert.True(t, pred.Direction, "base counter starts at 2, threshold is >1, so TAKEN")
	assert.Equal(t, NumTables, pred.scratch.provider, "no tagged entry has been allocated yet")
}

func TestUpdate_NoProviderTouchesOnlyBase(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x1000)
	p.Update(pred, true)

	idx := uint32(0x1000) % BaseEntries
	assert.Equal(t, uint8(3), p.base[idx], "bimodal counter increments from its initial value of 2")
}

func TestUpdate_PanicsWithoutMatchingPredict(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x2000)
	p.Update(pred, true)

	assert.Panics(t, func() { p.Update(pred, true) }, "a stale Prediction must not be replayed")
}

func TestUpdate_PanicsOnPredictorMismatch(t *testing.T) {
	p1 := New(1)
	p2 := New(1)
	pred := p1.Predict(0x3000)

	assert.Panics(t, func() { p2.Update(pred, true) })
}

func TestPredict_MispredictAgainstBaseAllocatesImmediately(t *testing.T) {
	p := New(7)
	const addr = 0x4004

	// The base counter starts at 2 (> 1, predicts TAKEN). Feeding a
	// not-taken outcome mispredicts on the very first call, and with
	// provider == NumTables (no tagged match yet) every table is a
	// candidate for allocation.
	pred := p.Predict(addr)
	require.True(t, pred.Direction)
	require.Equal(t, NumTables, pred.scratch.provider)
	p.Update(pred, false)

	pred = p.Predict(addr)
	assert.Less(t, pred.scratch.provider, NumTables, "the misprediction should have allocated a tagged entry")
}

func TestEntry_CounterAndUsefulStayInRange(t *testing.T) {
	p := New(3)
	addrs := []uint32{0x10, 0x20, 0x30, 0x40, 0x10, 0x20}

	for round := 0; round < 2000; round++ {
		addr := addrs[round%len(addrs)]
		pred := p.Predict(addr)
		taken := round%3 != 0
		p.Update(pred, taken)
	}

	for t0 := 0; t0 < NumTables; t0++ {
		for i := range p.tables[t0] {
			e := p.tables[t0][i]
			require.LessOrEqual(t, e.ctr, uint8(ctrMax))
			require.LessOrEqual(t, e.u, uint8(uMax))
			require.LessOrEqual(t, e.tag, uint16(tagMask))
		}
	}
	for i := range p.base {
		require.LessOrEqual(t, p.base[i], uint8(baseCtrMax))
	}
}

func TestAllocate_AgesInsteadOfEvictingWhenAllCandidatesUseful(t *testing.T) {
	p := New(5)
	pred := p.Predict(0x5000)
	pred.scratch.provider = 3
	for i := 0; i < 3; i++ {
		p.tables[i][pred.scratch.idx[i]].u = 1
		p.tables[i][pred.scratch.idx[i]].valid = true
	}

	p.allocate(pred.scratch, true)

	for i := 0; i < 3; i++ {
		e := p.tables[i][pred.scratch.idx[i]]
		assert.Equal(t, uint8(0), e.u, "no free candidate: every table in range ages instead of being overwritten")
		assert.True(t, e.valid, "aging must not evict an already-allocated entry")
	}
}

func TestAllocate_DecaysUsefulWhenNoCandidateIsFree(t *testing.T) {
	p := New(5)
	pred := p.Predict(0x5010)
	pred.scratch.provider = 2
	p.tables[0][pred.scratch.idx[0]].u = 2
	p.tables[1][pred.scratch.idx[1]].u = 3

	p.allocate(pred.scratch, true)

	assert.Equal(t, uint8(1), p.tables[0][pred.scratch.idx[0]].u)
	assert.Equal(t, uint8(2), p.tables[1][pred.scratch.idx[1]].u)
}

func TestClock_DecaysUsefulBitsAtResetPeriod(t *testing.T) {
	p := New(9)
	p.tables[0][0] = entry{ctr: 4, tag: 1, u: 3, valid: true}
	p.clock = clockResetPeriod - 1
	p.clockFlip = 0

	pred := p.Predict(0x6000)
	p.Update(pred, true)

	assert.Equal(t, uint8(1), p.tables[0][0].u, "clock_flip toggles 0->1, so the reset masks u with 0b01, clearing the MSB")
}

func TestHistory_FoldedRegistersStayWithinWidth(t *testing.T) {
	p := New(2)
	for i := 0; i < 300; i++ {
		addr := uint32(0x7000 + i)
		pred := p.Predict(addr)
		p.Update(pred, i%5 != 0)
	}
	for i := 0; i < NumTables; i++ {
		require.Less(t, p.idxFold[i].CompHist, uint32(1)<<indexBits)
		require.Less(t, p.tagFold[0][i].CompHist, uint32(1)<<9)
		require.Less(t, p.tagFold[1][i].CompHist, uint32(1)<<8)
	}
}
