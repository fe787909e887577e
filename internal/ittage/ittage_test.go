package ittage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FreshPredictorFallsBackToBaseZeroTarget(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x1000)
	assert.Equal(t, uint32(0), pred.Target, "a never-updated base slot predicts target 0")
	assert.Equal(t, NumTables, pred.scratch.provider, "no tagged entry has been allocated yet")
}

func TestUpdate_NoProviderWritesBaseTarget(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x1000)
	p.Update(pred, 0xDEAD0000)

	idx := uint32(0x1000) % BaseEntries
	assert.Equal(t, uint32(0xDEAD0000), p.base[idx])
}

func TestUpdate_PanicsWithoutMatchingPredict(t *testing.T) {
	p := New(1)
	pred := p.Predict(0x2000)
	p.Update(pred, 0x1)

	assert.Panics(t, func() { p.Update(pred, 0x1) })
}

func TestPredict_MispredictAllocatesImmediately(t *testing.T) {
	p := New(7)
	const addr = 0x4004

	pred := p.Predict(addr)
	require.Equal(t, NumTables, pred.scratch.provider)
	p.Update(pred, 0xCAFEBABE) // base starts at 0, so this mispredicts

	pred = p.Predict(addr)
	assert.Less(t, pred.scratch.provider, NumTables, "the misprediction should have allocated a tagged entry")
	assert.Equal(t, uint32(0xCAFEBABE), pred.Target, "the new entry has c=1 and altBetterCount is 8, so the alternate (the base slot, now 0xCAFEBABE) supplies the target")
}

func TestEntry_ConfidenceAndUsefulStayInRange(t *testing.T) {
	p := New(3)
	addrs := []uint32{0x10, 0x20, 0x30, 0x40}
	targets := []uint32{0x100, 0x200, 0x100, 0x300}

	for round := 0; round < 2000; round++ {
		i := round % len(addrs)
		pred := p.Predict(addrs[i])
		p.Update(pred, targets[i])
	}

	for t0 := 0; t0 < NumTables; t0++ {
		for i := range p.tables[t0] {
			e := p.tables[t0][i]
			require.LessOrEqual(t, e.c, uint8(cMax))
			require.LessOrEqual(t, e.u, uint8(uMax))
			require.LessOrEqual(t, e.tag, uint16(tagMask))
		}
	}
}

// TestEntry_TargetUpdatesOnceConfidenceBottomsOut drives a single table 0
// slot directly (provider == 0, so Update can never trigger a further
// allocation) instead of going through repeated Predict/Update cycles,
// which would make the outcome depend on the allocation RNG's bank choice.
func TestEntry_TargetUpdatesOnceConfidenceBottomsOut(t *testing.T) {
	p := New(11)
	p.tables[0][5] = entry{target: 0x1110, tag: 7, c: cInit, u: 0, valid: true}

	sc := scratch{address: 0x9000, provider: 0, alt: NumTables}
	sc.idx[0] = 5
	sc.tg[0] = 7
	sc.providerPred = 0x1110
	sc.altPred = 0 // base, untouched

	for i := 0; i < cMax; i++ {
		p.seq++
		sc.seq = p.seq
		p.pending = true
		pred := Prediction{Target: 0x1110, scratch: sc}
		p.Update(pred, 0x2220)
		if p.tables[0][5].c == 0 {
			break
		}
	}

	assert.Equal(t, uint32(0x2220), p.tables[0][5].target, "once confidence bottoms out, the entry adopts the new target")
}

func TestAllocate_AgesInsteadOfEvictingWhenAllCandidatesUseful(t *testing.T) {
	p := New(5)
	pred := p.Predict(0x5000)
	pred.scratch.provider = 3
	for i := 0; i < 3; i++ {
		p.tables[i][pred.scratch.idx[i]].u = 1
		p.tables[i][pred.scratch.idx[i]].valid = true
	}

	p.allocate(pred.scratch, 0xAAAA)

	for i := 0; i < 3; i++ {
		e := p.tables[i][pred.scratch.idx[i]]
		assert.Equal(t, uint8(0), e.u)
		assert.True(t, e.valid, "aging must not evict an already-allocated entry")
	}
}
