// Package ittage implements ITTAGE, the tagged indirect-branch-target
// predictor: a bimodal base predictor backed by four tagged,
// geometric-history components, sharing its table/hash/allocate shape
// with the conditional-direction predictor in internal/tage but keyed on
// a target address and a confidence counter instead of a taken/not-taken
// saturating counter.
//
// Grounded on internal/tage's structure and original_source/src/ittage.h's
// confidence-counter semantics.
package ittage

import (
	"math/rand"

	"github.com/tagesim/predictor/internal/history"
)

const (
	NumTables       = 4
	EntriesPerTable = 1 << 12 // 4096
	BaseEntries     = 1 << 14 // 16384
	indexBits       = 12

	tagMask = (1 << 9) - 1

	cMax            = 3
	cInit           = 1
	cTakenThreshold = 1 // confidence > this means use the provider, not the alternate

	uMax = 3

	altBetterMax  = 15
	altBetterInit = 8
	altBetterHalf = altBetterMax / 2

	clockResetPeriod = 256 * 1024
)

// HistoryLengths are the geometric history lengths for T0..T3, T0 longest.
// Shares internal/tage's (130,44,15,5) lengths rather than the narrower
// (128,32,8,2) used for indirect targets elsewhere, so both predictors have
// the same table shape. Each predictor still owns its own GHR and PHR.
var HistoryLengths = [NumTables]int{130, 44, 15, 5}

// entry is a tagged-table slot. valid distinguishes a never-allocated slot
// from one legitimately holding tag 0, for the same reason internal/tage
// needs it: a fresh table's zero-value tag would otherwise collide with
// any lookup whose computed tag also happens to be 0.
type entry struct {
	target uint32
	tag    uint16
	c      uint8 // 0..3 confidence
	u      uint8 // 0..3 useful
	valid  bool
}

// scratch carries everything computed by Predict that Update needs.
type scratch struct {
	address      uint32
	idx          [NumTables]uint32
	tg           [NumTables]uint16
	provider     int // NumTables means "no provider"
	alt          int // NumTables means "no alternate"
	providerPred uint32
	altPred      uint32
	seq          uint64
}

// Prediction is the handle returned by Predict and required by Update.
type Prediction struct {
	Target uint32

	scratch scratch
}

// Predictor is a single ITTAGE indirect-target predictor. All state is
// owned exclusively by the Predictor; callers must not mutate it.
type Predictor struct {
	base [BaseEntries]uint32

	tables [NumTables][EntriesPerTable]entry

	idxFold [NumTables]history.FoldedHistory
	tagFold [2][NumTables]history.FoldedHistory

	ghr history.GHR
	phr uint32 // 16 bits

	altBetterCount uint8 // 0..15
	clock          uint32
	clockFlip      uint8

	rng *rand.Rand

	seq     uint64
	pending bool
}

// New constructs an ITTAGE predictor with an empty base table and empty
// tagged tables. seed deterministically seeds the allocation-bank RNG,
// owned exclusively by the Predictor and never reseeded on the hot path.
func New(seed uint64) *Predictor {
	p := &Predictor{
		altBetterCount: altBetterInit,
		clockFlip:      1,
		rng:            rand.New(rand.NewSource(int64(seed))),
	}
	for i := 0; i < NumTables; i++ {
		p.idxFold[i] = history.NewFoldedHistory(HistoryLengths[i], indexBits)
		p.tagFold[0][i] = history.NewFoldedHistory(HistoryLengths[i], 9)
		p.tagFold[1][i] = history.NewFoldedHistory(HistoryLengths[i], 8)
	}
	return p
}

func satInc(v, max uint8) uint8 {
	if v < max {
		return v + 1
	}
	return v
}

func satDec(v uint8) uint8 {
	if v > 0 {
		return v - 1
	}
	return v
}

// Predict emits a target prediction for an indirect branch at address.
// Callers must call Update with the returned Prediction before calling
// Predict again.
func (p *Predictor) Predict(address uint32) Prediction {
	var sc scratch
	sc.address = address
	p.seq++
	sc.seq = p.seq
	p.pending = true

	baseIdx := address % BaseEntries
	baseTarget := p.base[baseIdx]

	for i := 0; i < NumTables; i++ {
		tg := address ^ p.tagFold[0][i].CompHist ^ (p.tagFold[1][i].CompHist << 1)
		sc.tg[i] = uint16(tg & tagMask)
	}

	sc.idx[0] = address ^ (address >> indexBits) ^ p.idxFold[0].CompHist ^ p.phr ^ (p.phr >> indexBits)
	sc.idx[1] = address ^ (address >> (indexBits - 1)) ^ p.idxFold[1].CompHist ^ p.phr
	sc.idx[2] = address ^ (address >> (indexBits - 2)) ^ p.idxFold[2].CompHist ^ (p.phr & 31)
	sc.idx[3] = address ^ (address >> (indexBits - 3)) ^ p.idxFold[3].CompHist ^ (p.phr & 7)
	for i := range sc.idx {
		sc.idx[i] &= EntriesPerTable - 1
	}

	sc.provider = NumTables
	for i := 0; i < NumTables; i++ {
		e := &p.tables[i][sc.idx[i]]
		if e.valid && e.tag == sc.tg[i] {
			sc.provider = i
			break
		}
	}

	sc.alt = NumTables
	for i := sc.provider + 1; i < NumTables; i++ {
		e := &p.tables[i][sc.idx[i]]
		if e.valid && e.tag == sc.tg[i] {
			sc.alt = i
			break
		}
	}

	var target uint32
	if sc.provider == NumTables {
		sc.altPred = baseTarget
		target = baseTarget
	} else {
		if sc.alt == NumTables {
			sc.altPred = baseTarget
		} else {
			sc.altPred = p.tables[sc.alt][sc.idx[sc.alt]].target
		}

		pe := &p.tables[sc.provider][sc.idx[sc.provider]]
		sc.providerPred = pe.target

		if pe.c > cTakenThreshold || p.altBetterCount <= altBetterHalf {
			target = sc.providerPred
		} else {
			target = sc.altPred
		}
	}

	return Prediction{Target: target, scratch: sc}
}

// Update applies the outcome of the branch for which pred was produced by
// the immediately preceding Predict call.
func (p *Predictor) Update(pred Prediction, target uint32) {
	if !p.pending || pred.scratch.seq != p.seq {
		panic("ittage: Update called without a matching immediately-preceding Predict")
	}
	p.pending = false

	sc := pred.scratch
	mispredicted := pred.Target != target

	if sc.provider < NumTables {
		pe := &p.tables[sc.provider][sc.idx[sc.provider]]

		if pred.Target != sc.altPred {
			if pred.Target == target {
				pe.u = satInc(pe.u, uMax)
			} else {
				pe.u = satDec(pe.u)
			}
		}

		if !mispredicted {
			pe.c = satInc(pe.c, cMax)
		} else {
			pe.c = satDec(pe.c)
			if pe.c == 0 {
				pe.target = target
			}
		}

		if pe.u == 0 {
			if sc.providerPred != sc.altPred {
				if sc.altPred == target {
					if p.altBetterCount < altBetterMax {
						p.altBetterCount++
					}
				} else if sc.providerPred == target && p.altBetterCount > 0 {
					p.altBetterCount--
				}
			}
		}
	} else {
		baseIdx := sc.address % BaseEntries
		p.base[baseIdx] = target
	}

	if mispredicted && sc.provider > 0 {
		p.allocate(sc, target)
	}

	p.clock++
	if p.clock == clockResetPeriod {
		p.clock = 0
		if p.clockFlip == 1 {
			p.clockFlip = 0
		} else {
			p.clockFlip = 1
		}
		mask := uint8(0b10)
		if p.clockFlip == 1 {
			mask = 0b01
		}
		for t := 0; t < NumTables; t++ {
			for i := range p.tables[t] {
				p.tables[t][i].u &= mask
			}
		}
	}

	ghrBit := target & 1
	p.ghr.Shift(ghrBit)
	for i := 0; i < NumTables; i++ {
		p.idxFold[i].Update(&p.ghr)
		p.tagFold[0][i].Update(&p.ghr)
		p.tagFold[1][i].Update(&p.ghr)
	}

	p.phr <<= 1
	p.phr |= sc.address & 1
	p.phr &= (1 << 16) - 1
}

// allocate scans the tables longer than the provider's history for a
// useless (u==0) slot to reclaim; if none exists, it ages every table in
// that range instead; otherwise it picks a slot via the 2/3-longest
// probabilistic rule and installs a fresh entry there.
//
// sc.provider may be NumTables (no provider at all, prediction fell back
// to the base predictor), in which case all NumTables tables are in
// range, so useless must hold up to NumTables candidates, not NumTables-1.
func (p *Predictor) allocate(sc scratch, target uint32) {
	var useless [NumTables]int
	count := 0
	for i := 0; i < sc.provider; i++ {
		if p.tables[i][sc.idx[i]].u == 0 {
			useless[count] = i
			count++
		}
	}

	if count == 0 {
		for i := sc.provider - 1; i >= 0; i-- {
			p.tables[i][sc.idx[i]].u = satDec(p.tables[i][sc.idx[i]].u)
		}
		return
	}

	var bank int
	if count == 1 {
		bank = useless[0]
	} else {
		r := p.rng.Intn(100)
		if r < 67 {
			bank = useless[0]
		} else {
			bank = useless[1]
		}
	}

	for i := bank; i >= 0; i-- {
		if p.tables[i][sc.idx[i]].u == 0 {
			p.tables[i][sc.idx[i]] = entry{target: target, tag: sc.tg[i], c: cInit, u: 0, valid: true}
			break
		}
	}
}
