// Package tage implements the TAGE conditional-direction predictor: a
// bimodal base predictor backed by four tagged, geometric-history
// components, following Seznec & Michaud's PPM/TAGE design.
//
// Grounded on proto/tage's table/hash/allocate shape, re-specified to the
// canonical geometric lengths (130,44,15,5), 9-bit tags, 12-bit tagged
// index, 14-bit base index, and the provider/alternate arbitration rule
// from original_source/src/tage.h, with that file's always-true weak-entry
// test replaced by u == 0 && ctr ∈ {3,4}.
package tage

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

	baseCtrMax  = 3
	baseCtrInit = 2

	ctrMax            = 7
	ctrTakenThreshold = 4

	uMax = 3

	altBetterMax  = 15
	altBetterInit = 8

	clockResetPeriod = 256 * 1024
)

// HistoryLengths are the geometric history lengths for T0..T3, T0 longest.
var HistoryLengths = [NumTables]int{130, 44, 15, 5}

// entry is a tagged-table slot. valid distinguishes a never-allocated slot
// from one legitimately holding tag 0: without it, a fresh table's
// zero-value tag would collide with any lookup whose computed tag also
// happens to be 0, letting an untouched slot masquerade as a provider on
// the very first lookup. proto/tage/tage.go guards the same way with a
// table-wide ValidBits bitmap; a per-entry bool is the same guarantee
// without the bitmap bookkeeping.
type entry struct {
	ctr   uint8 // 0..7, >=4 means predict taken
	tag   uint16
	u     uint8 // 0..3
	valid bool
}

// scratch carries everything computed by Predict that Update needs, so
// Update never recomputes a hash from state that has already advanced.
type scratch struct {
	address      uint32
	idx          [NumTables]uint32
	tg           [NumTables]uint16
	provider     int // NumTables means "no provider"
	alt          int // NumTables means "no alternate"
	providerPred bool
	altPred      bool
	seq          uint64
}

// Prediction is the handle returned by Predict and required by Update.
type Prediction struct {
	Direction bool

	scratch scratch
}

// Predictor is a single TAGE conditional-direction predictor. All state is
// owned exclusively by the Predictor; callers must not mutate it.
type Predictor struct {
	base [BaseEntries]uint8

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

// New constructs a TAGE predictor with a fresh base table and empty tagged
// tables. seed deterministically seeds the allocation-bank RNG: it is
// owned exclusively by the Predictor and seeded once here, never reseeded
// from wall-clock time on the hot path.
func New(seed uint64) *Predictor {
	p := &Predictor{
		altBetterCount: altBetterInit,
		clockFlip:      1,
		rng:            rand.New(rand.NewSource(int64(seed))),
	}
	for i := range p.base {
		p.base[i] = baseCtrInit
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

// Predict emits a direction prediction for a conditional branch at
// address. Callers must call Update with the returned Prediction before
// calling Predict again.
func (p *Predictor) Predict(address uint32) Prediction {
	var sc scratch
	sc.address = address
	p.seq++
	sc.seq = p.seq
	p.pending = true

	baseIdx := address % BaseEntries
	basePred := p.base[baseIdx] > baseCtrMax/2

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

	var direction bool
	if sc.provider == NumTables {
		sc.altPred = basePred
		direction = basePred
	} else {
		if sc.alt == NumTables {
			sc.altPred = basePred
		} else {
			sc.altPred = p.tables[sc.alt][sc.idx[sc.alt]].ctr >= ctrTakenThreshold
		}

		pe := &p.tables[sc.provider][sc.idx[sc.provider]]
		sc.providerPred = pe.ctr >= ctrTakenThreshold

		useNewWeak := pe.u == 0 && (pe.ctr == 3 || pe.ctr == 4) && p.altBetterCount > 8
		if useNewWeak {
			direction = sc.altPred
		} else {
			direction = sc.providerPred
		}
	}

	return Prediction{Direction: direction, scratch: sc}
}

// Update applies the outcome of the branch for which pred was produced by
// the immediately preceding Predict call.
func (p *Predictor) Update(pred Prediction, taken bool) {
	if !p.pending || pred.scratch.seq != p.seq {
		panic("tage: Update called without a matching immediately-preceding Predict")
	}
	p.pending = false

	sc := pred.scratch
	newEntry := false

	if sc.provider < NumTables {
		pe := &p.tables[sc.provider][sc.idx[sc.provider]]

		if pred.Direction != sc.altPred {
			if pred.Direction == taken {
				pe.u = satInc(pe.u, uMax)
			} else {
				pe.u = satDec(pe.u)
			}
		}

		if taken {
			pe.ctr = satInc(pe.ctr, ctrMax)
		} else {
			pe.ctr = satDec(pe.ctr)
		}

		newEntry = pe.u == 0 && (pe.ctr == 3 || pe.ctr == 4)
		if newEntry {
			if sc.providerPred != sc.altPred {
				if sc.altPred == taken {
					if p.altBetterCount < altBetterMax {
						p.altBetterCount++
					}
				} else if p.altBetterCount > 0 {
					p.altBetterCount--
				}
			}
		}
	} else {
		baseIdx := sc.address % BaseEntries
		if taken {
			p.base[baseIdx] = satInc(p.base[baseIdx], baseCtrMax)
		} else {
			p.base[baseIdx] = satDec(p.base[baseIdx])
		}
	}

	mispredicted := pred.Direction != taken
	if (!newEntry || (newEntry && sc.providerPred != taken)) && mispredicted && sc.provider > 0 {
		p.allocate(sc, taken)
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

	ghrBit := uint32(0)
	if taken {
		ghrBit = 1
	}
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
func (p *Predictor) allocate(sc scratch, taken bool) {
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
		// useless is ordered by ascending table index, i.e. descending
		// history length: useless[0] is the longest-history candidate,
		// useless[1] the next-longest. Prefer the longer history 2/3 of
		// the time.
		r := p.rng.Intn(100)
		if r < 67 {
			bank = useless[0]
		} else {
			bank = useless[1]
		}
	}

	for i := bank; i >= 0; i-- {
		if p.tables[i][sc.idx[i]].u == 0 {
			var ctr uint8 = 3
			if taken {
				ctr = 4
			}
			p.tables[i][sc.idx[i]] = entry{ctr: ctr, tag: sc.tg[i], u: 0, valid: true}
			break
		}
	}
}
