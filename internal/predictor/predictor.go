// Package predictor wires the conditional-direction predictor
// (internal/tage) and the indirect-target predictor (internal/ittage)
// together behind a single Predict/Update surface, routing each record to
// the sub-predictor(s) its flags name.
//
// Grounded on SupraX.go's role as the single integration point wiring the
// chip's sub-units together; here that wiring composes TAGE and ITTAGE
// instead of an ALU and an out-of-order scheduler.
package predictor

import (
	"github.com/tagesim/predictor/internal/ittage"
	"github.com/tagesim/predictor/internal/tage"
)

// Flags marks which sub-predictor(s) a Record exercises.
type Flags uint8

const (
	Conditional Flags = 1 << iota
	Indirect
)

// Record is one branch event: its address and which predictor(s) apply.
type Record struct {
	Address uint32
	Flags   Flags
}

// Prediction is the handle returned by Predict and required by Update.
// Direction and Target are only meaningful for records whose Flags
// requested the matching sub-predictor; otherwise Direction is true and
// Target is 0, and the caller must ignore them.
type Prediction struct {
	Direction bool
	Target    uint32

	flags      Flags
	tagePred   tage.Prediction
	ittagePred ittage.Prediction
}

// Predictor composes one TAGE conditional-direction predictor and one
// ITTAGE indirect-target predictor. The two never share GHR or path
// history; each owns its own per spec.
type Predictor struct {
	tage   *tage.Predictor
	ittage *ittage.Predictor
}

// New constructs a Predictor with both sub-predictors seeded from seed.
// Both receive the same seed but own separate RNGs, so draws made by one
// never advance the other's sequence.
func New(seed uint64) *Predictor {
	return &Predictor{
		tage:   tage.New(seed),
		ittage: ittage.New(seed),
	}
}

// Predict emits a prediction for r. A record with both Conditional and
// Indirect set queries both sub-predictors independently. Non-conditional
// records default to Direction true (taken), matching the convention
// every other non-conditional branch follows.
func (p *Predictor) Predict(r Record) Prediction {
	pred := Prediction{flags: r.Flags, Direction: true}

	if r.Flags&Conditional != 0 {
		pred.tagePred = p.tage.Predict(r.Address)
		pred.Direction = pred.tagePred.Direction
	}
	if r.Flags&Indirect != 0 {
		pred.ittagePred = p.ittage.Predict(r.Address)
		pred.Target = pred.ittagePred.Target
	}

	return pred
}

// Update applies the observed outcome(s) of the record for which pred was
// produced by the immediately preceding Predict call. actualTaken is
// consulted only if pred carries a conditional component; actualTarget
// only if it carries an indirect component.
func (p *Predictor) Update(pred Prediction, actualTaken bool, actualTarget uint32) {
	if pred.flags&Conditional != 0 {
		p.tage.Update(pred.tagePred, actualTaken)
	}
	if pred.flags&Indirect != 0 {
		p.ittage.Update(pred.ittagePred, actualTarget)
	}
}
