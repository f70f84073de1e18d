package api

import (
	"encoding/json"
	"math"

	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// ParamsJSON is the wire form of superquadric.Params. Non-finite values
// are null because JSON has no NaN.
type ParamsJSON struct {
	A1    *float64 `json:"a1"`
	A2    *float64 `json:"a2"`
	A3    *float64 `json:"a3"`
	E1    *float64 `json:"e1"`
	E2    *float64 `json:"e2"`
	PX    *float64 `json:"px"`
	PY    *float64 `json:"py"`
	PZ    *float64 `json:"pz"`
	Roll  *float64 `json:"roll"`
	Pitch *float64 `json:"pitch"`
	Yaw   *float64 `json:"yaw"`
}

// RunJSON is the wire form of storage.FitRun.
type RunJSON struct {
	RunID        string          `json:"run_id"`
	Source       string          `json:"source"`
	Points       int             `json:"points"`
	Initial      ParamsJSON      `json:"initial"`
	Final        ParamsJSON      `json:"final"`
	Converged    bool            `json:"converged"`
	Iterations   int             `json:"iterations"`
	FinalStep    *float64        `json:"final_step"`
	MeanResidual *float64        `json:"mean_residual"`
	Skipped      int             `json:"skipped"`
	Config       json.RawMessage `json:"config,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// IterationJSON is the wire form of storage.IterationRecord.
type IterationJSON struct {
	Iteration int        `json:"iteration"`
	Step      *float64   `json:"step"`
	Cond      *float64   `json:"cond"`
	Skipped   int        `json:"skipped"`
	Params    ParamsJSON `json:"params"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NewParamsJSON converts p for encoding.
func NewParamsJSON(p superquadric.Params) ParamsJSON {
	return ParamsJSON{
		A1: finite(p.A1), A2: finite(p.A2), A3: finite(p.A3),
		E1: finite(p.E1), E2: finite(p.E2),
		PX: finite(p.PX), PY: finite(p.PY), PZ: finite(p.PZ),
		Roll: finite(p.Roll), Pitch: finite(p.Pitch), Yaw: finite(p.Yaw),
	}
}

// NewRunJSON converts run for encoding.
func NewRunJSON(run *storage.FitRun) RunJSON {
	return RunJSON{
		RunID:        run.RunID,
		Source:       run.Source,
		Points:       run.Points,
		Initial:      NewParamsJSON(run.Initial),
		Final:        NewParamsJSON(run.Final),
		Converged:    run.Converged,
		Iterations:   run.Iterations,
		FinalStep:    finite(run.FinalStep),
		MeanResidual: finite(run.MeanResidual),
		Skipped:      run.Skipped,
		Config:       run.ConfigJSON,
		CreatedAt:    run.CreatedAt,
	}
}

// NewIterationJSON converts it for encoding. An infinite condition number
// (singular system) is null.
func NewIterationJSON(it storage.IterationRecord) IterationJSON {
	return IterationJSON{
		Iteration: it.Iteration,
		Step:      finite(it.Step),
		Cond:      finite(it.Cond),
		Skipped:   it.Skipped,
		Params:    NewParamsJSON(it.Params),
	}
}
