package server

import (
	"encoding/json"
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/flconfig"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	return d.Decode(i)
}

// StartFlRequest is a run configuration. Omitted fields keep their defaults.
type StartFlRequest struct {
	flconfig.FlConfiguration
	// RoundSchedule is a cron spec such as "@every 2s"; empty runs rounds back-to-back.
	RoundSchedule string `json:"roundSchedule"`
	// InitFrom is a checkpoint whose weights seed round 0.
	InitFrom string `json:"initFrom"`
}

func newStartFlRequest() *StartFlRequest {
	return &StartFlRequest{FlConfiguration: flconfig.Defaults()}
}

type StartFlResponse struct {
	RunId string `json:"runId"`
}

type RunStatus struct {
	RunId       string               `json:"runId"`
	State       string               `json:"state"`
	Round       int                  `json:"round"`
	Loss        *float64             `json:"loss,omitempty"`
	CurrentCost float64              `json:"currentCost"`
	StopReason  string               `json:"stopReason,omitempty"`
	Reports     []florch.RoundReport `json:"reports"`
	Error       string               `json:"error,omitempty"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
