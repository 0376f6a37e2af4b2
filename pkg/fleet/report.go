package fleet

import (
	"time"

	"github.com/a2cb/cbhv/pkg/box"
)

// Report is the outcome of one run.
type Report struct {
	RunID string   `json:"runId"`
	Mode  box.Mode `json:"mode"`
	// Results are ordered like the requested boxes.
	Results []box.Result `json:"results"`
	// Skipped lists the boxes that were never started because the run was
	// canceled.
	Skipped []int         `json:"skipped,omitempty"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	OK      int `json:"ok"`
	Partial int `json:"partial"`
	Dead    int `json:"dead"`
}

func (r *Report) add(res box.Result) {
	r.Results = append(r.Results, res)
	switch res.Overall {
	case box.OverallOK:
		r.OK++
	case box.OverallPartial:
		r.Partial++
	default:
		r.Dead++
	}
}

// Result returns the result of box index.
func (r *Report) Result(index int) (box.Result, bool) {
	for _, res := range r.Results {
		if res.Box.Index == index {
			return res, true
		}
	}
	return box.Result{}, false
}

// DeadHosts returns the hosts of all dead boxes in report order.
func (r *Report) DeadHosts() []string {
	var hosts []string
	for _, res := range r.Results {
		if res.Overall == box.OverallDead {
			hosts = append(hosts, res.Box.Host)
		}
	}
	return hosts
}
