package health

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Report is the serializable form of a CheckAll run.
type Report struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckReport `json:"checks"`
}

// CheckReport is the serializable form of one Result.
type CheckReport struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Report runs every checker and summarizes the results.
func (a *Aggregator) Report(ctx context.Context) Report {
	results := a.CheckAll(ctx)
	rep := Report{
		Status:    Overall(results).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckReport, len(results)),
	}
	for name, r := range results {
		cr := CheckReport{
			Status:   r.Status.String(),
			Message:  r.Message,
			Duration: r.Duration.Round(time.Microsecond).String(),
			Details:  r.Details,
		}
		if r.Error != nil {
			cr.Error = r.Error.Error()
		}
		rep.Checks[name] = cr
	}
	return rep
}

// Healthy reports whether the overall status is not unhealthy.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy.String()
}

// WriteJSON writes r as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
