package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/francescomaiomascio/yai/pkg/canonicalize"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// Mismatch describes one archived row that failed replay.
type Mismatch struct {
	Seq     int64  `json:"seq"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// Report is the outcome of replaying one archived run.
type Report struct {
	RunID      string     `json:"run_id"`
	Events     int        `json:"events"`
	Verified   int        `json:"verified"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether every row replayed cleanly.
func (r Report) OK() bool { return r.Events > 0 && len(r.Mismatches) == 0 }

// VerifyRun recomputes every integrity hash of runID and checks that
// timestamps never regress and parents precede their children.
func VerifyRun(ctx context.Context, a *SQLArchive, runID string) (Report, error) {
	rows, err := a.RunRows(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	if len(rows) == 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	report := Report{RunID: runID, Events: len(rows)}
	known := make(kernel.IDSet, len(rows))
	var last time.Time
	for _, r := range rows {
		e, err := kernel.FromRecord(r.Record)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{Seq: r.Seq, EventID: r.Record.EventID, Reason: err.Error()})
			continue
		}
		clean := true
		if !last.IsZero() && e.Timestamp().Before(last) {
			report.Mismatches = append(report.Mismatches, Mismatch{Seq: r.Seq, EventID: e.ID(), Reason: "timestamp regresses"})
			clean = false
		}
		for _, ref := range e.Causality() {
			if ref.Kind == kernel.RefParent && !known.Has(ref.EventID) {
				report.Mismatches = append(report.Mismatches, Mismatch{Seq: r.Seq, EventID: e.ID(), Reason: "parent " + ref.EventID + " not archived before child"})
				clean = false
			}
		}
		known[e.ID()] = struct{}{}
		if e.Timestamp().After(last) {
			last = e.Timestamp()
		}
		if clean {
			report.Verified++
		}
	}
	return report, nil
}

// Bundle is a self-describing export of one run.
type Bundle struct {
	RunID      string               `json:"run_id"`
	ExportedAt string               `json:"exported_at"`
	Head       string               `json:"head"`
	Events     []kernel.EventRecord `json:"events"`
}

// Export loads runID, verifying every event, and returns its bundle.
func Export(ctx context.Context, a *SQLArchive, runID string, now time.Time) (*Bundle, error) {
	events, err := a.ByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		RunID:      runID,
		ExportedAt: kernel.FormatTimestamp(now),
		Head:       kernel.ChainHead(events),
		Events:     make([]kernel.EventRecord, len(events)),
	}
	for i, e := range events {
		b.Events[i] = e.Record()
	}
	return b, nil
}

// Encode renders the bundle in canonical JSON.
func (b *Bundle) Encode() ([]byte, error) {
	return canonicalize.JCS(b)
}
