// Package reportlog keeps the history of scored flexibility events together
// with the settlement records handed to the ledger.
package reportlog

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/flexsim/core/model"
)

// Entry captures one finalized flexibility event.
type Entry struct {
	Report  model.Report             `json:"report"`
	Records []model.SettlementRecord `json:"records"`
	// Settled is true once every settlement chunk was accepted.
	Settled  bool      `json:"settled"`
	Error    string    `json:"error,omitempty"`
	Recorded time.Time `json:"recorded"`
}

// Query filters entries. Zero fields match everything. From and To bound
// the report start in virtual seconds, both inclusive.
type Query struct {
	From    int64
	To      int64
	Success *bool
	Device  model.Address
	// Limit keeps only the most recent matches.
	Limit int
}

// Match reports whether e satisfies the filters of q.
func (q Query) Match(e Entry) bool {
	if q.From != 0 && e.Report.Start < q.From {
		return false
	}
	if q.To != 0 && e.Report.Start > q.To {
		return false
	}
	if q.Success != nil && e.Report.Success != *q.Success {
		return false
	}
	if q.Device != "" {
		for _, r := range e.Records {
			if r.Device == q.Device {
				return true
			}
		}
		return false
	}
	return true
}

// apply filters entries, orders them by report start and enforces Limit.
func (q Query) apply(entries []Entry) []Entry {
	var res []Entry
	for _, e := range entries {
		if q.Match(e) {
			res = append(res, e)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Report.Start < res[j].Report.Start })
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[len(res)-q.Limit:]
	}
	return res
}

// Store persists entries and supports querying.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}
