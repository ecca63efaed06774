// Package ledger defines the client contract of the settlement ledger. The
// ledger is an external store reached through calls that return a receipt
// once confirmed, and a stream of sequenced events.
package ledger

import (
	"context"

	"github.com/kilianp07/flexsim/core/model"
)

// EventKind names a ledger event.
type EventKind string

const (
	AgreementRegistered   EventKind = "agreement_registered"
	AgreementRevised      EventKind = "agreement_revised"
	AgreementCancelled    EventKind = "agreement_cancelled"
	RequestFlexibility    EventKind = "request_flexibility"
	EndRequestFlexibility EventKind = "end_request_flexibility"
	FlexibilityProvided   EventKind = "flexibility_provided"
	FundsSent             EventKind = "funds_sent"
)

// AgreementKinds are the events that change the baseline.
var AgreementKinds = []EventKind{AgreementRegistered, AgreementRevised, AgreementCancelled}

// Event is emitted by the ledger. Seq increases monotonically.
type Event struct {
	Seq       uint64                   `json:"seq"`
	Kind      EventKind                `json:"kind"`
	Device    model.Address            `json:"device,omitempty"`
	Agreement model.Agreement          `json:"agreement"`
	Previous  *model.Agreement         `json:"previous,omitempty"`
	Start     int64                    `json:"start,omitempty"`
	Stop      int64                    `json:"stop,omitempty"`
	Target    float64                  `json:"target,omitempty"`
	Value     float64                  `json:"value,omitempty"`
	Records   []model.SettlementRecord `json:"records,omitempty"`
}

// Receipt confirms a submitted operation.
type Receipt struct {
	TxID string `json:"tx_id"`
	Seq  uint64 `json:"seq"`
}

// Subscription delivers events until closed. Close is idempotent.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Ledger is the client side of the settlement contract. Every call blocks
// until the operation is confirmed or rejected.
type Ledger interface {
	RegisterAgreement(ctx context.Context, addr model.Address, a model.Agreement) (Receipt, error)
	ReviseAgreement(ctx context.Context, addr model.Address, a model.Agreement) (Receipt, error)
	CancelAgreement(ctx context.Context, addr model.Address) (Receipt, error)
	RequestFlexibility(ctx context.Context, start, stop int64, target float64) (Receipt, error)
	ProvideFlexibilityFair(ctx context.Context, addr model.Address, start int64, value float64) (Receipt, error)
	EndFlexibilityRequest(ctx context.Context, start int64, records []model.SettlementRecord) (Receipt, error)
	SendFunds(ctx context.Context, addrs []model.Address, amount float64) (Receipt, error)
	// Subscribe streams events of the given kinds, all kinds when empty.
	Subscribe(ctx context.Context, kinds ...EventKind) (Subscription, error)
	// LastSequence returns the sequence number of the latest event.
	LastSequence(ctx context.Context) (uint64, error)
}

// Matches reports whether kind is selected by kinds.
func Matches(kinds []EventKind, kind EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
