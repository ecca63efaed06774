package mqtt

import (
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
)

// Operations carried in Request.Op.
const (
	opRegister     = "register"
	opRevise       = "revise"
	opCancel       = "cancel"
	opRequest      = "request"
	opProvide      = "provide"
	opEnd          = "end"
	opFunds        = "funds"
	opLastSequence = "last_sequence"
)

// Request is published on <prefix>/requests. The bridge answers on ReplyTo.
type Request struct {
	ID        string                   `json:"id"`
	ReplyTo   string                   `json:"reply_to"`
	Op        string                   `json:"op"`
	Device    model.Address            `json:"device,omitempty"`
	Agreement *model.Agreement         `json:"agreement,omitempty"`
	Start     int64                    `json:"start,omitempty"`
	Stop      int64                    `json:"stop,omitempty"`
	Target    float64                  `json:"target,omitempty"`
	Value     float64                  `json:"value,omitempty"`
	Records   []model.SettlementRecord `json:"records,omitempty"`
	Addresses []model.Address          `json:"addresses,omitempty"`
	Amount    float64                  `json:"amount,omitempty"`
}

// Response answers a Request. Code carries the wire code of known ledger
// errors, Error the message of any failure.
type Response struct {
	ID      string         `json:"id"`
	Receipt ledger.Receipt `json:"receipt"`
	Seq     uint64         `json:"seq,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
}
