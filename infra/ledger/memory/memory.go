// Package memory provides an in-process ledger with the same contract
// semantics as the settlement contract. It backs tests and the ledger host
// served over MQTT.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/model"
)

// Op names a ledger operation for failure injection and call counting.
type Op string

const (
	OpRegister Op = "register"
	OpRevise   Op = "revise"
	OpCancel   Op = "cancel"
	OpRequest  Op = "request"
	OpProvide  Op = "provide"
	OpEnd      Op = "end"
	OpFunds    Op = "funds"
)

type request struct {
	stop     int64
	target   float64
	ended    bool
	provided map[model.Address]float64
	records  []model.SettlementRecord
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	seq        uint64
	agreements map[model.Address]model.Agreement
	balances   map[model.Address]float64
	requests   map[int64]*request
	subs       map[*ledger.Stream]struct{}
	failures   map[Op]error
	calls      map[Op]int
	closed     bool
	log        logger.Logger
}

var _ ledger.Ledger = (*Ledger)(nil)

// New returns an empty ledger.
func New(log logger.Logger) *Ledger {
	return &Ledger{
		agreements: map[model.Address]model.Agreement{},
		balances:   map[model.Address]float64{},
		requests:   map[int64]*request{},
		subs:       map[*ledger.Stream]struct{}{},
		failures:   map[Op]error{},
		calls:      map[Op]int{},
		log:        logger.OrNop(log),
	}
}

// Fail makes every call of op return err until cleared with a nil err.
func (l *Ledger) Fail(op Op, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, op)
		return
	}
	l.failures[op] = err
}

// Calls returns how many times op was invoked.
func (l *Ledger) Calls(op Op) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// begin locks the ledger and applies failure injection. On success the
// caller owns the lock.
func (l *Ledger) begin(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.calls[op]++
	if l.closed {
		l.mu.Unlock()
		return ledger.ErrClosed
	}
	if err := l.failures[op]; err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

// emit assigns the next sequence number and fans e out. Caller holds mu.
func (l *Ledger) emit(e ledger.Event) ledger.Receipt {
	l.seq++
	e.Seq = l.seq
	for s := range l.subs {
		s.Push(e)
	}
	l.log.Debugf("event %s seq=%d device=%s", e.Kind, e.Seq, e.Device)
	return ledger.Receipt{TxID: uuid.NewString(), Seq: e.Seq}
}

func (l *Ledger) RegisterAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpRegister); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	if a.Value <= 0 {
		return ledger.Receipt{}, ledger.ErrZeroValue
	}
	if _, ok := l.agreements[addr]; ok {
		return ledger.Receipt{}, fmt.Errorf("%s: %w", addr, ledger.ErrAgreementExists)
	}
	l.agreements[addr] = a
	return l.emit(ledger.Event{Kind: ledger.AgreementRegistered, Device: addr, Agreement: a}), nil
}

func (l *Ledger) ReviseAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpRevise); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	prev, ok := l.agreements[addr]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("%s: %w", addr, ledger.ErrAgreementNotFound)
	}
	if a.Value <= 0 {
		return ledger.Receipt{}, ledger.ErrZeroValue
	}
	l.agreements[addr] = a
	return l.emit(ledger.Event{Kind: ledger.AgreementRevised, Device: addr, Agreement: a, Previous: &prev}), nil
}

func (l *Ledger) CancelAgreement(ctx context.Context, addr model.Address) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpCancel); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	a, ok := l.agreements[addr]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("%s: %w", addr, ledger.ErrAgreementNotFound)
	}
	delete(l.agreements, addr)
	return l.emit(ledger.Event{Kind: ledger.AgreementCancelled, Device: addr, Agreement: a}), nil
}

func (l *Ledger) RequestFlexibility(ctx context.Context, start, stop int64, target float64) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpRequest); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	l.requests[start] = &request{stop: stop, target: target, provided: map[model.Address]float64{}}
	return l.emit(ledger.Event{Kind: ledger.RequestFlexibility, Start: start, Stop: stop, Target: target}), nil
}

func (l *Ledger) ProvideFlexibilityFair(ctx context.Context, addr model.Address, start int64, value float64) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpProvide); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	req, ok := l.requests[start]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("start %d: %w", start, ledger.ErrRequestNotFound)
	}
	if _, ok := l.agreements[addr]; !ok {
		return ledger.Receipt{}, fmt.Errorf("%s: %w", addr, ledger.ErrAgreementNotFound)
	}
	req.provided[addr] = value
	return l.emit(ledger.Event{Kind: ledger.FlexibilityProvided, Device: addr, Start: start, Value: value}), nil
}

func (l *Ledger) EndFlexibilityRequest(ctx context.Context, start int64, records []model.SettlementRecord) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpEnd); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	req, ok := l.requests[start]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("start %d: %w", start, ledger.ErrRequestNotFound)
	}
	req.ended = true
	req.records = append(req.records, records...)
	recs := append([]model.SettlementRecord(nil), records...)
	return l.emit(ledger.Event{Kind: ledger.EndRequestFlexibility, Start: start, Stop: req.stop, Target: req.target, Records: recs}), nil
}

func (l *Ledger) SendFunds(ctx context.Context, addrs []model.Address, amount float64) (ledger.Receipt, error) {
	if err := l.begin(ctx, OpFunds); err != nil {
		return ledger.Receipt{}, err
	}
	defer l.mu.Unlock()
	for _, a := range addrs {
		l.balances[a] += amount
	}
	return l.emit(ledger.Event{Kind: ledger.FundsSent, Value: amount * float64(len(addrs))}), nil
}

// Subscribe streams future events of the given kinds.
func (l *Ledger) Subscribe(ctx context.Context, kinds ...ledger.EventKind) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ledger.ErrClosed
	}
	var s *ledger.Stream
	s = ledger.NewStream(func() {
		l.mu.Lock()
		delete(l.subs, s)
		l.mu.Unlock()
	}, kinds...)
	l.subs[s] = struct{}{}
	return s, nil
}

func (l *Ledger) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, nil
}

// Agreement returns the agreement registered for addr.
func (l *Ledger) Agreement(addr model.Address) (model.Agreement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agreements[addr]
	return a, ok
}

// Balance returns the funds sent to addr.
func (l *Ledger) Balance(addr model.Address) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Settlement returns the records received for the request starting at start
// and the values provided by devices.
func (l *Ledger) Settlement(start int64) ([]model.SettlementRecord, map[model.Address]float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[start]
	if !ok {
		return nil, nil, false
	}
	provided := make(map[model.Address]float64, len(req.provided))
	for k, v := range req.provided {
		provided[k] = v
	}
	return append([]model.SettlementRecord(nil), req.records...), provided, req.ended
}

// Close rejects further calls and closes every subscription.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make([]*ledger.Stream, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}
