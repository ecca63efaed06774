package aggregator

import (
	"context"
	"time"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/model"
)

// instrumented records the latency and outcome of every submission.
type instrumented struct {
	ledger.Ledger
	sink metrics.MetricsSink
	log  logger.Logger
}

// Instrument wraps l so that submissions are reported to sink.
func Instrument(l ledger.Ledger, sink metrics.MetricsSink, log logger.Logger) ledger.Ledger {
	if sink == nil {
		return l
	}
	return &instrumented{Ledger: l, sink: sink, log: logger.OrNop(log)}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	ev := metrics.LedgerCallEvent{Op: op, Failed: err != nil, Latency: time.Since(start), Time: time.Now()}
	if rerr := metrics.RecordLedgerCall(i.sink, ev); rerr != nil {
		i.log.Errorf("ledger call metrics error: %v", rerr)
	}
}

func (i *instrumented) RegisterAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	start := time.Now()
	rc, err := i.Ledger.RegisterAgreement(ctx, addr, a)
	i.observe("register", start, err)
	return rc, err
}

func (i *instrumented) ReviseAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	start := time.Now()
	rc, err := i.Ledger.ReviseAgreement(ctx, addr, a)
	i.observe("revise", start, err)
	return rc, err
}

func (i *instrumented) CancelAgreement(ctx context.Context, addr model.Address) (ledger.Receipt, error) {
	start := time.Now()
	rc, err := i.Ledger.CancelAgreement(ctx, addr)
	i.observe("cancel", start, err)
	return rc, err
}

func (i *instrumented) RequestFlexibility(ctx context.Context, start, stop int64, target float64) (ledger.Receipt, error) {
	t := time.Now()
	rc, err := i.Ledger.RequestFlexibility(ctx, start, stop, target)
	i.observe("request", t, err)
	return rc, err
}

func (i *instrumented) ProvideFlexibilityFair(ctx context.Context, addr model.Address, start int64, value float64) (ledger.Receipt, error) {
	t := time.Now()
	rc, err := i.Ledger.ProvideFlexibilityFair(ctx, addr, start, value)
	i.observe("provide", t, err)
	return rc, err
}

func (i *instrumented) EndFlexibilityRequest(ctx context.Context, start int64, records []model.SettlementRecord) (ledger.Receipt, error) {
	t := time.Now()
	rc, err := i.Ledger.EndFlexibilityRequest(ctx, start, records)
	i.observe("end", t, err)
	return rc, err
}

func (i *instrumented) SendFunds(ctx context.Context, addrs []model.Address, amount float64) (ledger.Receipt, error) {
	start := time.Now()
	rc, err := i.Ledger.SendFunds(ctx, addrs, amount)
	i.observe("funds", start, err)
	return rc, err
}
