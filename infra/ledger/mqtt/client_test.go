package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/infra/ledger/memory"
)

func useBroker(t *testing.T, b *loopback) {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = b.dial()
	t.Cleanup(func() { newMQTTClient = prev })
}

func testConfig() Config {
	return Config{Broker: "tcp://loopback:1883", ClientID: "agg", QoS: 1, Timeout: time.Second, MaxRetries: 2, BackoffMS: 1}
}

func nextEvent(t *testing.T, sub ledger.Subscription) ledger.Event {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
	return ledger.Event{}
}

func startBridge(t *testing.T, b *loopback, backend ledger.Ledger) *Bridge {
	t.Helper()
	cfg := testConfig()
	cfg.ClientID = "host"
	br, err := NewBridge(cfg, backend, nil)
	require.NoError(t, err)
	require.NoError(t, br.Start(context.Background()))
	t.Cleanup(func() { _ = br.Close() })
	require.True(t, b.subscribed(cfg.requestTopic()))
	return br
}

func TestClientThroughBridge(t *testing.T) {
	b := newLoopback()
	useBroker(t, b)
	backend := memory.New(nil)
	startBridge(t, b, backend)

	cli, err := NewClient(testConfig(), nil)
	require.NoError(t, err)
	defer cli.Close()

	ctx := context.Background()
	sub, err := cli.Subscribe(ctx, ledger.AgreementRegistered, ledger.FlexibilityProvided)
	require.NoError(t, err)
	defer sub.Close()

	a := model.Agreement{Value: 100, Flexibility: 20, ValuePrice: 1, FlexibilityPrice: 2}
	rcpt, err := cli.RegisterAgreement(ctx, "dev-1", a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.Seq)
	assert.NotEmpty(t, rcpt.TxID)

	e := nextEvent(t, sub)
	assert.Equal(t, ledger.AgreementRegistered, e.Kind)
	assert.Equal(t, model.Address("dev-1"), e.Device)
	assert.Equal(t, a, e.Agreement)

	_, err = cli.RegisterAgreement(ctx, "dev-1", a)
	assert.ErrorIs(t, err, ledger.ErrAgreementExists)

	seq, err := cli.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	_, err = cli.RequestFlexibility(ctx, 600, 1200, 120)
	require.NoError(t, err)
	_, err = cli.ProvideFlexibilityFair(ctx, "dev-1", 600, 110)
	require.NoError(t, err)
	e = nextEvent(t, sub)
	assert.Equal(t, ledger.FlexibilityProvided, e.Kind)
	assert.Equal(t, 110.0, e.Value)

	records := []model.SettlementRecord{{Device: "dev-1", AverageFlexibility: 110}}
	_, err = cli.EndFlexibilityRequest(ctx, 600, records)
	require.NoError(t, err)
	got, provided, ended := backend.Settlement(600)
	assert.True(t, ended)
	assert.Equal(t, records, got)
	assert.Equal(t, 110.0, provided["dev-1"])

	_, err = cli.EndFlexibilityRequest(ctx, 999, nil)
	assert.ErrorIs(t, err, ledger.ErrRequestNotFound)

	_, err = cli.SendFunds(ctx, []model.Address{"dev-1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, backend.Balance("dev-1"))

	_, err = cli.CancelAgreement(ctx, "dev-1")
	require.NoError(t, err)
	_, ok := backend.Agreement("dev-1")
	assert.False(t, ok)
}

func TestClientReceiptTimeout(t *testing.T) {
	b := newLoopback()
	useBroker(t, b)
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cli, err := NewClient(cfg, nil)
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.RegisterAgreement(context.Background(), "dev-1", model.Agreement{Value: 1})
	assert.ErrorIs(t, err, ledger.ErrReceiptTimeout)
}

func TestClientMapsErrorCodes(t *testing.T) {
	b := newLoopback()
	useBroker(t, b)
	cfg := testConfig()
	cli, err := NewClient(cfg, nil)
	require.NoError(t, err)
	defer cli.Close()

	responder := b.dial()(nil)
	replies := []Response{{Code: "zero_value", Error: "agreement value must be positive"}, {Error: "boom"}}
	responder.Subscribe(cfg.requestTopic(), 1, func(_ paho.Client, msg paho.Message) {
		var req Request
		require.NoError(t, json.Unmarshal(msg.Payload(), &req))
		resp := replies[0]
		replies = replies[1:]
		resp.ID = req.ID
		out, _ := json.Marshal(resp)
		go responder.Publish(req.ReplyTo, 1, false, out)
	})
	responder.Connect()

	_, err = cli.RegisterAgreement(context.Background(), "dev-1", model.Agreement{})
	assert.ErrorIs(t, err, ledger.ErrZeroValue)
	_, err = cli.CancelAgreement(context.Background(), "dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPublishRetries(t *testing.T) {
	b := newLoopback()
	var last *conn
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		last = &conn{broker: b, opts: o, publishErrs: []error{errors.New("net fail"), nil}}
		return last
	}
	defer func() { newMQTTClient = prev }()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cli, err := NewClient(cfg, nil)
	require.NoError(t, err)
	defer cli.Close()

	// nobody answers, but the request itself must go out on the second attempt
	_, err = cli.CancelAgreement(context.Background(), "dev-1")
	assert.ErrorIs(t, err, ledger.ErrReceiptTimeout)
	assert.Equal(t, 2, last.publishCount())
	assert.Equal(t, []byte{1, 1}, last.qos)

	last.mu.Lock()
	last.publishErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	last.mu.Unlock()
	_, err = cli.CancelAgreement(context.Background(), "dev-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrReceiptTimeout)
	assert.Equal(t, 5, last.publishCount())
}

func TestClientClose(t *testing.T) {
	b := newLoopback()
	useBroker(t, b)
	cli, err := NewClient(testConfig(), nil)
	require.NoError(t, err)
	sub, err := cli.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, cli.Close())
	require.NoError(t, cli.Close())
	_, open := <-sub.Events()
	assert.False(t, open)

	_, err = cli.LastSequence(context.Background())
	assert.ErrorIs(t, err, ledger.ErrClosed)
	_, err = cli.Subscribe(context.Background())
	assert.ErrorIs(t, err, ledger.ErrClosed)
}

func TestBridgeRejectsUnknownOp(t *testing.T) {
	br := &Bridge{backend: memory.New(nil), log: nopLogger()}
	resp := br.dispatch(context.Background(), Request{ID: "x", Op: "mint"})
	assert.Equal(t, "x", resp.ID)
	assert.Empty(t, resp.Code)
	assert.Contains(t, resp.Error, "mint")

	resp = br.dispatch(context.Background(), Request{ID: "y", Op: opRegister, Device: "d"})
	assert.Equal(t, errMissingAgreement.Error(), resp.Error)

	resp = br.dispatch(context.Background(), Request{ID: "z", Op: opCancel, Device: "d"})
	assert.Equal(t, "agreement_not_found", resp.Code)
}
