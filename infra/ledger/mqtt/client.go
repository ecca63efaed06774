// Package mqtt carries the ledger contract over an MQTT broker. Client
// implements ledger.Ledger by publishing requests and waiting for the
// matching response; Bridge hosts any ledger.Ledger behind the broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/model"
)

var errPublishTimeout = errors.New("publish not acknowledged by broker")

// Client is a ledger.Ledger reached through a Bridge.
type Client struct {
	cfg     Config
	cli     pahoClient
	log     logger.Logger
	backoff time.Duration
	reply   string

	mu      sync.Mutex
	pending map[string]chan Response
	streams map[*ledger.Stream]struct{}
	closed  bool
}

var _ ledger.Ledger = (*Client)(nil)

// NewClient connects to the broker and subscribes to the response and event
// topics.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = "flexsim-" + uuid.NewString()[:8]
	}
	log = logger.OrNop(log)
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.SetCleanSession(false)
	opts.OnConnect = func(paho.Client) { log.Infof("ledger client %s connected", cfg.ClientID) }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Errorf("ledger connection lost: %v", err) }
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) { log.Warnf("reconnecting to ledger broker") }

	c := &Client{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		reply:   cfg.responseTopic(cfg.ClientID),
		pending: map[string]chan Response{},
		streams: map[*ledger.Stream]struct{}{},
	}
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	c.cli = cli
	if err := subscribe(cli, c.reply, cfg.QoS, c.onResponse); err != nil {
		cli.Disconnect(250)
		return nil, err
	}
	if err := subscribe(cli, cfg.eventTopic(), cfg.QoS, c.onEvent); err != nil {
		cli.Disconnect(250)
		return nil, err
	}
	return c, nil
}

func subscribe(cli pahoClient, topic string, qos byte, h paho.MessageHandler) error {
	token := cli.Subscribe(topic, qos, h)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// publish retries with exponential backoff.
func publish(ctx context.Context, cli pahoClient, topic string, qos byte, payload []byte, retries int, backoff time.Duration, timeout time.Duration, log logger.Logger) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		token := cli.Publish(topic, qos, false, payload)
		if !token.WaitTimeout(timeout) {
			err = errPublishTimeout
		} else {
			err = token.Error()
		}
		if err == nil {
			return nil
		}
		log.Warnf("publish %s attempt %d failed: %v", topic, attempt+1, err)
		if attempt == retries {
			break
		}
		select {
		case <-time.After(backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Client) onResponse(_ paho.Client, msg paho.Message) {
	var resp Response
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		c.log.Errorf("decode ledger response: %v", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		c.log.Debugf("dropping response %s with no caller", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (c *Client) onEvent(_ paho.Client, msg paho.Message) {
	var e ledger.Event
	if err := json.Unmarshal(msg.Payload(), &e); err != nil {
		c.log.Errorf("decode ledger event: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.streams {
		s.Push(e)
	}
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	req.ID = uuid.NewString()
	req.ReplyTo = c.reply
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ledger.ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := publish(ctx, c.cli, c.cfg.requestTopic(), c.cfg.QoS, payload, c.cfg.MaxRetries, c.backoff, c.cfg.Timeout, c.log); err != nil {
		return Response{}, fmt.Errorf("publish %s: %w", req.Op, err)
	}
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Code != "" || resp.Error != "" {
			return resp, fmt.Errorf("ledger %s: %w", req.Op, ledger.FromCode(resp.Code, resp.Error))
		}
		return resp, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("ledger %s %s: %w", req.Op, req.ID, ledger.ErrReceiptTimeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Client) receipt(ctx context.Context, req Request) (ledger.Receipt, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return resp.Receipt, nil
}

func (c *Client) RegisterAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opRegister, Device: addr, Agreement: &a})
}

func (c *Client) ReviseAgreement(ctx context.Context, addr model.Address, a model.Agreement) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opRevise, Device: addr, Agreement: &a})
}

func (c *Client) CancelAgreement(ctx context.Context, addr model.Address) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opCancel, Device: addr})
}

func (c *Client) RequestFlexibility(ctx context.Context, start, stop int64, target float64) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opRequest, Start: start, Stop: stop, Target: target})
}

func (c *Client) ProvideFlexibilityFair(ctx context.Context, addr model.Address, start int64, value float64) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opProvide, Device: addr, Start: start, Value: value})
}

func (c *Client) EndFlexibilityRequest(ctx context.Context, start int64, records []model.SettlementRecord) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opEnd, Start: start, Records: records})
}

func (c *Client) SendFunds(ctx context.Context, addrs []model.Address, amount float64) (ledger.Receipt, error) {
	return c.receipt(ctx, Request{Op: opFunds, Addresses: addrs, Amount: amount})
}

// Subscribe streams the events the bridge forwards from now on.
func (c *Client) Subscribe(ctx context.Context, kinds ...ledger.EventKind) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ledger.ErrClosed
	}
	var s *ledger.Stream
	s = ledger.NewStream(func() {
		c.mu.Lock()
		delete(c.streams, s)
		c.mu.Unlock()
	}, kinds...)
	c.streams[s] = struct{}{}
	return s, nil
}

func (c *Client) LastSequence(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, Request{Op: opLastSequence})
	if err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

// Close fails pending calls, closes every subscription and disconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		select {
		case ch <- Response{ID: id, Code: ledger.ErrorCode(ledger.ErrClosed)}:
		default:
		}
	}
	streams := make([]*ledger.Stream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		_ = s.Close()
	}
	if c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	return nil
}
