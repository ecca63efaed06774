package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/logger"
)

var errMissingAgreement = errors.New("request carries no agreement")

// Bridge serves a backend ledger to Clients on the same topic prefix.
type Bridge struct {
	cfg     Config
	cli     pahoClient
	backend ledger.Ledger
	log     logger.Logger
	backoff time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBridge connects to the broker. Requests are served once Start is called.
func NewBridge(cfg Config, backend ledger.Ledger, log logger.Logger) (*Bridge, error) {
	cfg.setDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = "flexsim-ledger"
	}
	log = logger.OrNop(log)
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.SetCleanSession(false)
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Errorf("bridge connection lost: %v", err) }
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) { log.Warnf("bridge reconnecting") }
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	return &Bridge{
		cfg:     cfg,
		cli:     cli,
		backend: backend,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
	}, nil
}

// Start subscribes to the backend events and to the request topic. Events
// are forwarded in sequence order until ctx is done or Close is called.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := b.backend.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe backend: %w", err)
	}
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.forward(ctx, sub)

	err = subscribe(b.cli, b.cfg.requestTopic(), b.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		b.onRequest(ctx, msg.Payload())
	})
	if err != nil {
		cancel()
		return err
	}
	b.log.Infof("ledger bridge serving %s", b.cfg.requestTopic())
	return nil
}

func (b *Bridge) forward(ctx context.Context, sub ledger.Subscription) {
	defer b.wg.Done()
	defer sub.Close()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				b.log.Errorf("encode event %d: %v", e.Seq, err)
				continue
			}
			if err := publish(ctx, b.cli, b.cfg.eventTopic(), b.cfg.QoS, payload, b.cfg.MaxRetries, b.backoff, b.cfg.Timeout, b.log); err != nil {
				b.log.Errorf("forward event %d: %v", e.Seq, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) onRequest(ctx context.Context, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		b.log.Errorf("decode ledger request: %v", err)
		return
	}
	if req.ReplyTo == "" {
		b.log.Warnf("request %s has no reply topic", req.ID)
		return
	}
	b.mu.Lock()
	if b.stopped || ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		resp := b.dispatch(ctx, req)
		out, err := json.Marshal(resp)
		if err != nil {
			b.log.Errorf("encode response %s: %v", req.ID, err)
			return
		}
		if err := publish(ctx, b.cli, req.ReplyTo, b.cfg.QoS, out, b.cfg.MaxRetries, b.backoff, b.cfg.Timeout, b.log); err != nil {
			b.log.Errorf("reply %s: %v", req.ID, err)
		}
	}()
}

func (b *Bridge) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}
	var err error
	switch req.Op {
	case opRegister:
		if req.Agreement == nil {
			err = errMissingAgreement
			break
		}
		resp.Receipt, err = b.backend.RegisterAgreement(ctx, req.Device, *req.Agreement)
	case opRevise:
		if req.Agreement == nil {
			err = errMissingAgreement
			break
		}
		resp.Receipt, err = b.backend.ReviseAgreement(ctx, req.Device, *req.Agreement)
	case opCancel:
		resp.Receipt, err = b.backend.CancelAgreement(ctx, req.Device)
	case opRequest:
		resp.Receipt, err = b.backend.RequestFlexibility(ctx, req.Start, req.Stop, req.Target)
	case opProvide:
		resp.Receipt, err = b.backend.ProvideFlexibilityFair(ctx, req.Device, req.Start, req.Value)
	case opEnd:
		resp.Receipt, err = b.backend.EndFlexibilityRequest(ctx, req.Start, req.Records)
	case opFunds:
		resp.Receipt, err = b.backend.SendFunds(ctx, req.Addresses, req.Amount)
	case opLastSequence:
		resp.Seq, err = b.backend.LastSequence(ctx)
	default:
		err = fmt.Errorf("unknown ledger op %q", req.Op)
	}
	if err != nil {
		resp.Code = ledger.ErrorCode(err)
		resp.Error = err.Error()
		b.log.Debugw("ledger request rejected", map[string]any{"op": req.Op, "id": req.ID, "error": resp.Error})
	}
	return resp
}

// Close stops serving, waits for in-flight requests and disconnects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	if b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
	return nil
}
