package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/infra/ledger/memory"
	"github.com/kilianp07/flexsim/internal/testutil"
)

func TestBridgeOverMosquitto(t *testing.T) {
	broker := testutil.Mosquitto(t)
	backend := memory.New(nil)

	br, err := NewBridge(Config{Broker: broker, ClientID: "host", QoS: 1}, backend, nil)
	require.NoError(t, err)
	require.NoError(t, br.Start(context.Background()))
	defer br.Close()

	cli, err := NewClient(Config{Broker: broker, ClientID: "agg", QoS: 1, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer cli.Close()

	sub, err := cli.Subscribe(context.Background(), ledger.AgreementRegistered)
	require.NoError(t, err)
	defer sub.Close()

	_, err = cli.RegisterAgreement(context.Background(), "dev-1", model.Agreement{Value: 10})
	require.NoError(t, err)
	e := nextEvent(t, sub)
	require.Equal(t, model.Address("dev-1"), e.Device)

	seq, err := cli.LastSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
}
