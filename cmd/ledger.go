package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexsim/config"
	ledgermqtt "github.com/kilianp07/flexsim/infra/ledger/mqtt"
	"github.com/kilianp07/flexsim/infra/ledger/memory"
	"github.com/kilianp07/flexsim/infra/logger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger related commands",
}

var ledgerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host an in-memory ledger on the MQTT broker",
	RunE:  serveLedger,
}

func init() {
	ledgerCmd.AddCommand(ledgerServeCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func serveLedger(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("ledger_host")
	backend := memory.New(logger.New("ledger"))
	defer backend.Close()

	bridgeCfg := cfg.MQTT
	if bridgeCfg.ClientID != "" {
		bridgeCfg.ClientID += "-host"
	}
	bridge, err := ledgermqtt.NewBridge(bridgeCfg, backend, log)
	if err != nil {
		return fmt.Errorf("ledger bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = bridge.Close()
		return err
	}
	<-ctx.Done()
	return bridge.Close()
}
