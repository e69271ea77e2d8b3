package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"lovepush/internal/app"
	"lovepush/internal/config"
	"lovepush/internal/eventbus"
	logx "lovepush/pkg/logx"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Broadcast today's message to every active push subscriber once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Load(cmd.Context())
		if err != nil {
			return err
		}
		log := logx.NewConsole(cfg.Logging.Level)

		store, err := app.OpenStore(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		sel, err := app.NewSelector(cfg)
		if err != nil {
			return err
		}
		b, _, err := app.NewBroadcaster(cfg, store, sel, eventbus.Nop(), nil, log)
		if err != nil {
			return err
		}
		st, err := b.Broadcast(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}
