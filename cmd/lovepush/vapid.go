package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lovepush/internal/config"
	"lovepush/internal/push"
)

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Generate a VAPID key pair for web push",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s=%s\n", config.EnvVAPIDPublicKey, pub)
		fmt.Fprintf(out, "%s=%s\n", config.EnvVAPIDPrivateKey, priv)
		return nil
	},
}
