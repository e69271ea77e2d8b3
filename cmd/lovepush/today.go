package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lovepush/internal/app"
	"lovepush/internal/config"
	"lovepush/internal/device"
)

var (
	todayDate string
	todayJSON bool
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print the message selected for today (or --date)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Load(cmd.Context())
		if err != nil {
			return err
		}
		sel, err := app.NewSelector(cfg)
		if err != nil {
			return err
		}
		at := time.Now()
		if d := strings.TrimSpace(todayDate); d != "" {
			if at, err = time.ParseInLocation(device.DateLayout, d, sel.Location()); err != nil {
				return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", todayDate)
			}
		}
		pick := sel.Pick(at)

		out := cmd.OutOrStdout()
		if todayJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"date":    pick.Date.Format(device.DateLayout),
				"message": pick.Message,
				"special": pick.Special,
			})
		}
		fmt.Fprintf(out, "%s  #%d  %s\n", pick.Date.Format(device.DateLayout), pick.Message.ID, pick.Message.Text)
		if pick.Special != "" {
			fmt.Fprintf(out, "special: %s\n", pick.Special)
		}
		return nil
	},
}

func init() {
	todayCmd.Flags().StringVar(&todayDate, "date", "", "date to select for (YYYY-MM-DD, catalog timezone)")
	todayCmd.Flags().BoolVar(&todayJSON, "json", false, "print JSON")
}
