package main

import (
	"context"
	"strings"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/sqlite"
	"github.com/couchcryptid/nowcast-alert-service/internal/config"
	"github.com/couchcryptid/nowcast-alert-service/internal/cycle"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last heartbeat and store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			cmd.Println("Nowcast Monitor Status")
			cmd.Println(strings.Repeat("=", 40))

			cmd.Println("\nLast cycle:")
			hb, err := cycle.NewFileHeartbeat(cfg.HeartbeatPath).Read()
			if err != nil {
				cmd.Printf("  Heartbeat: unavailable (%s)\n", err)
			} else {
				cmd.Printf("  Run at:    %s\n", hb.LastRun)
				cmd.Printf("  Status:    %s\n", hb.Status)
				if hb.Error != "" {
					cmd.Printf("  Error:     %s\n", hb.Error)
				}
			}

			cmd.Println("\nStore:")
			cmd.Printf("  Path:      %s\n", cfg.DBPath)
			store, err := sqlite.Open(cfg.DBPath, clockwork.NewRealClock())
			if err != nil {
				cmd.Printf("  Status:    FAILED (%s)\n", err)
				return nil
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			count, err := store.Count(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("  Rows:      %d\n", count)
			if latest, ok, err := store.LatestRecordedAt(ctx); err != nil {
				return err
			} else if ok {
				cmd.Printf("  Latest:    %s\n", domain.FormatStoreTime(latest))
			}

			locations, err := config.LoadLocations(cfg.LocationsFile)
			if err != nil {
				cmd.Printf("\nLocations: invalid (%s)\n", err)
				return nil
			}
			cmd.Printf("\nLocations (%d):\n", len(locations))
			for _, loc := range locations {
				state := "enabled"
				if !loc.IsEnabled() {
					state = "disabled"
				}
				cmd.Printf("  %-20s %.4f, %.4f  %s\n", loc.Name, loc.Lat, loc.Lon, state)
			}
			return nil
		},
	}
}
