package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List all configured sites",
	Long:  "Syncs the configured sites into the store and prints them as a table.",
	RunE:  runListSites,
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}

func runListSites(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	s, cleanup, err := openStore(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sites, err := s.Sites(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-25s %-15s %s\n", "ID", "Name", "Prompt", "Status")
	fmt.Println(strings.Repeat("─", 70))

	active, inactive := 0, 0
	for _, site := range sites {
		status := "active"
		if !site.Active {
			status = "inactive"
			inactive++
		} else {
			active++
		}
		fmt.Printf("%-20s %-25s %-15s %s\n", site.ID, site.Name, site.PromptID, status)
	}

	fmt.Printf("\nTotal: %d sites (%d active, %d inactive)\n", len(sites), active, inactive)
	return nil
}
