package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"visionpharma/internal/config"
	"visionpharma/internal/repository/sqlite"
)

func main() {
	var (
		envFile string
		dbPath  string
	)

	root := &cobra.Command{
		Use:   "visionpharma-migrate",
		Short: "Create or upgrade the inspection database schema and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}

			fmt.Printf("Migrating database %s\n", cfg.DatabasePath)

			db, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := sqlite.NewInspectionRepository(db).GetStats()
			if err != nil {
				return fmt.Errorf("failed to read statistics: %w", err)
			}

			fmt.Printf("\nDatabase Statistics:\n")
			fmt.Printf("   Total inspections: %d\n", stats.Total)
			fmt.Printf("   Pills / empty cavities: %d / %d\n", stats.TotalFilled, stats.TotalEmpty)
			fmt.Printf("   Defect rate: %.1f%%\n", stats.DefectRate*100)

			statuses := make([]string, 0, len(stats.PerStatus))
			for status := range stats.PerStatus {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Printf("      - %s: %d\n", status, stats.PerStatus[status])
			}
			if stats.LastInspection != nil {
				fmt.Printf("   Last inspection: %s\n", stats.LastInspection.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	root.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file (missing file is ignored)")
	root.Flags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
