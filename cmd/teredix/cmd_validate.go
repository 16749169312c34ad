package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/source"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file",
	Long: `Load the config file, validate it and build every configured scanner
without running any scan.`,
	Example: `  teredix validate --config config.yaml`,
	RunE:    runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	scanners, err := source.Default().BuildAll(cmd.Context(), cfg, zerolog.Nop())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "config %s is valid\n", configFile)
	fmt.Fprintf(w, "  discovery: %s\n", cfg.Discovery.Name)
	fmt.Fprintf(w, "  storage:   %s\n", cfg.Storage.DefaultEngine)
	fmt.Fprintf(w, "  relations: %d rules\n", len(cfg.Relation.RelationCriteria))
	fmt.Fprintf(w, "  sources:   %d\n", len(scanners))
	for _, s := range scanners {
		fmt.Fprintf(w, "    %-24s %-18s %s\n", s.Name(), s.Kind(), cfg.Sources[s.Name()].Schedule)
	}
	return nil
}
