package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/terediX/internal/discovery"
)

var relationCmd = &cobra.Command{
	Use:   "relation",
	Short: "Rebuild relations over stored resources",
	Long: `Evaluate every relation rule against the resources already in storage
and replace the stored relation set. No sources are scanned.`,
	Example: `  teredix relation --config config.yaml`,
	RunE:    runRelation,
}

func init() {
	rootCmd.AddCommand(relationCmd)
}

func runRelation(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, configFile, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	d, err := discovery.New(a.cfg, a.store, nil, a.metrics, a.logger)
	if err != nil {
		return err
	}

	n, err := d.BuildRelations(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d relations built\n", n)
	return nil
}
