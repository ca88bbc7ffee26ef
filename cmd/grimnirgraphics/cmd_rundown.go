/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_graphics/internal/db"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
	"github.com/friendsincode/grimnir_graphics/internal/store"
)

var rundownCmd = &cobra.Command{
	Use:   "rundown",
	Short: "Manage saved rundowns",
}

var rundownListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved rundowns",
	Args:  cobra.NoArgs,
	RunE:  runRundownList,
}

var rundownExportCmd = &cobra.Command{
	Use:   "export <rundown-id>",
	Short: "Write a saved rundown as YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRundownExport,
}

var rundownImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Save a YAML or JSON rundown document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRundownImport,
}

var (
	exportFormat string
	exportOutput string
	importName   string
)

func init() {
	rootCmd.AddCommand(rundownCmd)
	rundownCmd.AddCommand(rundownListCmd, rundownExportCmd, rundownImportCmd)

	rundownExportCmd.Flags().StringVar(&exportFormat, "format", "yaml", "Output format: yaml or json")
	rundownExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	rundownImportCmd.Flags().StringVar(&importName, "name", "", "Override the rundown name")
}

// withStore runs fn against the configured database.
func withStore(fn func(ctx context.Context, st *store.Store) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, store.New(database))
}

func runRundownList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		list, err := st.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPAGES\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Pages, s.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func runRundownExport(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid rundown id %q: %w", args[0], err)
	}
	if exportFormat != "yaml" && exportFormat != "json" {
		return fmt.Errorf("unsupported format %q", exportFormat)
	}
	return withStore(func(ctx context.Context, st *store.Store) error {
		doc, err := st.Load(ctx, id)
		if err != nil {
			return err
		}
		var out io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}
		if exportFormat == "json" {
			return doc.WriteJSON(out)
		}
		return doc.WriteYAML(out)
	})
}

func runRundownImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	doc, err := rundown.DecodeDocument(f)
	if err != nil {
		return err
	}
	if importName != "" {
		doc.Name = importName
	}
	return withStore(func(ctx context.Context, st *store.Store) error {
		id, err := st.Save(ctx, doc)
		if err != nil {
			return err
		}
		logger.Info().Str("rundown_id", id.String()).Str("name", doc.Name).
			Int("templates", len(doc.Templates)).Int("pages", len(doc.Instances)).Msg("rundown imported")
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	})
}
