package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomasky/ccbridge/internal/core/models"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions to JSON",
	Long: `Export every session, its messages, and the current-session marker as
one JSON document, suitable for 'ccbridge import' on another machine.

Examples:
  ccbridge export
  ccbridge export --output sessions.json`,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all sessions from a JSON export",
	Long: `Import a document produced by 'ccbridge export'. The existing sessions
are replaced entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	state := app.store.Snapshot()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	data = append(data, '\n')

	if exportOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	fmt.Printf("Exported %d session(s) to %s\n", len(state.Sessions), exportOutput)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("invalid export document: %w", err)
	}
	for _, sess := range state.Sessions {
		if err := sess.Validate(); err != nil {
			return fmt.Errorf("invalid session %s: %w", sess.ID, err)
		}
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	app.store.Load(&state)
	fmt.Printf("Imported %d session(s)\n", len(state.Sessions))
	return nil
}
