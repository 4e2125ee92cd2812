package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit <message-index> <new-content>",
	Short: "Rewrite a message in the current session",
	Long: `Rewrite the message at the given index (zero-based) in the current
session. Everything after the edited message is discarded, since the
exchanges that followed were based on the old content.

Use 'ccbridge chat' afterwards to continue from the edited point.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
}

func runEdit(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("message index must be a number: %w", err)
	}
	content := strings.Join(args[1:], " ")

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.store.EditMessage(index, content) {
		sess := app.store.Current()
		return fmt.Errorf("no message at index %d (session has %d)", index, len(sess.Messages))
	}

	sess := app.store.Current()
	fmt.Printf("Edited message %d; session now has %d message(s)\n", index, len(sess.Messages))
	return nil
}
