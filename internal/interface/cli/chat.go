package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/tomasky/ccbridge/internal/core/models"
	"github.com/tomasky/ccbridge/internal/core/stream"
)

var (
	chatNew     bool
	chatCopy    bool
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message through the claude CLI",
	Long: `Send a message to claude and stream the answer as it arrives.

The conversation continues in the current session: follow-up messages
resume the same claude context. Press Ctrl-C to stop a response early;
whatever already arrived is kept in the history.

Examples:
  ccbridge chat "explain this stack trace"
  ccbridge chat --new "start something unrelated"
  ccbridge chat --copy "write a commit message for these changes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a fresh session before sending")
	chatCmd.Flags().BoolVarP(&chatCopy, "copy", "c", false, "Copy the full answer to the clipboard")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session ID to chat in (default: current)")
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if chatSession != "" {
		if !app.store.Switch(chatSession) {
			return fmt.Errorf("no session with id %s", chatSession)
		}
	}
	if chatNew {
		app.store.Create("")
	}
	sess := app.store.Current()

	manager := stream.New(stream.Config{
		Binary:             app.cfg.ClaudeBinary,
		ExtraFlags:         app.cfg.ClaudeFlags,
		ConflictRetryDelay: app.cfg.ConflictRetryDelay,
		ConflictNotice:     app.cfg.ConflictNoticeTemplate,
	})
	manager.OnSessionIDChanged(func(id string) {
		app.store.UpdateExternalSessionID(sess.ID, id)
	})

	app.store.AddMessage(models.NewMessage(models.RoleUser, message))

	// Ctrl-C stops the subprocess but keeps whatever already streamed.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			manager.Stop()
		}
	}()

	run, err := manager.Run(context.Background(), message, sess.ExternalSessionID)
	if err != nil {
		return err
	}

	var answer strings.Builder
	for fragment := range run.Fragments() {
		fmt.Print(fragment)
		answer.WriteString(fragment)
	}
	fmt.Println()

	outcome, runErr := run.Wait()

	if answer.Len() > 0 {
		app.store.AddMessage(models.NewMessage(models.RoleAssistant, answer.String()))
	}

	switch outcome {
	case stream.OutcomeStopped:
		app.store.AddMessage(models.NewMessage(models.RoleSystem, "[stopped by user]"))
		fmt.Fprintln(os.Stderr, "stopped")
	case stream.OutcomeFailure:
		return runErr
	}

	if chatCopy && answer.Len() > 0 {
		if err := clipboard.WriteAll(answer.String()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to copy to clipboard: %v\n", err)
		}
	}

	return nil
}
