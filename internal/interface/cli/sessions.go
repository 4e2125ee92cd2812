package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/tomasky/ccbridge/internal/core/models"
)

var listSince string

var (
	currentMarkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	sessionNameStyle = lipgloss.NewStyle().Bold(true)
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List all sessions in creation order. The current session is marked
with an asterisk.

Examples:
  ccbridge sessions list
  ccbridge sessions list --since "last tuesday"
  ccbridge sessions list --since "3 days ago"`,
	RunE: runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a session and make it current",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsNew,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsRename,
}

var sessionsSwitchCmd = &cobra.Command{
	Use:   "switch <session-id>",
	Short: "Make a session current",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSwitch,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Long: `Delete a session and its history. Deleting the last session leaves a
fresh empty session in its place.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsDelete,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Clear a session's message history",
	Long: `Clear a session's messages while keeping the session itself. Defaults
to the current session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsClear,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsSwitchCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)

	sessionsListCmd.Flags().StringVar(&listSince, "since", "", "Only sessions updated since this time (natural language OK)")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	var cutoff time.Time
	if listSince != "" {
		cutoff, err = parseSince(listSince)
		if err != nil {
			return err
		}
	}

	sessions := app.store.List()
	currentID := app.store.CurrentID()

	shown := 0
	for _, s := range sessions {
		if !cutoff.IsZero() && s.UpdatedAt.Before(cutoff) {
			continue
		}
		shown++
		printSession(s, s.ID == currentID)
	}

	if shown == 0 {
		if listSince != "" {
			fmt.Printf("No sessions updated since %s\n", listSince)
		} else {
			fmt.Println("No sessions yet. Run 'ccbridge chat' to start one.")
		}
	}
	return nil
}

func printSession(s *models.Session, current bool) {
	mark := "  "
	if current {
		mark = currentMarkStyle.Render("* ")
	}
	fmt.Printf("%s%s  %s\n", mark, sessionNameStyle.Render(s.Name), dimStyle.Render(s.ID))
	fmt.Printf("    Messages: %d\n", s.HistoryCount())
	if s.ExternalSessionID != "" {
		fmt.Printf("    Claude session: %s\n", s.ExternalSessionID)
	}
	if !s.UpdatedAt.IsZero() {
		fmt.Printf("    Updated: %s\n", humanize.Time(s.UpdatedAt))
	}
	fmt.Println()
}

// parseSince accepts natural language ("yesterday", "last monday") as
// well as anything time.Parse would reject.
func parseSince(input string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(input, time.Now())
	if err == nil && result != nil {
		return result.Time, nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("could not understand time %q", input)
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	name := ""
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}
	sess := app.store.Create(name)
	fmt.Printf("Created session %s (%s)\n", sess.Name, sess.ID)
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.store.Rename(args[0], args[1]) {
		return fmt.Errorf("no session with id %s", args[0])
	}
	fmt.Printf("Renamed session to %s\n", args[1])
	return nil
}

func runSessionsSwitch(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.store.Switch(args[0]) {
		return fmt.Errorf("no session with id %s", args[0])
	}
	sess := app.store.Current()
	fmt.Printf("Switched to %s\n", sess.Name)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.store.Delete(args[0]) {
		return fmt.Errorf("no session with id %s", args[0])
	}
	fmt.Println("Deleted session")
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	if !app.store.Clear(id) {
		return fmt.Errorf("no session with id %s", id)
	}
	fmt.Println("Cleared session history")
	return nil
}
