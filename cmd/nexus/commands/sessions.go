package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// timeNow is replaced in tests.
var timeNow = time.Now

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		list := a.store.List()
		if outputJSON {
			type item struct {
				ID        string       `json:"id"`
				Title     string       `json:"title"`
				Mode      session.Mode `json:"mode"`
				Messages  int          `json:"messages"`
				CreatedAt time.Time    `json:"created_at"`
				Active    bool         `json:"active"`
			}
			items := make([]item, len(list))
			for i, s := range list {
				items[i] = item{s.ID, s.Title, s.Mode, len(s.Messages), s.CreatedAt, s.ID == a.store.Active()}
			}
			return outputResult(cmd.OutOrStdout(), items)
		}
		fmt.Fprint(cmd.OutOrStdout(), a.transcript().SessionList(list, a.store.Active(), 48, timeNow()))
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the messages of a session (default: active session)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var id string
		if len(args) == 1 {
			id = args[0]
		}
		sess, err := a.resolveSession(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return outputResult(cmd.OutOrStdout(), sess)
		}
		fmt.Fprint(cmd.OutOrStdout(), a.transcript().Session(sess))
		return nil
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title...>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.RenameSession(args[0], strings.Join(args[1:], " ")) {
			return fmt.Errorf("%w: %s", session.ErrSessionNotFound, args[0])
		}
		sess, _ := a.store.Get(args[0])
		cli.PrintSuccess("Session %s renamed to %q", sess.ID, sess.Title)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.DeleteSession(args[0]) {
			return fmt.Errorf("%w: %s", session.ErrSessionNotFound, args[0])
		}
		cli.PrintSuccess("Session %s deleted", args[0])
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.store.Len()
		a.store.ClearAll()
		cli.PrintSuccess("Deleted %d sessions", n)
		return nil
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a session the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.SetActive(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to session %s", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	sessionsCmd.AddCommand(sessionsUseCmd)
}
