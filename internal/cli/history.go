package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"RoleChat/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation of a session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}

		profile := registry().Profile(cfg.Role)
		key := sessionKey(profile)
		turns := store.Load(ctx, key).Turns()

		out := cmd.OutOrStdout()
		if len(turns) == 0 {
			fmt.Fprintf(out, "No history for session %s\n", key)
			return nil
		}
		for _, msg := range turns {
			label := "You"
			if msg.Role == session.RoleAssistant {
				label = profile.RoleName
			}
			fmt.Fprintf(out, "%s: %s\n", label, msg.Content)
		}
		return nil
	},
}
