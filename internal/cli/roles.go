package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"RoleChat/internal/persona"
)

var showPrompt bool

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the available roles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		reg := registry()
		for i, r := range persona.Roles() {
			sample := ""
			if p := reg.Profile(r.Name()); p.MemorySample != "" {
				sample = " (memory sample loaded)"
			}
			fmt.Fprintf(out, "%d. %s [%s]%s\n", i+1, r.Name(), r.Slug(), sample)
		}
		if showPrompt {
			fmt.Fprintf(out, "\n%s\n", reg.PersonaPrompt(cfg.Role))
		}
		return nil
	},
}

func init() {
	rolesCmd.Flags().BoolVar(&showPrompt, "prompt", false, "print the system prompt of the selected role")
}
