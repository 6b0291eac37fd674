// Package cli implements portalctl, the operator command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/orangearcade/backend/internal/app"
	"github.com/orangearcade/backend/internal/config"
)

type runtime struct {
	cfg *config.Config
}

// NewRootCmd builds the portalctl command tree. Configuration comes from the
// environment (and .env) exactly as for the server.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operate the Orange Arcade economy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rt.cfg = config.Load()
			if driver, _ := cmd.Flags().GetString("store"); driver != "" {
				rt.cfg.StoreDriver = driver
			}
			// portalctl only migrates when asked to
			rt.cfg.MigrateOnStart = false
			app.SetupLogging(rt.cfg)
			return rt.cfg.Validate()
		},
	}
	root.PersistentFlags().String("store", "", "Store driver override (postgres|memory)")

	root.AddCommand(
		newMigrateCmd(rt),
		newSeedAdminCmd(rt),
		newReconcileCmd(rt),
		newBanCmd(rt),
		newTokenCmd(rt),
	)
	return root
}

// Execute runs portalctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
