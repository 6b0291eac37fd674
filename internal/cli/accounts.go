package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orangearcade/backend/internal/admin"
	"github.com/orangearcade/backend/internal/app"
)

func newSeedAdminCmd(rt *runtime) *cobra.Command {
	var username, token, name string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or update an admin account",
		Long: `Create or update an admin account. The username and token default to
ADMIN_USERNAME and ADMIN_TOKEN from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = os.Getenv("ADMIN_USERNAME")
			}
			if token == "" {
				token = os.Getenv("ADMIN_TOKEN")
			}
			if username == "" || token == "" {
				return errors.New("--username and --token (or ADMIN_USERNAME/ADMIN_TOKEN) are required")
			}

			st, err := app.OpenStore(rt.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := admin.CreateAccount(cmd.Context(), st, username, name, token, []string{"super_admin"}); err != nil {
				return fmt.Errorf("create admin account: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin account %q created/updated\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Admin username")
	cmd.Flags().StringVar(&token, "token", "", "Admin token (stored as a bcrypt hash)")
	cmd.Flags().StringVar(&name, "name", "Admin", "Display name")
	return cmd
}

func newReconcileCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile ACCOUNT_ID",
		Short: "Compare an account's balances with its transaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(rt.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Service.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, rec); err != nil {
				return err
			}
			if !rec.Balanced {
				return fmt.Errorf("account %s is out of balance", args[0])
			}
			return nil
		},
	}
}

func newBanCmd(rt *runtime) *cobra.Command {
	var reason, evidence string
	cmd := &cobra.Command{
		Use:   "ban ACCOUNT_ID",
		Short: "Suspend an account from every reward path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := map[string]any{"source": "portalctl"}
			if evidence != "" {
				if err := json.Unmarshal([]byte(evidence), &ev); err != nil {
					return fmt.Errorf("--evidence must be a JSON object: %w", err)
				}
			}

			a, err := app.New(rt.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Service.BanUser(cmd.Context(), args[0], reason, ev)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the ban")
	cmd.Flags().StringVar(&evidence, "evidence", "", "Evidence as a JSON object")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
