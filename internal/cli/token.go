package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orangearcade/backend/internal/auth"
)

func newTokenCmd(rt *runtime) *cobra.Command {
	var (
		kid string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token ACCOUNT_ID",
		Short: "Issue a development token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.IsProduction() {
				return fmt.Errorf("token issuing is disabled in production")
			}
			keys, err := auth.ParseStaticKeys(rt.cfg.JWTSecret, rt.cfg.JWTKeys)
			if err != nil {
				return err
			}
			secret, ok := keys[kid]
			if !ok {
				return fmt.Errorf("%w: %q", auth.ErrUnknownKey, kid)
			}

			token, err := auth.IssueToken(secret, kid, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", auth.DefaultKeyID, "Signing key id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
