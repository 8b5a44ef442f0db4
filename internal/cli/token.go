package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/weaponid/internal/repository"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an existing account",
		Long: `Signs a token for the named account with SECRET_KEY, skipping the password
check. Intended for operators wiring service accounts.`,
		Example: `  export TOKEN=$(weaponid token issue --username ci-bot)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.store.GetUserByUsername(ctx, username)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("user %q does not exist", username)
			}
			if err != nil {
				return err
			}

			tok, err := a.tokens.Issue(user.ID)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account to issue the token for")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
