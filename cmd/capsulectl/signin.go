package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/photocapsule/capsuleauth"
)

var signupFirst bool

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in and persist the access token",
	Long: `Sign in with --email and --password and print the decoded identity.

Examples:
  capsulectl signin --email ada@example.com --password secret
  capsulectl signin --signup           # register the account first`,
	Args: cobra.NoArgs,
	RunE: runSignIn,
}

func init() {
	rootCmd.AddCommand(signinCmd)
	signinCmd.Flags().BoolVar(&signupFirst, "signup", false, "register the account before signing in")
}

func runSignIn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if signupFirst {
		if err := s.client.SignUp(ctx, email, password); err != nil {
			return err
		}
	}
	if err := s.client.SignIn(ctx, email, password); err != nil {
		return err
	}
	printSnapshot(cmd, s.client.Session())
	return nil
}

func printSnapshot(cmd *cobra.Command, snap capsuleauth.Snapshot) {
	out := cmd.OutOrStdout()
	if snap.Identity == nil {
		fmt.Fprintf(out, "state=%s\n", snap.State)
		return
	}
	fmt.Fprintf(out, "state=%s user=%s email=%s expires=%s\n",
		snap.State,
		snap.Identity.UserID,
		snap.Identity.Email,
		snap.Identity.ExpiresAt.Format(time.RFC3339),
	)
}
