package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the session and ask the backend who it is",
	Long: `Print the locally decoded identity, then call /api/me so the backend
verifies the token. The decoded identity is informational only.`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	printSnapshot(cmd, s.client.Session())

	resp, err := s.client.Fetch(ctx, "/api/me", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend answered %s", resp.Status)
	}

	var me struct {
		UserID uint64 `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return fmt.Errorf("decoding /api/me: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "verified user=%d email=%s\n", me.UserID, me.Email)
	return nil
}
