package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/photocapsule/capsuleauth"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch PATH",
	Short: "Send an authenticated request",
	Long: `Send one request to BaseURL+PATH with the persisted bearer token,
refreshing it first when it is missing or expired. The status line and
body are printed whatever the status.

Examples:
  capsulectl fetch /api/getvaults
  capsulectl fetch /api/addvaults -X POST -d '{"name":"Summer"}' -H 'Content-Type: application/json'`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringP("method", "X", http.MethodGet, "request method")
	fetchCmd.Flags().StringP("data", "d", "", "request body")
	fetchCmd.Flags().StringArrayP("header", "H", nil, "request header as 'Name: value', repeatable")
}

func runFetch(cmd *cobra.Command, args []string) error {
	method, _ := cmd.Flags().GetString("method")
	data, _ := cmd.Flags().GetString("data")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")

	header := http.Header{}
	for _, h := range rawHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	opts := &capsuleauth.FetchOptions{Method: strings.ToUpper(method), Header: header}
	if data != "" {
		opts.Body = strings.NewReader(data)
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.client.Fetch(ctx, args[0], opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Status)
	_, err = io.Copy(out, resp.Body)
	return err
}
