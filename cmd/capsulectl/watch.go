package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every session change until interrupted",
	Long: `Follow the session as other clients sharing the token store sign in,
refresh and log out. Pair it with a redis token store:

  CAPSULE_STORAGE_TYPE=redis capsulectl watch`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	updates, cancel := s.client.Subscribe(8)
	defer cancel()

	for {
		select {
		case snap := <-updates:
			printSnapshot(cmd, snap)
		case <-ctx.Done():
			return nil
		}
	}
}
