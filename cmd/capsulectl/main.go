// Command capsulectl drives a photo-capsule session from the terminal.
//
// Without --local it talks to the backend named by the configuration
// (CAPSULE_* variables or --config). Use a redis token store to keep the
// session between invocations; the refresh cookie lives only as long as the
// process.
//
// With --local every invocation starts an in-process development backend on
// miniredis and registers --email/--password, which is enough to try the
// refresh path without any other service:
//
//	capsulectl --local whoami
//	capsulectl --local fetch /api/getvaults
//	capsulectl --local storm -n 64 --delay 200ms
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
