package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/photocapsule/capsuleauth"
	"github.com/photocapsule/capsuleauth/jwt"
)

var stormCmd = &cobra.Command{
	Use:   "storm [PATH]",
	Short: "Fire concurrent fetches with an expired token",
	Long: `Sign in, replace the token with an expired one, then send N concurrent
requests. Every request needs a refresh; the report shows how many refresh
exchanges actually ran.

Examples:
  capsulectl --local storm -n 200
  capsulectl --local storm --delay 250ms /api/getvaults`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStorm,
}

func init() {
	rootCmd.AddCommand(stormCmd)
	stormCmd.Flags().IntP("requests", "n", 50, "concurrent requests")
	stormCmd.Flags().Duration("delay", 0, "delay every refresh answer (--local only)")
}

type stormStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
}

func runStorm(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("requests")
	delay, _ := cmd.Flags().GetDuration("delay")
	if n <= 0 {
		return fmt.Errorf("requests must be > 0")
	}
	path := "/api/me"
	if len(args) == 1 {
		path = args[0]
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.dev != nil {
		s.dev.Backend.SetRefreshDelay(delay)
	}

	expired, err := expiredToken(s.client.Session())
	if err != nil {
		return err
	}
	if err := s.client.Login(ctx, expired); err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		samples  = make([]time.Duration, 0, n)
		failures atomic.Int64
	)
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t0 := time.Now()
			resp, err := s.client.Fetch(ctx, path, nil)
			elapsed := time.Since(t0)
			if err != nil {
				failures.Add(1)
				logger.Debug("storm request failed", zap.Error(err))
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				failures.Add(1)
			}
			mu.Lock()
			samples = append(samples, elapsed)
			mu.Unlock()
		}()
	}
	wg.Wait()

	stats := computeStats(time.Since(start), samples, failures.Load())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "requests=%d failures=%d total=%s p50=%s p95=%s p99=%s\n",
		n,
		stats.failures,
		stats.total.Round(time.Millisecond),
		stats.p50.Round(time.Microsecond),
		stats.p95.Round(time.Microsecond),
		stats.p99.Round(time.Microsecond),
	)

	m := s.client.MetricsSnapshot()
	fmt.Fprintf(out, "refresh requested=%d exchanges=%d failures=%d\n",
		m.Counters[capsuleauth.MetricRefreshRequested],
		m.Counters[capsuleauth.MetricRefreshExchange],
		m.Counters[capsuleauth.MetricRefreshFailure],
	)
	if s.dev != nil {
		fmt.Fprintf(out, "backend refresh calls=%d api calls=%d\n",
			s.dev.Backend.RefreshCalls(),
			s.dev.Backend.APICalls(),
		)
	}
	return nil
}

// expiredToken mints a readable token that expired an hour ago. It is never
// sent: the client refreshes it before any request.
func expiredToken(snap capsuleauth.Snapshot) (string, error) {
	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(uuid.NewString()),
	})
	if err != nil {
		return "", err
	}
	var mail string
	if snap.Identity != nil {
		mail = snap.Identity.Email
	}
	return manager.CreateAccessAt(0, mail, time.Now().Add(-time.Hour))
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) stormStats {
	if len(samples) == 0 {
		return stormStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return stormStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}
