// Command otp-loadtest drives a goOTP engine backed by Redis with concurrent
// issue and verify traffic and checks that every challenge is consumed at
// most once.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "otp-loadtest",
		Usage: "Concurrent issue/verify load against a Redis-backed engine",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "subjects", Value: 10000, Usage: "number of distinct subjects"},
			&cli.IntFlag{Name: "concurrency", Value: 256, Usage: "number of concurrent workers"},
			&cli.IntFlag{Name: "racers", Value: 8, Usage: "concurrent correct submissions per subject"},
			&cli.StringFlag{Name: "redis-addr", Usage: "redis address; miniredis when empty", Sources: cli.EnvVars("REDIS_ADDR")},
			&cli.StringFlag{Name: "prefix", Value: "otp-load", Usage: "challenge key prefix"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

type outbox struct {
	codes sync.Map
}

func (o *outbox) Send(_ context.Context, msg goOTP.Message) error {
	o.codes.Store(msg.To, msg.Code)
	return nil
}

func (o *outbox) code(subject string) string {
	v, _ := o.codes.Load(subject)
	s, _ := v.(string)
	return s
}

func run(ctx context.Context, cmd *cli.Command) error {
	subjects := int(cmd.Int("subjects"))
	concurrency := int(cmd.Int("concurrency"))
	racers := int(cmd.Int("racers"))
	if subjects <= 0 || concurrency <= 0 || racers <= 0 {
		return errors.New("subjects, concurrency, and racers must be > 0")
	}

	client, cleanup, err := redisClient(cmd.String("redis-addr"))
	if err != nil {
		return err
	}
	defer cleanup()

	box := &outbox{}
	cfg := goOTP.DefaultConfig()
	cfg.Ephemeral.SweepInterval = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := goOTP.New().
		WithConfig(cfg).
		WithNotifier(box).
		WithStore(goOTP.PurposePasswordReset, goOTP.NewRedisStore(client, goOTP.RedisStoreConfig{Prefix: cmd.String("prefix")})).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	emails := make([]string, subjects)
	for i := range emails {
		emails[i] = fmt.Sprintf("load-%d@example.com", i)
	}

	issueStats := runPhase(subjects, concurrency, func(i int) error {
		return engine.RequestPasswordReset(ctx, emails[i])
	})

	var winners, losers, other int64
	perSubject := make([]int32, subjects)
	raceStats := runPhase(subjects*racers, concurrency, func(i int) error {
		idx := i / racers
		_, err := engine.Verify(ctx, emails[idx], goOTP.PurposePasswordReset, box.code(emails[idx]))
		switch {
		case err == nil:
			atomic.AddInt64(&winners, 1)
			atomic.AddInt32(&perSubject[idx], 1)
		case errors.Is(err, goOTP.ErrNoActiveChallenge):
			atomic.AddInt64(&losers, 1)
		default:
			atomic.AddInt64(&other, 1)
			return err
		}
		return nil
	})

	var violations int
	for _, n := range perSubject {
		if n != 1 {
			violations++
		}
	}

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("verify-race", raceStats)
	fmt.Printf("verify-race: winners=%d losers=%d other=%d subjects-not-exactly-once=%d\n", winners, losers, other, violations)
	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: issued=%d verified=%d no-active=%d\n",
		snap.Counters[goOTP.MetricIssueSuccess],
		snap.Counters[goOTP.MetricVerifySuccess],
		snap.Counters[goOTP.MetricVerifyNoActive],
	)

	if violations > 0 {
		return fmt.Errorf("%d subjects were not consumed exactly once", violations)
	}
	return nil
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
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
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
