// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command respdrive-bench drives a fixed number of concurrent workers
// against a RESP server, issuing SET/GET pairs through a respdrive.Client
// and reporting throughput and latency once the run duration elapses.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"code.hybscloud.com/respdrive"
	"github.com/sirupsen/logrus"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "server address (host:port or unix socket path)")
	password := flag.String("password", "", "AUTH password, if required")
	db := flag.Int("db", 0, "database index to SELECT")
	conns := flag.Int("conns", 0, "pool connection count (0 = runtime.NumCPU())")
	workers := flag.Int("workers", 32, "concurrent goroutines issuing commands")
	duration := flag.Duration("duration", 10*time.Second, "how long to run before reporting")
	valueSize := flag.Int("value-size", 64, "bytes per SET value")
	resp3 := flag.Bool("resp3", true, "negotiate RESP3 via HELLO 3")
	flag.Parse()

	log := logrus.WithField("component", "respdrive-bench")

	opts := []respdrive.Option{
		respdrive.WithRESP3(*resp3),
		respdrive.WithDB(*db),
	}
	if *conns > 0 {
		opts = append(opts, respdrive.WithConnectionCount(*conns))
	}
	if *password != "" {
		opts = append(opts, respdrive.WithCredentials("", *password))
	}

	client, err := respdrive.Dial(*addr, opts...)
	if err != nil {
		log.WithError(err).Fatal("dial failed")
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	r := &result{}
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(runCtx, client, worker, *valueSize, r)
		}(i)
	}
	wg.Wait()

	r.report(log, *duration)
}

// result accumulates latency samples and error counts across all workers.
// latencies is protected by mu since workers append concurrently; it starts
// empty and grows by append.
type result struct {
	mu        sync.Mutex
	latencies []time.Duration
	errors    atomic.Uint64
	ops       atomic.Uint64
}

func (r *result) observe(d time.Duration, err error) {
	if err != nil {
		r.errors.Add(1)
		return
	}
	r.ops.Add(1)
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

func (r *result) report(log *logrus.Entry, wall time.Duration) {
	r.mu.Lock()
	latencies := append([]time.Duration(nil), r.latencies...)
	r.mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	ops := r.ops.Load()
	errs := r.errors.Load()
	throughput := float64(ops) / wall.Seconds()

	fmt.Printf("ops=%d errors=%d duration=%s throughput=%.1f ops/s\n", ops, errs, wall, throughput)
	if len(latencies) == 0 {
		return
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		percentile(latencies, 0.50),
		percentile(latencies, 0.95),
		percentile(latencies, 0.99),
		latencies[len(latencies)-1],
	)
	if errs > 0 {
		log.WithField("errors", errs).Warn("some commands failed during the run")
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// runWorker issues SET/GET pairs against keys scoped to worker until ctx is
// done, recording each round trip's latency into r.
func runWorker(ctx context.Context, client *respdrive.Client, worker, valueSize int, r *result) {
	value := make([]byte, valueSize)
	_, _ = rand.New(rand.NewSource(int64(worker))).Read(value)
	key := fmt.Sprintf("respdrive-bench:%d", worker)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := client.Set(ctx, key, value)
		if err == nil {
			_, err = client.Get(ctx, key)
		}
		r.observe(time.Since(start), err)
	}
}
