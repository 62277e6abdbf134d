// Script load_test drives concurrent status transitions against one task
// to benchmark store write throughput. Workers race on a shared pool of
// jobs; the store's last-point-wins semantics resolve the conflicts.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
	"github.com/simonepigazzini/dynamic-automation/internal/job"
	"github.com/simonepigazzini/dynamic-automation/internal/metrics"
	"github.com/simonepigazzini/dynamic-automation/internal/storage"
)

const (
	defaultJobCount    = 200
	defaultTransitions = 2000
	defaultConcurrency = 20
)

func main() {
	database := getEnv("DYNAUTO_DB", "dynauto")
	jobCount := envInt("LOADTEST_JOBS", defaultJobCount)
	transitions := envInt("LOADTEST_TRANSITIONS", defaultTransitions)
	concurrency := envInt("LOADTEST_CONCURRENCY", defaultConcurrency)

	// A fresh task per run keeps series from previous runs out of the way.
	task := job.Task{
		Name:     "loadtest-" + uuid.New().String()[:8],
		Campaign: "loadtest",
		Block:    0,
	}

	fmt.Printf("=== Status Tracker Load Test ===\n")
	fmt.Printf("Task:        %s/%s\n", task.Campaign, task.Name)
	fmt.Printf("Jobs:        %d\n", jobCount)
	fmt.Printf("Transitions: %d\n", transitions)
	fmt.Printf("Concurrency: %d\n\n", concurrency)

	ctx := context.Background()
	logger := zap.NewNop()

	tracker, err := storage.NewInfluxTracker(config.FromEnv(), task, database, logger, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "create tracker: %v\n", err)
		os.Exit(1)
	}
	defer tracker.Close()

	ids := make([]string, jobCount)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	if err := tracker.CreateTask(ctx, ids, nil, false); err != nil {
		fmt.Fprintf(os.Stderr, "create task: %v\n", err)
		os.Exit(1)
	}

	var (
		success int64
		failed  int64
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
	)

	statuses := []job.Status{job.StatusRunning, job.StatusFailed, job.StatusDone, job.StatusIdle}

	start := time.Now()
	for i := 0; i < transitions; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			id := ids[idx%len(ids)]
			status := statuses[rand.Intn(len(statuses))]
			fields := job.Fields{"iteration": idx}

			if err := tracker.SetStatus(ctx, id, status, fields); err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&success, 1)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	completed, err := tracker.TaskCompleted(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "task completed check: %v\n", err)
	}

	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Success:     %d\n", success)
	fmt.Printf("Failed:      %d\n", failed)
	fmt.Printf("Throughput:  %.1f transitions/s\n", float64(success)/elapsed.Seconds())
	fmt.Printf("Completed:   %v\n", completed)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
