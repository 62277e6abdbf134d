// Script seed_task creates a demo task and walks its jobs through a
// typical lifecycle for development.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
	"github.com/simonepigazzini/dynamic-automation/internal/job"
	"github.com/simonepigazzini/dynamic-automation/internal/metrics"
	"github.com/simonepigazzini/dynamic-automation/internal/storage"
)

func main() {
	database := getEnv("DYNAUTO_DB", "dynauto")
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx := context.Background()
	task := job.Task{Name: "seed-task", Campaign: "dev", Block: 0}

	tracker, err := storage.NewInfluxTracker(config.FromEnv(), task, database, logger, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		log.Fatalf("create tracker: %v", err)
	}
	defer tracker.Close()

	// Seed ten idle jobs, overwriting any previous seed run.
	ids := make([]string, 10)
	fields := make([]job.Fields, 10)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
		fields[i] = job.Fields{"host": fmt.Sprintf("node%03d", i)}
	}
	if err := tracker.CreateTask(ctx, ids, fields, true); err != nil {
		log.Fatalf("create task: %v", err)
	}
	fmt.Printf("seeded task %s/%s with %d idle jobs\n", task.Campaign, task.Name, len(ids))

	// Walk a few jobs through their lifecycle.
	for _, id := range ids[:5] {
		if err := tracker.Running(ctx, id, nil); err != nil {
			log.Fatalf("mark running %s: %v", id, err)
		}
		if err := tracker.Done(ctx, id, job.Fields{"exit_code": 0}); err != nil {
			log.Fatalf("mark done %s: %v", id, err)
		}
	}
	if err := tracker.Failed(ctx, ids[5], job.Fields{"exit_code": 1}); err != nil {
		log.Fatalf("mark failed %s: %v", ids[5], err)
	}

	buckets, err := tracker.Jobs(ctx)
	if err != nil {
		log.Fatalf("list jobs: %v", err)
	}
	for _, s := range job.Statuses() {
		fmt.Printf("%-8s %v\n", s, buckets[s])
	}

	fmt.Println("\nseed complete: 5 done, 1 failed, 4 idle")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
