// Command statusd serves a read-only HTTP view of task and job statuses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
	"github.com/simonepigazzini/dynamic-automation/internal/job"
	"github.com/simonepigazzini/dynamic-automation/internal/metrics"
	"github.com/simonepigazzini/dynamic-automation/internal/storage"
	"github.com/simonepigazzini/dynamic-automation/internal/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize tracing.
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	shutdownTracer, err := tracing.Init(ctx, "dynauto-statusd", otlpEndpoint)
	if err != nil {
		logger.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTracer(ctx)
	}

	// One store connection shared by all request-scoped trackers.
	cfg := config.FromEnv()
	db, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		logger.Fatal("connect to store", zap.Error(err))
	}
	defer db.Close()

	handler := &apiHandler{
		db:        db,
		defaultDB: getEnv("DYNAUTO_DB", "dynauto"),
		metrics:   metrics.New(prometheus.DefaultRegisterer),
		logger:    logger,
	}

	// Set up routes.
	r := mux.NewRouter()
	r.Use(requestID(logger))
	r.HandleFunc("/health", handler.health).Methods("GET")

	api := r.PathPrefix("/api/v1/campaigns/{campaign}/blocks/{block}/tasks/{task}").Subrouter()
	api.HandleFunc("/jobs", handler.listJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", handler.getJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/retries", handler.getRetries).Methods("GET")
	api.HandleFunc("/completed", handler.getCompleted).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())

	addr := getEnv("STATUSD_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("status server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down status server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
}

type apiHandler struct {
	db        influx.Client
	defaultDB string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// tracker builds a request-scoped tracker from the path variables.
func (h *apiHandler) tracker(r *http.Request) (*storage.InfluxTracker, error) {
	vars := mux.Vars(r)

	block, err := strconv.Atoi(vars["block"])
	if err != nil {
		return nil, fmt.Errorf("invalid block id %q", vars["block"])
	}

	database := r.URL.Query().Get("db")
	if database == "" {
		database = h.defaultDB
	}

	task := job.Task{Name: vars["task"], Campaign: vars["campaign"], Block: block}
	return storage.NewTrackerFromClient(h.db, task, database, h.logger, h.metrics)
}

func (h *apiHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	tr, err := h.tracker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	buckets, err := tr.Jobs(r.Context())
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buckets)
}

func (h *apiHandler) getJob(w http.ResponseWriter, r *http.Request) {
	tr, err := h.tracker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	last := r.URL.Query().Get("last") == "true"
	points, err := tr.Job(r.Context(), mux.Vars(r)["id"], last)
	if err != nil {
		h.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, job.ErrJobNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

func (h *apiHandler) getRetries(w http.ResponseWriter, r *http.Request) {
	tr, err := h.tracker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := mux.Vars(r)["id"]
	n, err := tr.Retries(r.Context(), id)
	if err != nil {
		h.logger.Error("get retries failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"job_id": id, "retries": n})
}

func (h *apiHandler) getCompleted(w http.ResponseWriter, r *http.Request) {
	tr, err := h.tracker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	completed, err := tr.TaskCompleted(r.Context())
	if err != nil {
		h.logger.Error("get completed failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := map[string]interface{}{"completed": completed}
	if completed {
		end, err := tr.TaskEndTime(r.Context())
		if err != nil {
			h.logger.Error("get end time failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err)
			return
		}
		resp["end_time"] = end
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, code int, err error) {
	status := code
	if errors.Is(err, job.ErrJobNotFound) {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// requestID tags every request with a short id for log correlation.
func requestID(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()[:8]
			w.Header().Set("X-Request-ID", id)
			logger.Debug("request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
