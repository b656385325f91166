package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	TaskReasonDeadlineExceeded     = "deadline_exceeded"
	TaskReasonDBLockTimeout        = "db_lock_timeout"
	TaskReasonSerializationFailure = "serialization_failure"
	TaskReasonUniqueViolation      = "unique_violation"
	TaskReasonNoHandler            = "no_handler"
	TaskReasonUnknown              = "unknown"
)

const (
	TaskOutcomeDone      = "done"
	TaskOutcomeSkipped   = "skipped"
	TaskOutcomeFailed    = "failed"
	TaskOutcomeRequeued  = "requeued"
	TaskOutcomeCancelled = "cancelled"
)

// ErrNoHandler marks a delivered task whose name has no registered handler.
var ErrNoHandler = errors.New("task_handler_not_found")

// TaskMetrics captures delayed task and background job health as Prometheus series.
type TaskMetrics struct {
	dispatched  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	lockSkipped *prometheus.CounterVec
	queueLag    prometheus.Observer
}

var (
	taskMetricsOnce sync.Once
	taskMetrics     *TaskMetrics
)

// Tasks returns the process-wide task metrics registered on the default registerer.
func Tasks() *TaskMetrics {
	return TasksWithConfig(Config{})
}

func TasksWithConfig(cfg Config) *TaskMetrics {
	taskMetricsOnce.Do(func() {
		taskMetrics = newTaskMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return taskMetrics
}

func newTaskMetrics(registerer prometheus.Registerer, cfg Config) *TaskMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "botledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &TaskMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "botledger_task_dispatched_total",
			Help:        "Delayed tasks delivered to handlers by outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "task", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "botledger_task_duration_seconds",
			Help:        "Delayed task handler latency.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"task"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "botledger_task_errors_total",
			Help:        "Delayed task handler errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"task", "reason"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "botledger_job_runs_total",
			Help:        "Periodic job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "botledger_job_duration_seconds",
			Help:        "Periodic job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		lockSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "botledger_job_lock_skipped_total",
			Help:        "Periodic job runs skipped because another node held the lock.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "botledger_task_lag_seconds",
		Help:        "Delay between a task's run-at and its delivery.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		ConstLabels: constLabels,
	})
	m.queueLag = lag

	registerer.MustRegister(m.dispatched, m.duration, m.errors, m.jobRuns, m.jobDuration, m.lockSkipped, lag)
	return m
}

// ObserveTask records one handled delivery.
func (m *TaskMetrics) ObserveTask(provider, task, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(provider, task, outcome).Inc()
	m.duration.WithLabelValues(task).Observe(took.Seconds())
}

func (m *TaskMetrics) IncTaskError(task string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(task, ClassifyTaskReason(err)).Inc()
}

// ObserveLag records how late a task was delivered relative to its run-at.
func (m *TaskMetrics) ObserveLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.queueLag.Observe(lag.Seconds())
}

func (m *TaskMetrics) ObserveJob(job string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *TaskMetrics) IncLockSkipped(job string) {
	if m == nil {
		return
	}
	m.lockSkipped.WithLabelValues(job).Inc()
}

// ClassifyTaskReason maps handler errors to a bounded set of reasons.
func ClassifyTaskReason(err error) string {
	switch {
	case err == nil:
		return TaskReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TaskReasonDeadlineExceeded
	case errors.Is(err, ErrNoHandler):
		return TaskReasonNoHandler
	case hasPGCode(err, "55P03"):
		return TaskReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return TaskReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return TaskReasonUniqueViolation
	default:
		return TaskReasonUnknown
	}
}

// IsRetryable reports whether a failed delivery should be requeued.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
