package metrics

import "time"

// TaskCompleted records a successful scheduled task run
func TaskCompleted(task string, duration time.Duration) {
	ScheduledTaskRuns.WithLabelValues(task, "completed").Inc()
	ScheduledTaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// TaskFailed records a failed scheduled task run
func TaskFailed(task string, duration time.Duration) {
	ScheduledTaskRuns.WithLabelValues(task, "failed").Inc()
	ScheduledTaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// EmailAttempt records the result of one SMTP send attempt
func EmailAttempt(err error) {
	if err != nil {
		EmailAttempts.WithLabelValues("failure").Inc()
		return
	}
	EmailAttempts.WithLabelValues("success").Inc()
}
