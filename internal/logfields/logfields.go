package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID         = "job_id"
	KeyCorrelationID = "correlation_id"
	KeyDataStandard  = "data_standard"
	KeyJobState      = "job_state"
	KeyEnvironment   = "environment"
	KeyNode          = "node"
	KeyNodeStatus    = "node_status"
	KeyAttempt       = "attempt"
	KeyMaxAttempts   = "max_attempts"
	KeyDelay         = "delay"
	KeyOperation     = "operation"
	KeyQueue         = "queue"
	KeyMessageID     = "message_id"
	KeyBatchID       = "batch_id"
	KeyDurationMS    = "duration_ms"
	KeyScheduleID    = "schedule_id"
	KeySchedule      = "schedule_name"
	KeyWorker        = "worker"
	KeyError         = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr            { return slog.String(KeyJobID, id) }
func CorrelationID(id string) slog.Attr    { return slog.String(KeyCorrelationID, id) }
func DataStandard(ds string) slog.Attr     { return slog.String(KeyDataStandard, ds) }
func JobState(s string) slog.Attr          { return slog.String(KeyJobState, s) }
func Environment(env string) slog.Attr     { return slog.String(KeyEnvironment, env) }
func Node(name string) slog.Attr           { return slog.String(KeyNode, name) }
func NodeStatus(s string) slog.Attr        { return slog.String(KeyNodeStatus, s) }
func Attempt(n int) slog.Attr              { return slog.Int(KeyAttempt, n) }
func MaxAttempts(n int) slog.Attr          { return slog.Int(KeyMaxAttempts, n) }
func Delay(d time.Duration) slog.Attr      { return slog.Duration(KeyDelay, d) }
func Operation(op string) slog.Attr        { return slog.String(KeyOperation, op) }
func Queue(name string) slog.Attr          { return slog.String(KeyQueue, name) }
func MessageID(id string) slog.Attr        { return slog.String(KeyMessageID, id) }
func BatchID(id string) slog.Attr          { return slog.String(KeyBatchID, id) }
func DurationMS(d time.Duration) slog.Attr { return slog.Int64(KeyDurationMS, d.Milliseconds()) }
func ScheduleID(id string) slog.Attr       { return slog.String(KeyScheduleID, id) }
func ScheduleName(n string) slog.Attr      { return slog.String(KeySchedule, n) }
func Worker(w string) slog.Attr            { return slog.String(KeyWorker, w) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
