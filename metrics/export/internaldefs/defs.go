package internaldefs

import (
	"github.com/MrEthical07/credlife"
)

// CounterDef maps one engine counter to its exported name.
type CounterDef struct {
	ID   credlife.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine latency histogram to its exported name.
type HistogramDef struct {
	ID   credlife.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: credlife.MetricJoinSuccess, Name: "credlife_join_success_total", Help: "Successful account enrollments."},
	{ID: credlife.MetricJoinFailure, Name: "credlife_join_failure_total", Help: "Rejected account enrollments."},
	{ID: credlife.MetricLoginSuccess, Name: "credlife_login_success_total", Help: "Successful logins."},
	{ID: credlife.MetricLoginFailure, Name: "credlife_login_failure_total", Help: "Failed logins."},
	{ID: credlife.MetricRefreshSuccess, Name: "credlife_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: credlife.MetricRefreshFailure, Name: "credlife_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: credlife.MetricRefreshReuseDetected, Name: "credlife_refresh_reuse_detected_total", Help: "Replays of consumed refresh tokens."},
	{ID: credlife.MetricGateRejected, Name: "credlife_gate_rejected_total", Help: "Operations rejected by the account eligibility gate."},
	{ID: credlife.MetricRateLimited, Name: "credlife_rate_limited_total", Help: "Requests denied by the rate limiter."},
	{ID: credlife.MetricSessionCreated, Name: "credlife_session_created_total", Help: "Created sessions."},
	{ID: credlife.MetricSessionRevoked, Name: "credlife_session_revoked_total", Help: "Revoked sessions."},
	{ID: credlife.MetricLogout, Name: "credlife_logout_total", Help: "Single-session logouts."},
	{ID: credlife.MetricLogoutAll, Name: "credlife_logout_all_total", Help: "Logout-all operations."},
	{ID: credlife.MetricPasswordChangeSuccess, Name: "credlife_password_change_success_total", Help: "Successful password changes."},
	{ID: credlife.MetricPasswordChangeFailure, Name: "credlife_password_change_failure_total", Help: "Rejected password changes."},
	{ID: credlife.MetricPasswordResetRequest, Name: "credlife_password_reset_request_total", Help: "Password reset requests past the rate limiter."},
	{ID: credlife.MetricPasswordResetConfirmSuccess, Name: "credlife_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: credlife.MetricPasswordResetConfirmFailure, Name: "credlife_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
}

var HistogramDefs = []HistogramDef{
	{ID: credlife.MetricLoginLatency, Name: "credlife_login_latency_seconds", Help: "Login latency."},
	{ID: credlife.MetricRefreshLatency, Name: "credlife_refresh_latency_seconds", Help: "Refresh latency."},
}

const AuditDroppedName = "credlife_audit_dropped_total"
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// UpperBounds are the finite bucket bounds in seconds. The last engine
// bucket is +Inf.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [credlife.HistogramBucketCount]uint64 {
	var out [credlife.HistogramBucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [credlife.HistogramBucketCount]uint64) [credlife.HistogramBucketCount]uint64 {
	var out [credlife.HistogramBucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
