package models

import "time"

// SecurityLevel summarizes overall gate pressure.
type SecurityLevel string

const (
	SecurityLevelNormal   SecurityLevel = "normal"
	SecurityLevelElevated SecurityLevel = "elevated"
	SecurityLevelCritical SecurityLevel = "critical"
)

// SecurityStatisticsSnapshot is the read-only view of the aggregator counters.
type SecurityStatisticsSnapshot struct {
	TotalAttempts      int64 `json:"total_attempts"`
	Successful         int64 `json:"successful"`
	Failed             int64 `json:"failed"`
	BlockedSourceCount int   `json:"blocked_ip_count"`
	AttemptsLastHour   int   `json:"attempts_last_hour"`
	FailuresLastHour   int   `json:"-"`
	HighRiskCount      int64 `json:"high_risk_count"`
}

// SuccessRate returns the accepted share of all attempts as a percentage.
func (s SecurityStatisticsSnapshot) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.TotalAttempts) * 100
}

// SecurityStatistics is the external statistics response.
type SecurityStatistics struct {
	TotalAttempts          int64   `json:"total_attempts"`
	Successful             int64   `json:"successful"`
	Failed                 int64   `json:"failed"`
	SuccessRate            float64 `json:"success_rate"`
	BlockedIPCount         int     `json:"blocked_ip_count"`
	AttemptsLastHour       int     `json:"attempts_last_hour"`
	HighRiskCount          int64   `json:"high_risk_count"`
	TotalRegisteredDevices int64   `json:"total_registered_devices"`
}

// SecurityStatus is the external status response.
type SecurityStatus struct {
	Level                SecurityLevel `json:"level"`
	BlockedIPCount       int           `json:"blocked_ip_count"`
	RecentFailedAttempts int           `json:"recent_failed_attempts"`
	MonitoredSourceCount int           `json:"monitored_source_count"`
	LastUpdated          time.Time     `json:"last_updated"`
}
