package models

import (
	"testing"
	"time"
)

func TestNewAttemptEvent_Complete(t *testing.T) {
	reason := ErrorKindBotDetected
	ua := "curl/7.68.0"
	attempt := &RegistrationAttempt{
		ID:          "attempt-1",
		SourceKey:   "203.0.113.7",
		Timestamp:   time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		DeviceName:  "lobby-kiosk",
		Fingerprint: &DeviceFingerprint{HardwareID: "hw-1"},
		UserAgent:   &ua,
		Outcome:     OutcomeRejected,
		Reason:      &reason,
	}

	ev := NewAttemptEvent(attempt)

	if ev.EventType != SecurityEventRegistration {
		t.Errorf("expected event type %s, got %s", SecurityEventRegistration, ev.EventType)
	}
	if ev.Outcome == nil || *ev.Outcome != "rejected" {
		t.Errorf("expected outcome rejected, got %v", ev.Outcome)
	}
	if ev.Reason == nil || *ev.Reason != "bot_detected" {
		t.Errorf("expected reason bot_detected, got %v", ev.Reason)
	}
	if ev.RiskScore != nil {
		t.Errorf("expected no risk score for unscored attempt, got %v", *ev.RiskScore)
	}
	if ev.Metadata["user_agent"] != ua {
		t.Errorf("expected user_agent %s, got %v", ua, ev.Metadata["user_agent"])
	}
	if ev.Metadata["fingerprint_hash"] != attempt.Fingerprint.Hash() {
		t.Errorf("expected fingerprint hash in metadata")
	}
}

func TestNewAttemptEvent_ScoredAndFlagged(t *testing.T) {
	attempt := &RegistrationAttempt{
		ID:        "attempt-2",
		SourceKey: "198.51.100.4",
		Timestamp: time.Now(),
		Outcome:   OutcomeAccepted,
		RiskScore: 7.5,
		RiskLevel: RiskLevelCritical,
		Flagged:   true,
	}

	ev := NewAttemptEvent(attempt)

	if ev.RiskScore == nil || *ev.RiskScore != 7.5 {
		t.Errorf("expected risk score 7.5, got %v", ev.RiskScore)
	}
	if ev.RiskLevel == nil || *ev.RiskLevel != "critical" {
		t.Errorf("expected risk level critical, got %v", ev.RiskLevel)
	}
	markers, ok := ev.Metadata["markers"].([]string)
	if !ok || len(markers) != 1 || markers[0] != MarkerFlaggedForReview {
		t.Errorf("expected flagged_for_review marker, got %v", ev.Metadata["markers"])
	}
	if _, hasUA := ev.Metadata["user_agent"]; hasUA {
		t.Errorf("expected user_agent to be omitted when nil")
	}
}

func TestDeviceFingerprintHash_IgnoresMACOrderAndCase(t *testing.T) {
	a := &DeviceFingerprint{HardwareID: "hw-9", MACAddresses: []string{"AA:BB:CC:DD:EE:01", "aa:bb:cc:dd:ee:02"}}
	b := &DeviceFingerprint{HardwareID: "hw-9", MACAddresses: []string{"aa:bb:cc:dd:ee:02", "aa:bb:cc:dd:ee:01"}}
	c := &DeviceFingerprint{HardwareID: "hw-10", MACAddresses: []string{"aa:bb:cc:dd:ee:01"}}

	if a.Hash() != b.Hash() {
		t.Errorf("expected equal hashes for reordered MACs")
	}
	if a.Hash() == c.Hash() {
		t.Errorf("expected different hashes for different hardware")
	}
}

func TestBlockRecord_Active(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &BlockRecord{SourceKey: "k", StartedAt: start, ExpiresAt: start.Add(30 * time.Minute)}

	if !rec.Active(start.Add(29 * time.Minute)) {
		t.Errorf("expected block to be active at T+29m")
	}
	if rec.Active(start.Add(30 * time.Minute)) {
		t.Errorf("expected block to expire at T+30m")
	}
	rec.ManualOverride = true
	if rec.Active(start) {
		t.Errorf("expected manual override to lift block")
	}
}
