package types

import (
	"strings"
	"time"
)

type ResponseStatus string

const (
	StatusQueued    ResponseStatus = "QUEUED"
	StatusCompleted ResponseStatus = "COMPLETED"
	StatusFailed    ResponseStatus = "FAILED"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes s, falling back to def for unknown values.
func ParseSeverity(s string, def Severity) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo
	case SeverityWarning:
		return SeverityWarning
	case SeverityCritical:
		return SeverityCritical
	}
	return def
}

type RuleType string

const (
	RuleIntensityHigh    RuleType = "intensity_high"
	RuleEmotionStreak    RuleType = "emotion_streak"
	RuleAvgIntensityHigh RuleType = "avg_intensity_high"
)

// TranscriptPending marks a response that has audio but no transcript yet.
const TranscriptPending = "[transcription pending]"

type AudioArtifact struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	DurationSec *float64 `json:"duration_sec,omitempty"`
}

// ResponseRecord is one submitted emotional response.
// Analysis/AnalysisEnc and Transcript/TranscriptEnc are mutually exclusive pairs.
type ResponseRecord struct {
	ID            int64           `json:"id"`
	ChildID       *int64          `json:"child_id"`
	ChildName     string          `json:"child_name"`
	Text          string          `json:"text"`
	Emoji         string          `json:"emoji,omitempty"`
	Audio         *AudioArtifact  `json:"audio,omitempty"`
	Status        ResponseStatus  `json:"status"`
	Emotion       string          `json:"emotion"`
	Intensity     float64         `json:"intensity"`
	Analysis      *AnalysisResult `json:"analysis,omitempty"`
	AnalysisEnc   []byte          `json:"-"`
	Transcript    *string         `json:"transcript,omitempty"`
	TranscriptEnc []byte          `json:"-"`
	TaskID        string          `json:"task_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AlertRecord struct {
	ID          int64     `json:"id"`
	ChildID     int64     `json:"child_id"`
	ResponseID  *int64    `json:"response_id,omitempty"`
	Type        RuleType  `json:"alert_type"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	RuleVersion string    `json:"rule_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy so stored records never alias caller memory.
func (r ResponseRecord) Clone() ResponseRecord {
	out := r
	if r.ChildID != nil {
		id := *r.ChildID
		out.ChildID = &id
	}
	if r.Audio != nil {
		a := *r.Audio
		a.DurationSec = cloneFloat(r.Audio.DurationSec)
		out.Audio = &a
	}
	if r.Analysis != nil {
		a := r.Analysis.Clone()
		out.Analysis = &a
	}
	out.AnalysisEnc = append([]byte(nil), r.AnalysisEnc...)
	out.TranscriptEnc = append([]byte(nil), r.TranscriptEnc...)
	out.Transcript = cloneString(r.Transcript)
	return out
}

// HasSubject reports whether the response is linked to a child.
func (r ResponseRecord) HasSubject() bool { return r.ChildID != nil }
