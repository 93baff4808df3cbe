package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"emotrack-go/internal/types"
)

// Response is the persisted response row.
type Response struct {
	ID               int64    `gorm:"primaryKey"`
	ChildID          *int64   `gorm:"index:idx_response_child_created,priority:1"`
	ChildName        string   `gorm:"size:128"`
	Text             string   `gorm:"type:text"`
	Emoji            string   `gorm:"size:32"`
	AudioPath        *string  `gorm:"size:512"`
	AudioFormat      *string  `gorm:"size:16"`
	AudioDurationSec *float64
	Status           string         `gorm:"size:16;index"`
	Emotion          string         `gorm:"size:64;default:Unknown"`
	Intensity        float64        `gorm:"default:0"`
	AnalysisJSON     datatypes.JSON `gorm:"type:jsonb"`
	AnalysisJSONEnc  []byte         `gorm:"type:bytea"`
	Transcript       *string        `gorm:"type:text"`
	TranscriptEnc    []byte         `gorm:"type:bytea"`
	TaskID           string         `gorm:"size:64;index"`
	CreatedAt        time.Time      `gorm:"index:idx_response_child_created,priority:2"`
	UpdatedAt        time.Time
}

// Alert is the persisted alert row. idx_alert_dedup serves the dedup
// window lookup; it is deliberately not unique.
type Alert struct {
	ID          int64     `gorm:"primaryKey"`
	ChildID     int64     `gorm:"index:idx_alert_dedup,priority:1"`
	ResponseID  *int64    `gorm:"index"`
	Type        string    `gorm:"size:64;index:idx_alert_dedup,priority:2"`
	Message     string    `gorm:"type:text"`
	Severity    string    `gorm:"size:16"`
	RuleVersion string    `gorm:"size:16;index:idx_alert_dedup,priority:3"`
	CreatedAt   time.Time `gorm:"index:idx_alert_dedup,priority:4"`
}

// AppConfig holds operator overrides keyed by setting name.
type AppConfig struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func responseToEntity(r *types.ResponseRecord) (*Response, error) {
	e := &Response{
		ID:              r.ID,
		ChildID:         r.ChildID,
		ChildName:       r.ChildName,
		Text:            r.Text,
		Emoji:           r.Emoji,
		Status:          string(r.Status),
		Emotion:         r.Emotion,
		Intensity:       r.Intensity,
		AnalysisJSONEnc: r.AnalysisEnc,
		Transcript:      r.Transcript,
		TranscriptEnc:   r.TranscriptEnc,
		TaskID:          r.TaskID,
		CreatedAt:       r.CreatedAt,
	}
	if r.Audio != nil {
		e.AudioPath = &r.Audio.Path
		e.AudioFormat = &r.Audio.Format
		e.AudioDurationSec = r.Audio.DurationSec
	}
	if r.Analysis != nil {
		raw, err := json.Marshal(r.Analysis)
		if err != nil {
			return nil, fmt.Errorf("marshal analysis: %w", err)
		}
		e.AnalysisJSON = datatypes.JSON(raw)
	}
	return e, nil
}

func responseFromEntity(e *Response) (*types.ResponseRecord, error) {
	r := &types.ResponseRecord{
		ID:            e.ID,
		ChildID:       e.ChildID,
		ChildName:     e.ChildName,
		Text:          e.Text,
		Emoji:         e.Emoji,
		Status:        types.ResponseStatus(e.Status),
		Emotion:       e.Emotion,
		Intensity:     e.Intensity,
		AnalysisEnc:   e.AnalysisJSONEnc,
		Transcript:    e.Transcript,
		TranscriptEnc: e.TranscriptEnc,
		TaskID:        e.TaskID,
		CreatedAt:     e.CreatedAt,
	}
	if e.AudioPath != nil {
		r.Audio = &types.AudioArtifact{Path: *e.AudioPath, DurationSec: e.AudioDurationSec}
		if e.AudioFormat != nil {
			r.Audio.Format = *e.AudioFormat
		}
	}
	if len(e.AnalysisJSON) > 0 && string(e.AnalysisJSON) != "null" {
		var a types.AnalysisResult
		if err := json.Unmarshal(e.AnalysisJSON, &a); err != nil {
			return nil, fmt.Errorf("unmarshal analysis for response %d: %w", e.ID, err)
		}
		r.Analysis = &a
	}
	return r, nil
}

func alertToEntity(a *types.AlertRecord) *Alert {
	return &Alert{
		ID:          a.ID,
		ChildID:     a.ChildID,
		ResponseID:  a.ResponseID,
		Type:        string(a.Type),
		Message:     a.Message,
		Severity:    string(a.Severity),
		RuleVersion: a.RuleVersion,
		CreatedAt:   a.CreatedAt,
	}
}

func alertFromEntity(e *Alert) types.AlertRecord {
	return types.AlertRecord{
		ID:          e.ID,
		ChildID:     e.ChildID,
		ResponseID:  e.ResponseID,
		Type:        types.RuleType(e.Type),
		Message:     e.Message,
		Severity:    types.Severity(e.Severity),
		RuleVersion: e.RuleVersion,
		CreatedAt:   e.CreatedAt,
	}
}
