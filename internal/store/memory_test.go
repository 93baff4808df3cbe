package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotrack-go/internal/types"
)

func child(id int64) *int64 { return &id }

func completed(childID int64, emotion string, intensity float64, at time.Time) *types.ResponseRecord {
	return &types.ResponseRecord{
		ChildID:   child(childID),
		Status:    types.StatusCompleted,
		Emotion:   emotion,
		Intensity: intensity,
		CreatedAt: at,
	}
}

func TestMemoryStore_RecentResponsesOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		require.NoError(t, s.CreateResponse(ctx, completed(1, "Sad", float64(i)/10, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.CreateResponse(ctx, completed(2, "Happy", 1, base)))
	queued := &types.ResponseRecord{ChildID: child(1), Status: types.StatusQueued, CreatedAt: base.Add(time.Hour)}
	require.NoError(t, s.CreateResponse(ctx, queued))

	got, err := s.RecentResponses(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.3, got[0].Intensity, 1e-9)
	assert.InDelta(t, 0.5, got[2].Intensity, 1e-9)
}

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := &types.ResponseRecord{Status: types.StatusQueued}
	require.NoError(t, s.CreateResponse(ctx, r))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx Store) error {
		r.Status = types.StatusCompleted
		require.NoError(t, tx.SaveResponse(ctx, r))
		require.NoError(t, tx.CreateAlert(ctx, &types.AlertRecord{ChildID: 1, Type: types.RuleIntensityHigh}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetResponse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	alerts, _ := s.ListAlerts(ctx, 1, 10)
	assert.Empty(t, alerts)
}

func TestMemoryStore_RollbackKeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	outside := &types.ResponseRecord{Status: types.StatusQueued}
	created := make(chan error, 1)
	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx Store) error {
		require.NoError(t, tx.CreateAlert(ctx, &types.AlertRecord{ChildID: 1, Type: types.RuleIntensityHigh}))
		go func() { created <- s.CreateResponse(ctx, outside) }()
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, <-created)

	got, err := s.GetResponse(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	alerts, _ := s.ListAlerts(ctx, 1, 10)
	assert.Empty(t, alerts)
}

func TestMemoryStore_RecentAlertExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateAlert(ctx, &types.AlertRecord{ChildID: 7, Type: types.RuleEmotionStreak, RuleVersion: "v2", CreatedAt: at}))

	tests := []struct {
		name    string
		child   int64
		rule    types.RuleType
		version string
		since   time.Time
		want    bool
	}{
		{"inside window", 7, types.RuleEmotionStreak, "v2", at.Add(-10 * time.Minute), true},
		{"boundary inclusive", 7, types.RuleEmotionStreak, "v2", at, true},
		{"outside window", 7, types.RuleEmotionStreak, "v2", at.Add(time.Second), false},
		{"other rule", 7, types.RuleIntensityHigh, "v2", at.Add(-time.Hour), false},
		{"other version", 7, types.RuleEmotionStreak, "v1", at.Add(-time.Hour), false},
		{"other child", 8, types.RuleEmotionStreak, "v2", at.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RecentAlertExists(ctx, tt.child, tt.rule, tt.version, tt.since)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryStore_StoredRecordsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := types.AnalysisResult{PrimaryEmotion: "Sad", Keywords: []string{"x"}}
	r := &types.ResponseRecord{Status: types.StatusCompleted, Analysis: &a}
	require.NoError(t, s.CreateResponse(ctx, r))

	a.Keywords[0] = "mutated"
	got, err := s.GetResponse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Analysis.Keywords)
}

func TestMemoryStore_ConfigOverrides(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SetConfig(ctx, "alert_intensity_high_threshold", "0.9"))
	require.NoError(t, s.SetConfig(ctx, "alert_intensity_high_threshold", "0.85"))
	require.NoError(t, s.SetConfig(ctx, "theme", "dark"))

	got, err := s.ConfigOverrides(ctx, "alert_")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alert_intensity_high_threshold": "0.85"}, got)
}

func TestEntityMapping_PreservesEncryptedAndAudioFields(t *testing.T) {
	dur := 2.5
	transcript := "hola"
	in := &types.ResponseRecord{
		ID:          3,
		ChildID:     child(9),
		Audio:       &types.AudioArtifact{Path: "uploads/a.wav", Format: "wav", DurationSec: &dur},
		Status:      types.StatusCompleted,
		Emotion:     "Sad",
		Intensity:   0.6,
		AnalysisEnc: []byte("etk1sealed"),
		Transcript:  &transcript,
	}

	e, err := responseToEntity(in)
	require.NoError(t, err)
	assert.Nil(t, e.AnalysisJSON)
	assert.Equal(t, "uploads/a.wav", *e.AudioPath)

	out, err := responseFromEntity(e)
	require.NoError(t, err)
	assert.Nil(t, out.Analysis)
	assert.Equal(t, in.AnalysisEnc, out.AnalysisEnc)
	assert.Equal(t, *in.Audio, *out.Audio)
	assert.Equal(t, "hola", *out.Transcript)
}
