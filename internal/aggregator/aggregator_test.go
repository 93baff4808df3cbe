package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"emotrack-go/internal/types"
)

func rec(emotion string, intensity float64) types.ResponseRecord {
	return types.ResponseRecord{Status: types.StatusCompleted, Emotion: emotion, Intensity: intensity}
}

func TestAggregate(t *testing.T) {
	p := Aggregate(3, []types.ResponseRecord{
		rec("Sad", 0.9), rec("Happy", 0.1), rec("Sad", 0.8), rec("", 0.2),
	})
	assert.Equal(t, int64(3), p.ChildID)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, "Sad", p.Dominant)
	assert.Equal(t, 1, p.EmotionCounts["Neutral"])
	assert.InDelta(t, 0.5, p.MeanIntensity, 1e-9)
}

func TestAggregate_TieGoesToNewest(t *testing.T) {
	p := Aggregate(1, []types.ResponseRecord{rec("Sad", 0), rec("Angry", 0)})
	assert.Equal(t, "Angry", p.Dominant)
}

func TestAggregate_FallsBackToAnalysis(t *testing.T) {
	r := rec("", 0)
	r.Analysis = &types.AnalysisResult{PrimaryEmotion: "Anxious"}
	assert.Equal(t, "Anxious", Aggregate(1, []types.ResponseRecord{r}).Dominant)
}

func TestAggregate_Empty(t *testing.T) {
	p := Aggregate(1, nil)
	assert.Zero(t, p.Total)
	assert.Empty(t, p.Dominant)
}
