package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotrack-go/internal/types"
)

func TestEnsureContract_FillsDefaults(t *testing.T) {
	out := EnsureContract(types.AnalysisResult{})

	assert.Equal(t, DefaultEmotion, out.PrimaryEmotion)
	assert.Equal(t, DefaultPolarity, out.Polarity)
	assert.NotNil(t, out.Keywords)
	assert.NotNil(t, out.SecondaryEmotions)
	assert.NotNil(t, out.ContextTags)
	require.NotNil(t, out.ToneFeatures)
	assert.Nil(t, out.ToneFeatures.PitchMeanHz)
	assert.NotNil(t, out.ToneFeatures.VoiceEmotionProbabilities)
	assert.Nil(t, out.AudioFeatures)
}

func TestEnsureContract_Idempotent(t *testing.T) {
	inputs := []types.AnalysisResult{
		{},
		{PrimaryEmotion: "Sad", Intensity: 0.4, AudioFeatures: types.AudioFeatures{"duration_sec": 3.5}},
		{ToneFeatures: &types.ToneFeatures{PitchMeanHz: types.Float(120)}, Keywords: []string{"a"}},
		LocalAnalysis("hola", types.AudioFeatures{"energy_mean_db": 0.05}, "server_503", time.Unix(0, 0)),
	}
	for _, in := range inputs {
		once := EnsureContract(in)
		assert.Equal(t, once, EnsureContract(once))
	}
}

func TestEnsureContract_DoesNotMutateInput(t *testing.T) {
	in := types.AnalysisResult{AudioFeatures: types.AudioFeatures{"duration_sec": 1}}
	out := EnsureContract(in)

	assert.Equal(t, 1.0, out.AudioFeatures["duration_s"])
	_, ok := in.AudioFeatures["duration_s"]
	assert.False(t, ok)
	assert.Nil(t, in.ToneFeatures)
}

func TestEnrichWithAudio_EnergyAdjustsIntensity(t *testing.T) {
	base := types.AnalysisResult{Intensity: 0.2}

	high := EnrichWithAudio(base, types.AudioFeatures{"energy_mean_db": 0.5})
	low := EnrichWithAudio(base, types.AudioFeatures{"energy_mean_db": 0.05})
	mid := EnrichWithAudio(base, types.AudioFeatures{"energy_mean_db": 0.2})

	assert.InDelta(t, 0.4, high.Intensity, 1e-9)
	assert.InDelta(t, 0.1, low.Intensity, 1e-9)
	assert.InDelta(t, 0.2, mid.Intensity, 1e-9)
	assert.InDelta(t, 0.2, base.Intensity, 1e-9)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, extractJSON("noise ```json\n{\"a\":{\"b\":1}}\n``` trailing"))
	assert.Equal(t, "", extractJSON("no braces"))
	assert.Equal(t, "", extractJSON("{unbalanced"))
}
