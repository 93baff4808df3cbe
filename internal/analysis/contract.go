package analysis

import (
	"strings"
	"time"

	"emotrack-go/internal/types"
)

const (
	DefaultEmotion  = "Unknown"
	DefaultPolarity = "Neutral"

	localModelVersion = "local-fallback"
)

// EnsureContract returns a copy of a with every documented field populated:
// nil lists become empty, tone features always exist with all sub-keys, and
// audio features carry the duration_s alias of duration_sec. Applying it
// twice yields the same value as applying it once.
func EnsureContract(a types.AnalysisResult) types.AnalysisResult {
	out := a.Clone()

	if strings.TrimSpace(out.PrimaryEmotion) == "" {
		out.PrimaryEmotion = DefaultEmotion
	}
	if out.Polarity == "" {
		out.Polarity = DefaultPolarity
	}
	if out.ModelVersion == "" {
		out.ModelVersion = "unknown"
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.SecondaryEmotions == nil {
		out.SecondaryEmotions = []string{}
	}
	if out.ContextTags == nil {
		out.ContextTags = []string{}
	}

	if out.ToneFeatures == nil {
		out.ToneFeatures = &types.ToneFeatures{}
	}
	if out.ToneFeatures.VoiceEmotionProbabilities == nil {
		out.ToneFeatures.VoiceEmotionProbabilities = map[string]float64{}
	}

	if out.AudioFeatures != nil {
		if d, ok := out.AudioFeatures["duration_sec"]; ok {
			if _, has := out.AudioFeatures["duration_s"]; !has {
				out.AudioFeatures["duration_s"] = d
			}
		}
	}
	return out
}

// LocalAnalysis synthesizes the deterministic result used when the provider
// is disabled or exhausted. reason is recorded in the provenance tag.
func LocalAnalysis(text string, features types.AudioFeatures, reason string, now time.Time) types.AnalysisResult {
	primary := "Neutral"
	if strings.TrimSpace(text) != "" {
		primary = "Mixed"
	}
	t := text
	res := types.AnalysisResult{
		PrimaryEmotion:    primary,
		Intensity:         0.2,
		Polarity:          DefaultPolarity,
		Confidence:        0.5,
		Keywords:          []string{},
		Transcript:        &t,
		ModelVersion:      localModelVersion + types.FallbackMarker + reason,
		AnalysisTimestamp: now.UTC(),
	}
	if len(features) > 0 {
		res = EnrichWithAudio(res, features)
	}
	return EnsureContract(res)
}

// EnrichWithAudio returns a copy carrying the audio features, derived tone
// features and an energy-adjusted intensity.
func EnrichWithAudio(a types.AnalysisResult, features types.AudioFeatures) types.AnalysisResult {
	out := a.Clone()
	out.AudioFeatures = features.Clone()
	out.ToneFeatures = ToneFromAudio(features)

	if energy, ok := features["energy_mean_db"]; ok {
		switch {
		case energy > 0.3:
			out.Intensity = min(1.0, out.Intensity+0.2)
		case energy < 0.1:
			out.Intensity = max(0.0, out.Intensity-0.1)
		}
	}
	return out
}

// ToneFromAudio maps prosodic features onto the tone feature block.
func ToneFromAudio(features types.AudioFeatures) *types.ToneFeatures {
	return &types.ToneFeatures{
		PitchMeanHz:               features.Get("pitch_mean_hz"),
		PitchStdHz:                features.Get("pitch_std_hz"),
		SpeechRateWPM:             features.Get("speech_rate_wpm"),
		VoiceIntensityDB:          features.Get("energy_mean_db"),
		VoiceEmotionProbabilities: map[string]float64{},
	}
}
