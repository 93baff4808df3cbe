package types

import (
	"strings"
	"time"
)

// FallbackMarker separates the model tag from the fallback reason in ModelVersion.
const FallbackMarker = ";fallback_reason="

type ToneFeatures struct {
	PitchMeanHz               *float64           `json:"pitch_mean_hz"`
	PitchStdHz                *float64           `json:"pitch_std_hz"`
	SpeechRateWPM             *float64           `json:"speech_rate_wpm"`
	VoiceIntensityDB          *float64           `json:"voice_intensity_db"`
	VoiceEmotionProbabilities map[string]float64 `json:"voice_emotion_probabilities"`
}

// AudioFeatures holds named scalar features extracted from an audio artifact.
type AudioFeatures map[string]float64

func (f AudioFeatures) Clone() AudioFeatures {
	if f == nil {
		return nil
	}
	out := make(AudioFeatures, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Get returns the feature value as a pointer, nil when absent.
func (f AudioFeatures) Get(name string) *float64 {
	v, ok := f[name]
	if !ok {
		return nil
	}
	return &v
}

// AnalysisResult is the stable analysis contract. Values are copied, never
// mutated in place; use the With* helpers to derive enriched copies.
type AnalysisResult struct {
	PrimaryEmotion    string        `json:"primary_emotion"`
	Intensity         float64       `json:"intensity"`
	Polarity          string        `json:"polarity"`
	Confidence        float64       `json:"confidence"`
	Keywords          []string      `json:"keywords"`
	SecondaryEmotions []string      `json:"secondary_emotions"`
	ContextTags       []string      `json:"context_tags"`
	EmojiConcordance  *string       `json:"emoji_concordance"`
	HypothesisTrigger *string       `json:"hypothesis_trigger"`
	RecommendedAction *string       `json:"recommended_action"`
	ToneFeatures      *ToneFeatures `json:"tone_features"`
	AudioFeatures     AudioFeatures `json:"audio_features"`
	Transcript        *string       `json:"transcript"`
	ModelVersion      string        `json:"model_version"`
	AnalysisTimestamp time.Time     `json:"analysis_timestamp"`
}

// Clone returns a deep copy.
func (a AnalysisResult) Clone() AnalysisResult {
	out := a
	out.Keywords = cloneStrings(a.Keywords)
	out.SecondaryEmotions = cloneStrings(a.SecondaryEmotions)
	out.ContextTags = cloneStrings(a.ContextTags)
	out.EmojiConcordance = cloneString(a.EmojiConcordance)
	out.HypothesisTrigger = cloneString(a.HypothesisTrigger)
	out.RecommendedAction = cloneString(a.RecommendedAction)
	out.Transcript = cloneString(a.Transcript)
	out.AudioFeatures = a.AudioFeatures.Clone()
	if a.ToneFeatures != nil {
		tf := *a.ToneFeatures
		tf.PitchMeanHz = cloneFloat(tf.PitchMeanHz)
		tf.PitchStdHz = cloneFloat(tf.PitchStdHz)
		tf.SpeechRateWPM = cloneFloat(tf.SpeechRateWPM)
		tf.VoiceIntensityDB = cloneFloat(tf.VoiceIntensityDB)
		if tf.VoiceEmotionProbabilities != nil {
			probs := make(map[string]float64, len(tf.VoiceEmotionProbabilities))
			for k, v := range tf.VoiceEmotionProbabilities {
				probs[k] = v
			}
			tf.VoiceEmotionProbabilities = probs
		}
		out.ToneFeatures = &tf
	}
	return out
}

// WithTranscript returns a copy carrying transcript t.
func (a AnalysisResult) WithTranscript(t string) AnalysisResult {
	out := a.Clone()
	out.Transcript = &t
	return out
}

// FallbackReason extracts the reason tag, empty for provider-sourced results.
func (a AnalysisResult) FallbackReason() string {
	i := strings.Index(a.ModelVersion, FallbackMarker)
	if i < 0 {
		return ""
	}
	return a.ModelVersion[i+len(FallbackMarker):]
}

func (a AnalysisResult) IsFallback() bool {
	return strings.Contains(a.ModelVersion, FallbackMarker)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func Float(v float64) *float64 { return &v }

func String(s string) *string { return &s }
