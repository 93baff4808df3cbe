// Package aggregator summarises a child's recent responses.
package aggregator

import (
	"strings"

	"emotrack-go/internal/types"
)

// RecommendationWindow is how many recent responses feed a profile.
const RecommendationWindow = 25

type EmotionProfile struct {
	ChildID       int64          `json:"child_id"`
	Total         int            `json:"total"`
	Dominant      string         `json:"dominant_emotion"`
	EmotionCounts map[string]int `json:"emotion_counts"`
	MeanIntensity float64        `json:"mean_intensity"`
}

// Aggregate builds a profile from records ordered oldest first. Ties on
// the dominant emotion go to the one seen most recently.
func Aggregate(childID int64, records []types.ResponseRecord) EmotionProfile {
	p := EmotionProfile{ChildID: childID, EmotionCounts: map[string]int{}}
	if len(records) == 0 {
		return p
	}

	var sum float64
	order := make([]string, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		em := emotionOf(records[i])
		if p.EmotionCounts[em] == 0 {
			order = append(order, em)
		}
		p.EmotionCounts[em]++
		sum += records[i].Intensity
	}
	p.Total = len(records)
	p.MeanIntensity = sum / float64(len(records))

	best := 0
	for _, em := range order {
		if p.EmotionCounts[em] > best {
			best = p.EmotionCounts[em]
			p.Dominant = em
		}
	}
	return p
}

func emotionOf(r types.ResponseRecord) string {
	if em := strings.TrimSpace(r.Emotion); em != "" {
		return em
	}
	if r.Analysis != nil && strings.TrimSpace(r.Analysis.PrimaryEmotion) != "" {
		return strings.TrimSpace(r.Analysis.PrimaryEmotion)
	}
	return "Neutral"
}
