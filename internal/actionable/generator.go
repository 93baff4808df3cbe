// Package actionable turns an emotion profile into caregiver suggestions.
package actionable

import (
	"fmt"
	"strings"

	"emotrack-go/internal/aggregator"
)

type ActionCard struct {
	Type          string `json:"type"`
	SourceEmotion string `json:"source_emotion"`
	Insight       string `json:"insight"`
	Action        string `json:"recommendation"`
	Impact        string `json:"impact"`
}

const fallbackAction = "Spend quality time together and listen actively."

// keyed by lowercased emotion; the provider may answer in Spanish
var actions = map[string]string{
	"sad":     "Encourage a supervised creative activity such as drawing or soft music.",
	"triste":  "Encourage a supervised creative activity such as drawing or soft music.",
	"angry":   "Practice five slow breathing cycles together with an adult.",
	"enojado": "Practice five slow breathing cycles together with an adult.",
	"anxious": "Offer a guided pause with a short relaxing story.",
	"ansioso": "Offer a guided pause with a short relaxing story.",
	"mixed":   "Have a short conversation to clarify and validate their feelings.",
	"mixto":   "Have a short conversation to clarify and validate their feelings.",
	"neutral": "Give light positive reinforcement for sharing their emotions.",
}

// Generate returns no cards for an empty profile.
func Generate(p aggregator.EmotionProfile) []ActionCard {
	if p.Total == 0 || p.Dominant == "" {
		return []ActionCard{}
	}
	action, ok := actions[strings.ToLower(p.Dominant)]
	if !ok {
		action = fallbackAction
	}
	share := float64(p.EmotionCounts[p.Dominant]) / float64(p.Total)
	impact := "Low immediate intervention"
	if p.MeanIntensity >= 0.7 {
		impact = "Follow up within the day"
	}
	return []ActionCard{{
		Type:          "emotion_based",
		SourceEmotion: p.Dominant,
		Insight:       fmt.Sprintf("%s in %.0f%% of the last %d responses", p.Dominant, share*100, p.Total),
		Action:        action,
		Impact:        impact,
	}}
}
