package analysis

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"

	"emotrack-go/internal/types"
)

// ProviderEmotion is the emotion block the provider returns.
type ProviderEmotion struct {
	Primary    string   `json:"primary,omitempty" jsonschema:"description=primary emotion label"`
	Label      string   `json:"label,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty" jsonschema:"minimum=0,maximum=1"`
	Polarity   string   `json:"polarity,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
}

type providerRequest struct {
	Model          string                 `json:"model"`
	Input          string                 `json:"input"`
	Tasks          []string               `json:"tasks"`
	AudioFeatures  types.AudioFeatures    `json:"audio_features"`
	ResponseSchema map[string]interface{} `json:"response_schema,omitempty"`
}

type providerResponse struct {
	Emotion *ProviderEmotion `json:"emotion"`
}

var emotionSchema = generateSchema[ProviderEmotion]()

func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// parseEmotion reads the emotion block either from a native {"emotion": ...}
// body or from an OpenAI-style choices[0].message.content JSON payload.
func parseEmotion(body []byte) (*ProviderEmotion, bool) {
	var direct providerResponse
	if err := json.Unmarshal(body, &direct); err == nil && direct.Emotion != nil {
		return direct.Emotion, true
	}
	if inner := extractContentFromChoices(body); inner != "" {
		var wrapped providerResponse
		if err := json.Unmarshal([]byte(inner), &wrapped); err == nil && wrapped.Emotion != nil {
			return wrapped.Emotion, true
		}
		var bare ProviderEmotion
		if err := json.Unmarshal([]byte(inner), &bare); err == nil && (bare.Primary != "" || bare.Label != "") {
			return &bare, true
		}
	}
	return nil, false
}

// extractContentFromChoices attempts to read openai-style choices[0].message.content JSON
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return extractJSON(content)
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
