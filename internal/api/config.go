package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"emotrack-go/internal/alerts"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

type alertThresholds struct {
	IntensityHigh       float64 `json:"intensity_high" binding:"gte=0"`
	EmotionStreakLength int     `json:"emotion_streak_length" binding:"gte=0"`
	AvgCount            int     `json:"avg_count" binding:"gte=0"`
	AvgThreshold        float64 `json:"avg_threshold" binding:"gte=0"`
}

type alertSeverities struct {
	IntensityHigh    string `json:"intensity_high" binding:"required"`
	EmotionStreak    string `json:"emotion_streak" binding:"required"`
	AvgIntensityHigh string `json:"avg_intensity_high" binding:"required"`
}

func (s *Server) getThresholds(c *gin.Context) {
	st := s.engine.Settings(c.Request.Context(), s.store)
	c.JSON(http.StatusOK, alertThresholds{
		IntensityHigh:       st.IntensityHighThreshold,
		EmotionStreakLength: st.EmotionStreakLength,
		AvgCount:            st.AvgIntensityCount,
		AvgThreshold:        st.AvgIntensityThreshold,
	})
}

func (s *Server) putThresholds(c *gin.Context) {
	if !s.engine.Dynamic() {
		abort(c, http.StatusBadRequest, "dynamic_config_disabled", "")
		return
	}
	var body alertThresholds
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.saveOverrides(c, body, map[string]string{
		alerts.KeyIntensityHighThreshold: strconv.FormatFloat(body.IntensityHigh, 'f', -1, 64),
		alerts.KeyEmotionStreakLength:    strconv.Itoa(body.EmotionStreakLength),
		alerts.KeyAvgIntensityCount:      strconv.Itoa(body.AvgCount),
		alerts.KeyAvgIntensityThreshold:  strconv.FormatFloat(body.AvgThreshold, 'f', -1, 64),
	})
}

func (s *Server) getSeverities(c *gin.Context) {
	st := s.engine.Settings(c.Request.Context(), s.store)
	c.JSON(http.StatusOK, alertSeverities{
		IntensityHigh:    string(st.SeverityIntensityHigh),
		EmotionStreak:    string(st.SeverityEmotionStreak),
		AvgIntensityHigh: string(st.SeverityAvgIntensity),
	})
}

func (s *Server) putSeverities(c *gin.Context) {
	if !s.engine.Dynamic() {
		abort(c, http.StatusBadRequest, "dynamic_config_disabled", "")
		return
	}
	var body alertSeverities
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	values := map[string]string{
		alerts.KeySeverityIntensityHigh: body.IntensityHigh,
		alerts.KeySeverityEmotionStreak: body.EmotionStreak,
		alerts.KeySeverityAvgIntensity:  body.AvgIntensityHigh,
	}
	for k, v := range values {
		norm := strings.ToLower(strings.TrimSpace(v))
		if types.ParseSeverity(norm, "") == "" {
			abort(c, http.StatusBadRequest, "severity_invalid", v)
			return
		}
		values[k] = norm
	}
	body.IntensityHigh = values[alerts.KeySeverityIntensityHigh]
	body.EmotionStreak = values[alerts.KeySeverityEmotionStreak]
	body.AvgIntensityHigh = values[alerts.KeySeverityAvgIntensity]
	s.saveOverrides(c, body, values)
}

func (s *Server) saveOverrides(c *gin.Context, body any, values map[string]string) {
	ctx := c.Request.Context()
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		for k, v := range values {
			if err := tx.SetConfig(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "store_unavailable", "could not save configuration")
		return
	}
	c.JSON(http.StatusOK, body)
}
