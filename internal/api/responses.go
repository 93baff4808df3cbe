package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"emotrack-go/internal/audio"
	"emotrack-go/internal/pipeline"
	"emotrack-go/internal/queue"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

const defaultUploadExt = ".webm"

// submitResponse accepts multipart fields text, child_id, child_name,
// selected_emoji, force_intensity and an optional audio_file.
func (s *Server) submitResponse(c *gin.Context) {
	ctx := c.Request.Context()
	sub := pipeline.Submission{
		Text:  strings.TrimSpace(c.PostForm("text")),
		Emoji: c.PostForm("selected_emoji"),
	}

	childRef := strings.TrimSpace(c.PostForm("child_id"))
	if id, err := strconv.ParseInt(childRef, 10, 64); err == nil {
		sub.ChildID = &id
	}
	sub.ChildName = strings.TrimSpace(c.PostForm("child_name"))
	if sub.ChildName == "" {
		sub.ChildName = childRef
	}
	if sub.ChildName == "" {
		sub.ChildName = "child"
	}

	if raw := strings.TrimSpace(c.PostForm("force_intensity")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			abort(c, http.StatusBadRequest, "invalid_force_intensity", err.Error())
			return
		}
		sub.ForceIntensity = &v
	}

	if file, err := c.FormFile("audio_file"); err == nil {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if ext == "" {
			ext = defaultUploadExt
		}
		if err := os.MkdirAll(s.cfg.Audio.Dir, 0o755); err != nil {
			_ = c.Error(err)
			abort(c, http.StatusInternalServerError, "storage_unavailable", "could not prepare audio directory")
			return
		}
		path := filepath.Join(s.cfg.Audio.Dir, fmt.Sprintf("resp_%d_%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], ext))
		if err := c.SaveUploadedFile(file, path); err != nil {
			_ = c.Error(err)
			abort(c, http.StatusInternalServerError, "storage_unavailable", "could not store audio")
			return
		}

		artifact, err := s.audio.Validate(path, file.Size)
		if err != nil {
			_ = os.Remove(path)
			var ve *audio.ValidationError
			if errors.As(err, &ve) {
				c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid_audio", Reason: ve.Reason, Message: err.Error()})
				return
			}
			_ = c.Error(err)
			abort(c, http.StatusBadRequest, "invalid_audio", err.Error())
			return
		}
		s.log.WithField("path", path).WithField("size", file.Size).Info("stored audio")
		sub.Audio = artifact
	}

	taskID, responseID, err := s.pipeline.Submit(ctx, sub)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, queue.ErrQueueFull) {
			abort(c, http.StatusServiceUnavailable, "queue_full", "too many responses waiting, retry later")
			return
		}
		abort(c, http.StatusInternalServerError, "enqueue_failed", "could not queue response")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":      "accepted",
		"task_id":     taskID,
		"response_id": responseID,
		"message":     "Queued for analysis",
	})
}

func (s *Server) responseStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	status, err := s.pipeline.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "status_unavailable", "could not read task status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": status})
}

type responseView struct {
	ID         int64                 `json:"id"`
	ChildID    *int64                `json:"child_id"`
	ChildName  string                `json:"child_name"`
	Emotion    string                `json:"emotion"`
	Intensity  float64               `json:"intensity"`
	Status     types.ResponseStatus  `json:"status"`
	Audio      *types.AudioArtifact  `json:"audio,omitempty"`
	Analysis   *types.AnalysisResult `json:"analysis_json"`
	Transcript *string               `json:"transcript"`
	CreatedAt  time.Time             `json:"created_at"`
}

func (s *Server) getResponse(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_id", "response id must be numeric")
		return
	}
	rec, err := s.store.GetResponse(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "not_found", "")
		return
	}
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "store_unavailable", "could not load response")
		return
	}

	view := responseView{
		ID:        rec.ID,
		ChildID:   rec.ChildID,
		ChildName: rec.ChildName,
		Emotion:   rec.Emotion,
		Intensity: rec.Intensity,
		Status:    rec.Status,
		Audio:     rec.Audio,
		CreatedAt: rec.CreatedAt,
	}
	if view.Analysis, err = s.sealer.OpenAnalysis(rec); err != nil {
		_ = c.Error(err)
	}
	if view.Transcript, err = s.sealer.OpenTranscript(rec); err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) listAlerts(c *gin.Context) {
	childID, err := strconv.ParseInt(c.Query("child_id"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_child_id", "child_id query parameter is required")
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	items, err := s.store.ListAlerts(c.Request.Context(), childID, limit)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "store_unavailable", "could not list alerts")
		return
	}
	if items == nil {
		items = []types.AlertRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}
