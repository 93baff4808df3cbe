package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"emotrack-go/internal/actionable"
	"emotrack-go/internal/aggregator"
)

func (s *Server) recommendations(c *gin.Context) {
	childID, err := strconv.ParseInt(c.Param("child_id"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_child_id", "child_id must be numeric")
		return
	}
	recent, err := s.store.RecentResponses(c.Request.Context(), childID, aggregator.RecommendationWindow)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "store_unavailable", "could not load responses")
		return
	}
	profile := aggregator.Aggregate(childID, recent)
	c.JSON(http.StatusOK, gin.H{
		"child_id": childID,
		"profile":  profile,
		"items":    actionable.Generate(profile),
	})
}
