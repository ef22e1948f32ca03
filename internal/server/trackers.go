package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
)

type updateScrapingStatusRequest struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) GetTracker(c *gin.Context) {
	tracker, err := s.trackerSvc.GetTracker(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tracker})
}

func (s *Server) ListTrackersByUser(c *gin.Context) {
	trackers, err := s.trackerSvc.ListTrackersByUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trackers})
}

// DeleteTracker lets owners remove their own trackers.
func (s *Server) DeleteTracker(c *gin.Context) {
	userID, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	tracker, err := s.trackerSvc.GetTracker(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tracker.UserID != userID {
		AbortWithError(c, ErrForbidden)
		return
	}

	if err := s.trackerSvc.DeleteTracker(ctx, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UpdateScrapingStatus(c *gin.Context) {
	var req updateScrapingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := trackerdomain.ScrapingStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	tracker, err := s.trackerSvc.UpdateScrapingStatus(c.Request.Context(), c.Param("id"), status, req.Error)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tracker})
}
