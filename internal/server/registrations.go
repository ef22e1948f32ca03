package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	registrationdomain "github.com/smallbiznis/leaguetracker/internal/registration/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
)

type registerTrackerRequest struct {
	URL string `json:"url"`
}

type registerTrackersRequest struct {
	URLs []string `json:"urls"`
}

type approveRegistrationRequest struct {
	DisplayName string `json:"displayName"`
}

type rejectRegistrationRequest struct {
	Reason string `json:"reason"`
}

type listRegistrationsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
	UserID    string `form:"user_id"`
}

func (s *Server) RegisterTracker(c *gin.Context) {
	userID, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req registerTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		AbortWithError(c, newValidationError("url", "required", "url is required"))
		return
	}

	result, err := s.registrationSvc.RegisterTracker(c.Request.Context(), userID, c.GetString(contextGuildIDKey), req.URL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("registration_id", result.RegistrationID)
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) RegisterTrackers(c *gin.Context) {
	userID, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req registerTrackersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.registrationSvc.RegisterTrackers(c.Request.Context(), userID, c.GetString(contextGuildIDKey), req.URLs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ListRegistrations(c *gin.Context) {
	var query listRegistrationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrationSvc.ListRegistrations(c.Request.Context(), registrationdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		GuildID: c.GetString(contextGuildIDKey),
		UserID:  strings.TrimSpace(query.UserID),
		Status:  registrationdomain.Status(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Registrations, "page_info": resp.PageInfo})
}

func (s *Server) GetNextRegistration(c *gin.Context) {
	registration, err := s.registrationSvc.GetNextRegistration(c.Request.Context(), c.GetString(contextGuildIDKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": registration})
}

func (s *Server) GetQueueStats(c *gin.Context) {
	stats, err := s.registrationSvc.GetQueueStats(c.Request.Context(), c.GetString(contextGuildIDKey))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) GetRegistrationByUser(c *gin.Context) {
	registration, err := s.registrationSvc.GetRegistrationByUser(c.Request.Context(), c.GetString(contextGuildIDKey), c.Param("username"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": registration})
}

func (s *Server) GetRegistrationByID(c *gin.Context) {
	registration, ok := s.loadGuildRegistration(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": registration})
}

func (s *Server) ApproveRegistration(c *gin.Context) {
	moderatorID, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req approveRegistrationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if _, ok := s.loadGuildRegistration(c); !ok {
		return
	}

	result, err := s.registrationSvc.ProcessRegistration(c.Request.Context(), c.Param("id"), req.DisplayName, moderatorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RejectRegistration(c *gin.Context) {
	moderatorID, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rejectRegistrationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if _, ok := s.loadGuildRegistration(c); !ok {
		return
	}

	registration, err := s.registrationSvc.RejectRegistration(c.Request.Context(), c.Param("id"), req.Reason, moderatorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": registration})
}

// loadGuildRegistration hides registrations that belong to another guild.
func (s *Server) loadGuildRegistration(c *gin.Context) (*registrationdomain.Registration, bool) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("registration_id", id)

	registration, err := s.registrationSvc.GetRegistrationByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if registration.GuildID != c.GetString(contextGuildIDKey) {
		AbortWithError(c, ErrNotFound)
		return nil, false
	}
	return registration, true
}

func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		return invalidRequestError()
	}
	return nil
}
