package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/domain"
	"github.com/niyambadha/watchd/internal/policy"
	"github.com/niyambadha/watchd/internal/usecase"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userDataPayload is the "data" envelope of GET /api/userdata.
type userDataPayload struct {
	BlockedDomains    []string                   `json:"blockedDomains"`
	Settings          domain.UserSettings        `json:"settings"`
	LastBlockedDomain string                     `json:"lastBlockedDomain,omitempty"`
	LastBlockedAt     *time.Time                 `json:"lastBlockedAt,omitempty"`
	BlockHistory      []domain.BlockHistoryEntry `json:"blockHistory,omitempty"`
}

func (s *Server) handleGetUserData(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid is required"})
		return
	}

	doc, err := s.users.Get(c.Request.Context(), uid)
	if errors.Is(err, usecase.ErrUserNotFound) {
		// New users have no document yet; clients apply their own
		// defaults when data is absent.
		c.JSON(http.StatusOK, gin.H{"uid": uid})
		return
	}
	if err != nil {
		s.fail(c, "load user document", err)
		return
	}

	blocked := doc.BlockedDomains
	if blocked == nil {
		blocked = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"uid": uid,
		"data": userDataPayload{
			BlockedDomains:    blocked,
			Settings:          doc.Settings,
			LastBlockedDomain: doc.LastBlockedDomain,
			LastBlockedAt:     doc.LastBlockedAt,
			BlockHistory:      doc.BlockHistory,
		},
	})
}

type updateWatchTimeRequest struct {
	UID              string   `json:"uid" binding:"required"`
	WatchTimeMinutes *float64 `json:"watchTimeMinutes" binding:"required"`
}

func (s *Server) handleUpdateWatchTime(c *gin.Context) {
	var req updateWatchTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.users.UpdateWatchTime(c.Request.Context(), req.UID, *req.WatchTimeMinutes); err != nil {
		s.fail(c, "update watch time", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// redirectPayload is the "data" envelope of GET /api/redirects.
type redirectPayload struct {
	PuzzleSolvedAt  *time.Time `json:"puzzleSolvedAt"`
	RedirectCount   int        `json:"redirectCount"`
	FirstRedirectAt time.Time  `json:"firstRedirectAt"`
	LastRedirectAt  time.Time  `json:"lastRedirectAt"`
}

func (s *Server) handleGetRedirect(c *gin.Context) {
	uid := c.Query("uid")
	d := c.Query("domain")
	if uid == "" || d == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid and domain are required"})
		return
	}

	rec, err := s.redirects.Record(c.Request.Context(), uid, policy.Normalize(d))
	if err != nil {
		s.fail(c, "load redirect record", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exists": true,
		"data": redirectPayload{
			PuzzleSolvedAt:  rec.PuzzleSolvedAt,
			RedirectCount:   rec.RedirectCount,
			FirstRedirectAt: rec.FirstRedirectAt,
			LastRedirectAt:  rec.LastRedirectAt,
		},
	})
}

type logRedirectRequest struct {
	UID    string `json:"uid" binding:"required"`
	Domain string `json:"domain" binding:"required"`
}

func (s *Server) handleLogRedirect(c *gin.Context) {
	var req logRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.redirects.Append(c.Request.Context(), req.UID, policy.Normalize(req.Domain)); err != nil {
		s.fail(c, "log redirect", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

type solveRedirectRequest struct {
	UID                 string   `json:"uid" binding:"required"`
	Domain              string   `json:"domain" binding:"required"`
	OriginalTimeMinutes *float64 `json:"originalTimeMinutes" binding:"required"`
}

func (s *Server) handleSolveRedirect(c *gin.Context) {
	var req solveRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.redirects.Solve(c.Request.Context(), req.UID, policy.Normalize(req.Domain), *req.OriginalTimeMinutes)
	if err != nil {
		s.fail(c, "solve redirect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type logBlockRequest struct {
	UID    string `json:"uid" binding:"required"`
	Domain string `json:"domain" binding:"required"`
}

func (s *Server) handleLogBlock(c *gin.Context) {
	var req logBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.users.LogBlock(c.Request.Context(), req.UID, policy.Normalize(req.Domain)); err != nil {
		s.fail(c, "log block", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type feedbackRequest struct {
	Rating  *int   `json:"rating"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
	Email   string `json:"email"`
	Source  string `json:"source"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Rating == nil && req.Reason == "" && req.Details == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty feedback"})
		return
	}

	fb, err := s.feedback.Submit(c.Request.Context(), usecase.FeedbackInput{
		Rating:  req.Rating,
		Reason:  req.Reason,
		Details: req.Details,
		Email:   req.Email,
		Source:  req.Source,
	})
	if err != nil {
		s.fail(c, "store feedback", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": fb.ID})
}

type sessionRequest struct {
	UID   string `json:"uid" binding:"required"`
	Email string `json:"email"`
}

func (s *Server) handleSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.sessions.IssueToken(req.UID, req.Email)
	if err != nil {
		s.fail(c, "issue session token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(s.sessions.TTL().Seconds()),
	})
}

// fail records the error on the gin context for the logging middleware
// and returns an opaque 500.
func (s *Server) fail(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	s.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
