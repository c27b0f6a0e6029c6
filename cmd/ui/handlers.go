package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/extractor"
	"trade-journal-go/internal/gemini"
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/mentor"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/profile"
	"trade-journal-go/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"

	ctxUserID    = "user_id"
	ctxUserEmail = "user_email"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log      *zap.Logger
	journal  *journal.Service
	profiles *profile.Service
	mentor   *mentor.Service
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, journal *journal.Service, profiles *profile.Service, mentor *mentor.Service) *APIHandler {
	return &APIHandler{log: log.Named("api"), journal: journal, profiles: profiles, mentor: mentor}
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string        `json:"message" binding:"required"`
	History []gemini.Turn `json:"history"`
}

// RequireUser rejects requests without the identity headers set by the auth proxy.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerUserID))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set(ctxUserID, id)
		c.Set(ctxUserEmail, strings.TrimSpace(c.GetHeader(headerUserEmail)))
		c.Next()
	}
}

// Health reports liveness.
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetProfile returns the caller's profile, creating it on first access.
func (h *APIHandler) GetProfile(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), c.GetString(ctxUserID), c.GetString(ctxUserEmail))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProfile applies a partial profile update.
func (h *APIHandler) UpdateProfile(c *gin.Context) {
	var req profile.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.profiles.Update(c.Request.Context(), c.GetString(ctxUserID), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CheckUsername reports whether ?username= is available.
func (h *APIHandler) CheckUsername(c *gin.Context) {
	a, err := h.profiles.CheckUsername(c.Request.Context(), c.GetString(ctxUserID), c.Query("username"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UploadAvatar stores the multipart "avatar" file.
func (h *APIHandler) UploadAvatar(c *gin.Context) {
	fh, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		h.respondError(c, err)
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	p, err := h.profiles.UploadAvatar(c.Request.Context(), c.GetString(ctxUserID), fh.Filename, contentType, data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": p.AvatarURL, "profile": p})
}

// Analyze grades the multipart "image" screenshot.
func (h *APIHandler) Analyze(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image provided"})
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out, err := h.journal.Analyze(c.Request.Context(), data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CreateTrade logs a new trade.
func (h *APIHandler) CreateTrade(c *gin.Context) {
	var sub journal.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	trade, err := h.journal.Submit(c.Request.Context(), c.GetString(ctxUserID), sub)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

// ListTrades returns the caller's trades, newest first.
func (h *APIHandler) ListTrades(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	trades, err := h.journal.List(c.Request.Context(), c.GetString(ctxUserID), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// GetTrade returns one trade.
func (h *APIHandler) GetTrade(c *gin.Context) {
	trade, err := h.journal.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// DeleteTrade removes a trade and its screenshot.
func (h *APIHandler) DeleteTrade(c *gin.Context) {
	if err := h.journal.Delete(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats returns the analytics summary. Days are bucketed in ?tz= or, when
// absent, the profile timezone.
func (h *APIHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	filter, err := parseFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	loc, err := h.location(ctx, c, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	summary := h.journal.Stats(ctx, userID, journal.StatsQuery{
		Period:   analytics.ParsePeriod(c.Query("period")),
		Filter:   filter,
		Location: loc,
	})
	c.JSON(http.StatusOK, summary)
}

// Chat relays a message to the mentor.
func (h *APIHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	reply, err := h.mentor.Send(c.Request.Context(), req.Message, req.History)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (h *APIHandler) location(ctx context.Context, c *gin.Context, userID string) (*time.Location, error) {
	if tz := c.Query("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, &models.ValidationError{Field: "tz", Message: fmt.Sprintf("unknown timezone %q", tz)}
		}
		return loc, nil
	}
	p, err := h.profiles.Get(ctx, userID, c.GetString(ctxUserEmail))
	if err != nil {
		h.log.Warn("Falling back to UTC for statistics", zap.String("user_id", userID), zap.Error(err))
		return time.UTC, nil
	}
	return p.Location(), nil
}

func parseFilter(c *gin.Context) (models.TradeFilter, error) {
	f := models.TradeFilter{
		Result:     models.Result(c.Query("result")),
		Grade:      models.Grade(c.Query("grade")),
		Session:    models.Session(c.Query("session")),
		Instrument: strings.TrimSpace(c.Query("instrument")),
	}
	return f, f.Validate()
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// respondError maps service errors to status codes. Gateway failures get a
// generic message; the details stay in the log.
func (h *APIHandler) respondError(c *gin.Context, err error) {
	var verr *models.ValidationError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &maxErr):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, profile.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username is already taken"})
	case errors.Is(err, store.ErrUniqueViolation):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, profile.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
	case errors.Is(err, extractor.ErrExtraction):
		h.log.Warn("Analysis failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "analysis failed"})
	case errors.Is(err, gemini.ErrAuth), errors.Is(err, gemini.ErrQuota),
		errors.Is(err, gemini.ErrNetwork), errors.Is(err, gemini.ErrUpstream):
		h.log.Error("AI gateway failure", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI service is unavailable, please try again"})
	default:
		h.log.Error("Request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
