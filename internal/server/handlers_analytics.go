package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatpulse/chatpulse/internal/analytics"
	"github.com/chatpulse/chatpulse/internal/auth"
	"github.com/chatpulse/chatpulse/internal/database"
)

const dateLayout = "2006-01-02"

// parseRange reads the optional start_date/end_date query parameters.
// Both must be present to narrow the window; the end date is inclusive.
func (s *Service) parseRange(c *gin.Context) (*analytics.Range, bool) {
	startParam := c.Query("start_date")
	endParam := c.Query("end_date")
	if startParam == "" && endParam == "" {
		return nil, true
	}
	if startParam == "" || endParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must be provided together"})
		return nil, false
	}

	loc := s.analytics.Location()
	start, err := time.ParseInLocation(dateLayout, startParam, loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, expected YYYY-MM-DD"})
		return nil, false
	}
	end, err := time.ParseInLocation(dateLayout, endParam, loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date, expected YYYY-MM-DD"})
		return nil, false
	}
	end = end.Add(24*time.Hour - time.Nanosecond)
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must not precede start_date"})
		return nil, false
	}
	return &analytics.Range{Start: start, End: end}, true
}

// resolvePhone normalizes the :phone path parameter and confirms the
// user exists.
func (s *Service) resolvePhone(c *gin.Context) (string, bool) {
	phone, err := auth.NormalizePhoneNumber(c.Param("phone"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return "", false
	}
	if _, err := s.store.GetUser(c.Request.Context(), phone); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return "", false
		}
		s.logger.Error("failed to load user", "error", err, "phone", phone)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return "", false
	}
	return phone, true
}

func (s *Service) handleUserMetrics(c *gin.Context) {
	phone, ok := s.resolvePhone(c)
	if !ok {
		return
	}
	r, ok := s.parseRange(c)
	if !ok {
		return
	}

	metrics, err := s.analytics.UserMetrics(c.Request.Context(), phone, r)
	if err != nil {
		s.logger.Error("failed to compute user metrics", "error", err, "phone", phone)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Service) handleUserTrends(c *gin.Context) {
	phone, ok := s.resolvePhone(c)
	if !ok {
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 365"})
			return
		}
		days = parsed
	}

	trends, err := s.analytics.UserTrends(c.Request.Context(), phone, days)
	if err != nil {
		s.logger.Error("failed to compute user trends", "error", err, "phone", phone)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Service) handleGroupMetrics(c *gin.Context) {
	r, ok := s.parseRange(c)
	if !ok {
		return
	}

	metrics, err := s.analytics.GroupMetrics(c.Request.Context(), r)
	if err != nil {
		s.logger.Error("failed to compute group metrics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Service) handleActivityPatterns(c *gin.Context) {
	r, ok := s.parseRange(c)
	if !ok {
		return
	}

	patterns, err := s.analytics.ActivityPatterns(c.Request.Context(), r)
	if err != nil {
		s.logger.Error("failed to compute activity patterns", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, patterns)
}

func (s *Service) handleGroupStatistics(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		loc := s.analytics.Location()
		date = time.Now().In(loc).AddDate(0, 0, -1).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	stats, err := s.store.GetGroupStatistics(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no statistics for date"})
			return
		}
		s.logger.Error("failed to load group statistics", "error", err, "date", date)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := gin.H{
		"date":           stats.Date,
		"total_messages": stats.TotalMessages,
		"active_users":   stats.ActiveUsers,
		"media_count":    stats.MediaCount,
		"peak_hour":      nil,
	}
	if stats.PeakHour.Valid {
		resp["peak_hour"] = stats.PeakHour.Int64
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleGroupRefresh(c *gin.Context) {
	if err := s.analytics.UpdateGroupStatistics(c.Request.Context()); err != nil {
		s.logger.Error("failed to refresh group statistics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}
