package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatpulse/chatpulse/internal/auth"
)

type requestOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	OTPID       string `json:"otp_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

func (s *Service) handleRequestOTP(c *gin.Context) {
	var req requestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number is required"})
		return
	}

	phone, err := auth.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	}

	otpID, err := s.otp.SendOTP(c.Request.Context(), phone)
	if err != nil {
		s.logger.Error("failed to send OTP", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send OTP"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "OTP sent",
		"otp_id":       otpID,
		"phone_number": phone,
	})
}

func (s *Service) handleVerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number, otp_id and code are required"})
		return
	}

	phone, err := auth.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	}

	ok, err := s.otp.VerifyOTP(c.Request.Context(), req.OTPID, req.Code)
	if err != nil {
		s.logger.Error("OTP verification failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to verify OTP"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired code"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.store.GetOrCreateUser(ctx, phone)
	if err != nil {
		s.logger.Error("failed to load user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := s.store.TouchUserActivity(ctx, phone); err != nil {
		s.logger.Error("failed to update user activity", "error", err, "phone", phone)
	}

	staff := s.cfg.Auth.IsStaff(phone)
	token, err := s.tokens.Issue(phone, staff)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"phone_number": user.PhoneNumber,
		"staff":        staff,
	})
}
