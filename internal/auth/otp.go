package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// OTPProvider is the narrow capability interface the rest of the system
// depends on for one-time-password delivery and verification. Provider
// internals stay behind it.
type OTPProvider interface {
	// SendOTP delivers a one-time password to a phone number and returns
	// the provider's identifier for the pending verification.
	SendOTP(ctx context.Context, phoneNumber string) (string, error)

	// VerifyOTP checks a code against a pending verification.
	VerifyOTP(ctx context.Context, otpID, code string) (bool, error)
}

// httpProvider talks to an OTP delivery service over HTTP.
type httpProvider struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProvider creates an OTPProvider backed by an HTTP OTP service.
func NewHTTPProvider(baseURL, secret string, timeout time.Duration, logger *slog.Logger) OTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &httpProvider{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "otp_provider"),
	}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type sendOTPResponse struct {
	OTPID string `json:"otp_id"`
	Error string `json:"error,omitempty"`
}

type verifyOTPRequest struct {
	OTPID string `json:"otp_id"`
	Code  string `json:"code"`
}

type verifyOTPResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

func (p *httpProvider) SendOTP(ctx context.Context, phoneNumber string) (string, error) {
	var resp sendOTPResponse
	if err := p.post(ctx, "/v1/otps/send", sendOTPRequest{PhoneNumber: phoneNumber}, &resp); err != nil {
		return "", fmt.Errorf("failed to send OTP: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("OTP provider rejected send: %s", resp.Error)
	}

	p.logger.DebugContext(ctx, "OTP sent", "otp_id", resp.OTPID)
	return resp.OTPID, nil
}

func (p *httpProvider) VerifyOTP(ctx context.Context, otpID, code string) (bool, error) {
	var resp verifyOTPResponse
	if err := p.post(ctx, "/v1/otps/verify", verifyOTPRequest{OTPID: otpID, Code: code}, &resp); err != nil {
		return false, fmt.Errorf("failed to verify OTP: %w", err)
	}
	if resp.Error != "" {
		return false, nil
	}
	return resp.Verified, nil
}

func (p *httpProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.secret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("OTP provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
