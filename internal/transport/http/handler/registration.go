package handler

import (
	"net/http"

	"github.com/agrisense-api/internal/application/registration"
	"github.com/agrisense-api/internal/application/session"
	"github.com/agrisense-api/internal/domain"
)

// RegistrationHandler handles signup, email verification and code resends.
type RegistrationHandler struct {
	svc      registration.Service
	sessions session.Service
}

func NewRegistrationHandler(svc registration.Service, sessions session.Service) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, sessions: sessions}
}

func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	msg := "Registration successful. Please check your email for the verification code."
	if !res.EmailSent {
		msg = "Registration saved, but the verification email could not be sent. Please request a new code."
	}
	writeJSON(w, http.StatusCreated, CodeEnvelope{
		Message:      msg,
		Email:        res.Pending.Email,
		OTPExpiresAt: res.Pending.OTPExpiry,
		EmailSent:    res.EmailSent,
	})
}

func (h *RegistrationHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	res, err := h.sessions.Issue(r.Context(), u)
	if err != nil {
		// the account exists; the client can log in normally
		writeJSON(w, http.StatusCreated, AuthEnvelope{User: u})
		return
	}
	writeJSON(w, http.StatusCreated, AuthEnvelope{User: res.User, AccessToken: res.AccessToken})
}

func (h *RegistrationHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.ResendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Resend(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	msg := "A new verification code has been sent to your email."
	if !res.EmailSent {
		msg = "A new code was generated, but the email could not be sent. Please try again shortly."
	}
	writeJSON(w, http.StatusOK, CodeEnvelope{
		Message:      msg,
		Email:        res.Pending.Email,
		OTPExpiresAt: res.Pending.OTPExpiry,
		EmailSent:    res.EmailSent,
	})
}
