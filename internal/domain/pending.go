package domain

import (
	"strings"
	"time"
)

// OTPLength is the number of digits in a verification code.
const OTPLength = 6

// PendingRegistration is a signup awaiting email verification.
// Email is the identity and is stored normalised (see NormalizeEmail).
// OTPExpiry is persisted as Unix seconds.
type PendingRegistration struct {
	Email        string    `json:"email" dynamodbav:"email"`
	FirstName    string    `json:"first_name" dynamodbav:"first_name"`
	LastName     string    `json:"last_name" dynamodbav:"last_name"`
	Phone        *string   `json:"phone" dynamodbav:"phone"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	OTPCode      string    `json:"-" dynamodbav:"otp_code"`
	OTPExpiry    time.Time `json:"otp_expires_at" dynamodbav:"otp_expiry,unixtime"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// ExpiredAt reports whether the code can no longer be used at instant now.
// The code is still valid at exactly OTPExpiry.
func (p *PendingRegistration) ExpiredAt(now time.Time) bool {
	return now.After(p.OTPExpiry)
}

// PurgeableBefore reports whether cleanup with the given cutoff deletes p.
// The boundary is inclusive: a code that expired exactly at cutoff is purged.
func (p *PendingRegistration) PurgeableBefore(cutoff time.Time) bool {
	return !p.OTPExpiry.After(cutoff)
}

// Promote builds the permanent account for a verified registration.
func (p *PendingRegistration) Promote(userID string, now time.Time) *User {
	return &User{
		UserID:       userID,
		Email:        p.Email,
		Phone:        p.Phone,
		PasswordHash: p.PasswordHash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Role:         RoleUser,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type RegisterRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	Password  string  `json:"password" validate:"required,min=8,maxbytes=72"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,number"`
}

type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}
