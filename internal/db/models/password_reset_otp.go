package models

import "time"

// PasswordResetOTP is a single-use six-digit code emailed to a user who
// requested a password reset. Codes expire 15 minutes after issuance and are
// marked used on a successful confirm so they cannot be replayed.
type PasswordResetOTP struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	OTPCode   string    `db:"otp_code" json:"-"`
	IsUsed    bool      `db:"is_used" json:"is_used"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
