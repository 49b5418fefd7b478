package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

// OTPRepository handles password reset OTP database operations
type OTPRepository struct {
	db *sql.DB
}

// NewOTPRepository creates a new OTPRepository
func NewOTPRepository(db *sql.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// CreateOTP stores a freshly issued reset code
func (r *OTPRepository) CreateOTP(ctx context.Context, otp *models.PasswordResetOTP) error {
	otp.ID = uuid.New().String()
	otp.CreatedAt = time.Now()

	query := `
		INSERT INTO password_reset_otps (id, email, otp_code, is_used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		otp.ID,
		otp.Email,
		otp.OTPCode,
		otp.IsUsed,
		otp.ExpiresAt,
		otp.CreatedAt,
	)

	return err
}

// GetValidOTP retrieves the newest unused, unexpired code matching the email
// and code pair. Returns nil when no such code exists, which the caller
// reports the same way for wrong, expired, and already-used codes.
func (r *OTPRepository) GetValidOTP(ctx context.Context, email, code string) (*models.PasswordResetOTP, error) {
	query := `
		SELECT id, email, otp_code, is_used, expires_at, created_at
		FROM password_reset_otps
		WHERE email = $1 AND otp_code = $2 AND is_used = FALSE AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	otp := &models.PasswordResetOTP{}
	err := r.db.QueryRowContext(ctx, query, email, code, time.Now()).Scan(
		&otp.ID,
		&otp.Email,
		&otp.OTPCode,
		&otp.IsUsed,
		&otp.ExpiresAt,
		&otp.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return otp, nil
}

// MarkOTPUsed consumes a code so it cannot be replayed
func (r *OTPRepository) MarkOTPUsed(ctx context.Context, otpID string) error {
	query := `
		UPDATE password_reset_otps
		SET is_used = TRUE
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, otpID)
	return err
}

// DeleteExpiredOTPs clears out stale codes; run by the retention job
func (r *OTPRepository) DeleteExpiredOTPs(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM password_reset_otps
		WHERE expires_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
