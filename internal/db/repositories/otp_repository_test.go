package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

var otpCols = []string{
	"id", "email", "otp_code", "is_used", "expires_at", "created_at",
}

func sampleOTPRow() *sqlmock.Rows {
	return sqlmock.NewRows(otpCols).
		AddRow("otp-1", "farmer1@example.com", "482913", false,
			time.Now().Add(15*time.Minute), time.Now())
}

func newOTPRepo(t *testing.T) (*OTPRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOTPRepository(db), mock
}

func TestCreateOTP_Success(t *testing.T) {
	repo, mock := newOTPRepo(t)
	mock.ExpectExec("INSERT INTO password_reset_otps").
		WillReturnResult(sqlmock.NewResult(1, 1))

	otp := &models.PasswordResetOTP{
		Email:     "farmer1@example.com",
		OTPCode:   "482913",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	if err := repo.CreateOTP(context.Background(), otp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otp.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
}

func TestGetValidOTP_Found(t *testing.T) {
	repo, mock := newOTPRepo(t)
	mock.ExpectQuery("SELECT.*FROM password_reset_otps.*WHERE email.*AND otp_code.*AND is_used = FALSE").
		WillReturnRows(sampleOTPRow())

	otp, err := repo.GetValidOTP(context.Background(), "farmer1@example.com", "482913")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otp == nil {
		t.Fatal("expected OTP, got nil")
	}
	if otp.ID != "otp-1" {
		t.Errorf("ID = %s, want otp-1", otp.ID)
	}
}

func TestGetValidOTP_NotFound(t *testing.T) {
	repo, mock := newOTPRepo(t)
	mock.ExpectQuery("SELECT.*FROM password_reset_otps").
		WillReturnRows(sqlmock.NewRows(otpCols))

	otp, err := repo.GetValidOTP(context.Background(), "farmer1@example.com", "000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otp != nil {
		t.Error("expected nil for wrong code")
	}
}

func TestMarkOTPUsed_Success(t *testing.T) {
	repo, mock := newOTPRepo(t)
	mock.ExpectExec("UPDATE password_reset_otps.*SET is_used").
		WithArgs("otp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkOTPUsed(context.Background(), "otp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteExpiredOTPs_Success(t *testing.T) {
	repo, mock := newOTPRepo(t)
	mock.ExpectExec("DELETE FROM password_reset_otps.*WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.DeleteExpiredOTPs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}
}
