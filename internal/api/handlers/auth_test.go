package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
)

var handlerUserCols = []string{
	"id", "username", "email", "password_hash",
	"full_name", "is_active", "is_verified", "created_at", "updated_at",
}

var handlerOTPCols = []string{
	"id", "email", "otp_code", "is_used", "expires_at", "created_at",
}

const testPassword = "correct-horse-battery"

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash caches a bcrypt hash of testPassword so each login test
// does not pay the hashing cost again.
func testPasswordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		hash, err := auth.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testHash = hash
	})
	return testHash
}

func farmerRow(t *testing.T, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(handlerUserCols).
		AddRow("user-1", "farmer1", "farmer1@example.com", testPasswordHash(t),
			"Farmer One", active, true, time.Now(), time.Now())
}

type authFixture struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
	tokens *auth.TokenService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens := auth.NewTokenService("test-jwt-secret-that-is-32-chars-!", time.Hour, 7*24*time.Hour)
	h := NewAuthHandlers(repositories.NewUserRepository(db), repositories.NewOTPRepository(db), tokens, nil, discardLogger())

	router := gin.New()
	router.POST("/api/auth/register", h.RegisterHandler())
	router.POST("/api/auth/login", h.LoginHandler())
	router.POST("/api/auth/refresh", h.RefreshHandler())
	router.POST("/api/auth/password-reset/request", h.ResetRequestHandler())
	router.POST("/api/auth/password-reset/confirm", h.ResetConfirmHandler())
	router.GET("/api/auth/me", func(c *gin.Context) {
		c.Set("user", &models.User{ID: "user-1", Username: "farmer1", IsActive: true})
		c.Next()
	}, h.MeHandler())

	return &authFixture{router: router, mock: mock, tokens: tokens}
}

func (fx *authFixture) post(path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	fx.router.ServeHTTP(w, req)
	return w
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return body.Error
}

func TestRegister_Success(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer2@example.com").
		WillReturnRows(sqlmock.NewRows(handlerUserCols))
	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WithArgs("farmer2").
		WillReturnRows(sqlmock.NewRows(handlerUserCols))
	fx.mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := fx.post("/api/auth/register",
		`{"username":"farmer2","email":"farmer2@example.com","password":"long-enough-pw","full_name":"Farmer Two"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if user.ID == "" || !user.IsActive {
		t.Errorf("user = %+v, want a generated ID and an active account", user)
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer1@example.com").
		WillReturnRows(farmerRow(t, true))

	w := fx.post("/api/auth/register",
		`{"username":"farmer2","email":"farmer1@example.com","password":"long-enough-pw"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := errBody(t, w); got != "Email already registered" {
		t.Errorf("error = %q", got)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer2@example.com").
		WillReturnRows(sqlmock.NewRows(handlerUserCols))
	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WithArgs("farmer1").
		WillReturnRows(farmerRow(t, true))

	w := fx.post("/api/auth/register",
		`{"username":"farmer1","email":"farmer2@example.com","password":"long-enough-pw"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := errBody(t, w); got != "Username already taken" {
		t.Errorf("error = %q", got)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	fx := newAuthFixture(t)

	w := fx.post("/api/auth/register",
		`{"username":"farmer2","email":"farmer2@example.com","password":"short"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLogin_Success(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer1@example.com").
		WillReturnRows(farmerRow(t, true))

	w := fx.post("/api/auth/login", `{"email":"farmer1@example.com","password":"`+testPassword+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", resp.TokenType)
	}
	claims, err := fx.tokens.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("issued access token does not validate: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("claims.UserID = %q, want user-1", claims.UserID)
	}
	if _, err := fx.tokens.ValidateRefreshToken(resp.RefreshToken); err != nil {
		t.Errorf("issued refresh token does not validate: %v", err)
	}
}

// A wrong password, an unknown email, and a deactivated account must all
// produce byte-identical 401 responses.
func TestLogin_FailuresIndistinguishable(t *testing.T) {
	cases := []string{"wrong password", "unknown email", "deactivated account"}

	var bodies []string
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newAuthFixture(t)

			rows := sqlmock.NewRows(handlerUserCols)
			password := testPassword
			switch name {
			case "wrong password":
				rows = farmerRow(t, true)
				password = "not-the-password"
			case "deactivated account":
				rows = farmerRow(t, false)
			}

			fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
				WithArgs("farmer1@example.com").
				WillReturnRows(rows)

			w := fx.post("/api/auth/login", `{"email":"farmer1@example.com","password":"`+password+`"}`)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			bodies = append(bodies, w.Body.String())
		})
	}

	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("response %d differs from response 0: %q vs %q", i, bodies[i], bodies[0])
		}
	}
}

func TestRefresh_Success(t *testing.T) {
	fx := newAuthFixture(t)

	refresh, err := fx.tokens.GenerateRefreshToken("user-1", "farmer1@example.com")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE id").
		WithArgs("user-1").
		WillReturnRows(farmerRow(t, true))

	w := fx.post("/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, err := fx.tokens.ValidateAccessToken(resp.AccessToken); err != nil {
		t.Errorf("reissued access token does not validate: %v", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	fx := newAuthFixture(t)

	access, err := fx.tokens.GenerateAccessToken("user-1", "farmer1@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	w := fx.post("/api/auth/refresh", `{"refresh_token":"`+access+`"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; an access token must not refresh", w.Code)
	}
}

func TestRefresh_DeactivatedUser(t *testing.T) {
	fx := newAuthFixture(t)

	refresh, err := fx.tokens.GenerateRefreshToken("user-1", "farmer1@example.com")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE id").
		WithArgs("user-1").
		WillReturnRows(farmerRow(t, false))

	w := fx.post("/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMe_ReturnsUser(t *testing.T) {
	fx := newAuthFixture(t)

	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if user.Username != "farmer1" {
		t.Errorf("username = %q, want farmer1", user.Username)
	}
}

func TestResetRequest_KnownEmail(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer1@example.com").
		WillReturnRows(farmerRow(t, true))
	fx.mock.ExpectExec("INSERT INTO password_reset_otps").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := fx.post("/api/auth/password-reset/request", `{"email":"farmer1@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// The response for an unregistered email is identical to the registered
// case and no code is stored.
func TestResetRequest_UnknownEmail(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(handlerUserCols))

	w := fx.post("/api/auth/password-reset/request", `{"email":"nobody@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); !strings.Contains(got, resetAlwaysMessage) {
		t.Errorf("body = %s, want the generic reset message", got)
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected OTP insert: %v", err)
	}
}

func TestResetConfirm_Success(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer1@example.com").
		WillReturnRows(farmerRow(t, true))
	fx.mock.ExpectQuery("SELECT.*FROM password_reset_otps").
		WithArgs("farmer1@example.com", "123456", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(handlerOTPCols).
			AddRow("otp-1", "farmer1@example.com", "123456", false,
				time.Now().Add(10*time.Minute), time.Now()))
	fx.mock.ExpectExec("UPDATE users.*SET password_hash").
		WithArgs("user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	fx.mock.ExpectExec("UPDATE password_reset_otps.*SET is_used").
		WithArgs("otp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := fx.post("/api/auth/password-reset/confirm",
		`{"email":"farmer1@example.com","otp_code":"123456","new_password":"brand-new-password"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResetConfirm_InvalidCode(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("farmer1@example.com").
		WillReturnRows(farmerRow(t, true))
	fx.mock.ExpectQuery("SELECT.*FROM password_reset_otps").
		WithArgs("farmer1@example.com", "000000", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(handlerOTPCols))

	w := fx.post("/api/auth/password-reset/confirm",
		`{"email":"farmer1@example.com","otp_code":"000000","new_password":"brand-new-password"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := errBody(t, w); got != "Invalid or expired reset code" {
		t.Errorf("error = %q", got)
	}
}

func TestResetConfirm_UnknownUser(t *testing.T) {
	fx := newAuthFixture(t)

	fx.mock.ExpectQuery("SELECT.*FROM users.*WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(handlerUserCols))

	w := fx.post("/api/auth/password-reset/confirm",
		`{"email":"nobody@example.com","otp_code":"123456","new_password":"brand-new-password"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
