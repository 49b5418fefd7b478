package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
)

var handlerAPIKeyCols = []string{
	"id", "user_id", "name", "key_hash", "key_prefix",
	"is_active", "expires_at", "last_used_at", "created_at",
}

// newAPIKeyRouter routes the key management endpoints with user-1 already
// authenticated.
func newAPIKeyRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewAPIKeyHandlers(repositories.NewAPIKeyRepository(db), "lora", nil, discardLogger())

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user", &models.User{ID: "user-1", IsActive: true})
		c.Next()
	})
	router.POST("/api/keys", h.CreateHandler())
	router.GET("/api/keys", h.ListHandler())
	router.DELETE("/api/keys/:id", h.RevokeHandler())

	return router, mock
}

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	router, mock := newAPIKeyRouter(t)

	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/keys",
		strings.NewReader(`{"name":"Field Gateway 1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}

	var resp CreateAPIKeyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.HasPrefix(resp.Key, "lora_") {
		t.Errorf("key = %q, want the lora_ scheme prefix", resp.Key)
	}
	if !strings.HasPrefix(resp.Key, resp.KeyPrefix) {
		t.Errorf("key_prefix %q is not a prefix of the raw key", resp.KeyPrefix)
	}
	if resp.ID == "" {
		t.Error("expected a generated key ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateKey_PastExpiryRejected(t *testing.T) {
	router, _ := newAPIKeyRouter(t)

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/keys",
		strings.NewReader(`{"name":"Old","expires_at":"`+past+`"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListKeys_OmitsRawValues(t *testing.T) {
	router, mock := newAPIKeyRouter(t)

	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(handlerAPIKeyCols).
			AddRow("key-1", "user-1", "Field Gateway 1", "$2a$12$hash", "lora_abc12",
				true, nil, nil, time.Now()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/keys", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Keys []*models.APIKey `json:"keys"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(resp.Keys))
	}
	if resp.Keys[0].KeyPrefix != "lora_abc12" {
		t.Errorf("key_prefix = %q", resp.Keys[0].KeyPrefix)
	}
	if strings.Contains(w.Body.String(), "$2a$12$hash") {
		t.Error("key hash leaked into the listing response")
	}
}

func TestRevokeKey_Success(t *testing.T) {
	router, mock := newAPIKeyRouter(t)

	mock.ExpectExec("UPDATE api_keys.*SET is_active = FALSE").
		WithArgs("key-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/keys/key-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
}

func TestRevokeKey_NotOwned(t *testing.T) {
	router, mock := newAPIKeyRouter(t)

	mock.ExpectExec("UPDATE api_keys.*SET is_active = FALSE").
		WithArgs("key-9", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/keys/key-9", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
