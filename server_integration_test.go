package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kopkar/models"
	"kopkar/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func performRequest(r http.Handler, method, path string, body io.Reader, token, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, ref string, role models.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  ref,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString(jwtSecret)
	require.NoError(t, err)
	return s
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("UPLOAD_BASE", t.TempDir())
	initDB()
	require.NoError(t, initWorkflows(notify.Nop{}))
	r := gin.New()
	setupRoutes(r)
	return r
}

func postJSON(t *testing.T, r http.Handler, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return performRequest(r, http.MethodPost, path, bytes.NewReader(body), token, "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createActiveMember(t *testing.T, r http.Handler, staffToken, memberNo string) uint {
	t.Helper()
	rec := postJSON(t, r, "/members", staffToken, map[string]any{
		"member_no":         memberNo,
		"name":              "Integration Member",
		"status":            "active",
		"registration_date": time.Now().AddDate(-2, 0, 0).Format("2006-01-02"),
		"eligible_amount":   500000,
		"bank_name":         "Bank Test",
		"bank_account_no":   "0123456789",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return uint(decode(t, rec)["id"].(float64))
}

func TestAuthRequired(t *testing.T) {
	r := setupTestServer(t)

	rec := performRequest(r, http.MethodGet, "/healthz", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = performRequest(r, http.MethodGet, "/me", nil, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performRequest(r, http.MethodGet, "/me", nil, "not-a-token", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token := signToken(t, "staff-1", models.RoleStaff)
	rec = performRequest(r, http.MethodGet, "/me", nil, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "staff-1", decode(t, rec)["ref"])
}

func TestContributionVerificationFlow(t *testing.T) {
	r := setupTestServer(t)
	staffToken := signToken(t, "staff-1", models.RoleStaff)
	memberToken := signToken(t, "member-1", models.RoleMember)
	memberID := createActiveMember(t, r, staffToken, "KOP-2001")

	// Member submits a contribution with a receipt image.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("member_id", fmt.Sprint(memberID)))
	require.NoError(t, mw.WriteField("amount", "1500"))
	require.NoError(t, mw.WriteField("period_start", time.Now().AddDate(0, -1, 0).Format("2006-01-02")))
	require.NoError(t, mw.WriteField("period_end", time.Now().AddDate(0, 0, 7).Format("2006-01-02")))
	fw, err := mw.CreateFormFile("file", "receipt.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := performRequest(r, http.MethodPost, "/contributions/submit", &buf, memberToken, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decode(t, rec)
	cid := uint(submitted["ID"].(float64))
	require.Equal(t, "pending", submitted["Status"])

	// Fund recognises nothing before verification.
	rec = performRequest(r, http.MethodGet, "/ledger/balance", nil, staffToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", decode(t, rec)["balance"])

	// Staff verifies; exactly one inflow appears.
	rec = postJSON(t, r, fmt.Sprintf("/contributions/%d/verify", cid), staffToken,
		map[string]any{"approved": true, "notes": "matches statement"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "paid", decode(t, rec)["Status"])

	rec = performRequest(r, http.MethodGet, "/ledger/balance", nil, staffToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1500", decode(t, rec)["balance"])

	// Second verification conflicts.
	rec = postJSON(t, r, fmt.Sprintf("/contributions/%d/verify", cid), staffToken,
		map[string]any{"approved": true})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	r := setupTestServer(t)
	staffToken := signToken(t, "staff-1", models.RoleStaff)
	memberID := createActiveMember(t, r, staffToken, "KOP-2002")

	rec := postJSON(t, r, "/loans", staffToken, map[string]any{
		"member_id": memberID, "amount": 12000, "term_months": 12, "purpose": "roof repair",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loanID := uint(decode(t, rec)["ID"].(float64))

	levelRoles := []models.Role{models.RoleBookkeeper, models.RoleTreasurer, models.RoleManager}
	for i, role := range levelRoles {
		token := signToken(t, fmt.Sprintf("approver-%d", i+1), role)
		rec = postJSON(t, r, fmt.Sprintf("/loans/%d/approve", loanID), token, map[string]any{"level": i + 1})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.Equal(t, "approved", decode(t, rec)["Status"])

	managerToken := signToken(t, "mg-1", models.RoleManager)
	rec = postJSON(t, r, fmt.Sprintf("/loans/%d/disburse", loanID), managerToken, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Two half repayments settle the loan.
	for i := 0; i < 2; i++ {
		rec = postJSON(t, r, fmt.Sprintf("/loans/%d/repayments", loanID), staffToken,
			map[string]any{"amount": 6000, "reference": fmt.Sprintf("rep-%d", i)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = performRequest(r, http.MethodGet, fmt.Sprintf("/loans/%d", loanID), nil, staffToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	loan := body["loan"].(map[string]any)
	require.Equal(t, "repaid", loan["Status"])
	require.Equal(t, "0", body["outstanding_balance"])
}

func TestCashoutIneligibleOverHTTP(t *testing.T) {
	r := setupTestServer(t)
	staffToken := signToken(t, "staff-1", models.RoleStaff)
	memberID := createActiveMember(t, r, staffToken, "KOP-2003")

	// No paid contributions yet: 422 with the reasons list.
	rec := postJSON(t, r, "/cashouts", staffToken, map[string]any{"member_id": memberID})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.NotEmpty(t, body["reasons"])

	rec = performRequest(r, http.MethodGet, fmt.Sprintf("/members/%d/cashout-eligibility", memberID), nil, staffToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["eligible"])
}
