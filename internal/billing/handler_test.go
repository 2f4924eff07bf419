package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/backresidences/billing/internal/rbac"
	"github.com/backresidences/billing/internal/shared"
)

type staticPermissions map[int64][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func newTestRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	perms := staticPermissions{
		1: shared.BillingPermissions(),
		2: {shared.PermBillingView},
	}
	h := NewHandler(logger, f.svc, rbac.Middleware{Service: perms, Logger: logger})
	r := chi.NewRouter()
	r.Use(rbac.Identify("", logger))
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, userID int64, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-User-ID", fmt.Sprint(userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandlerRecordAndReversePayment(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	older, newer := twoInvoices(t, f)
	router := newTestRouter(t, f)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/payments", 1,
		map[string]any{"unit_id": 1, "amount": "120000", "method": "cash"},
		"Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
	var result PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Equal(t, PaymentConfirmed, result.Payment.Status)
	require.Len(t, result.Allocations, 2)

	rec, _ = doJSON(t, router, http.MethodPost, "/billing/payments", 1,
		map[string]any{"unit_id": 1, "amount": "120000", "method": "cash"},
		"Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, env = doJSON(t, router, http.MethodGet, fmt.Sprintf("/billing/invoices?unit_id=1&status=%s", InvoicePartiallyPaid), 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []Invoice
	require.NoError(t, json.Unmarshal(env.Data, &invoices))
	require.Len(t, invoices, 1)
	require.Equal(t, newer.ID, invoices[0].ID)

	path := fmt.Sprintf("/billing/payments/%d/reverse", result.Payment.ID)
	rec, _ = doJSON(t, router, http.MethodPost, path, 2, map[string]any{"reason": "bounced"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = doJSON(t, router, http.MethodPost, path, 1, map[string]any{"reason": "bounced"})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	require.Equal(t, InvoiceOverdue, f.invoice(t, older.ID).Status)

	rec, env = doJSON(t, router, http.MethodPost, path, 1, map[string]any{"reason": "bounced"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.False(t, env.Success)
}

func TestHandlerListPaymentsByMethod(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	twoInvoices(t, f)
	router := newTestRouter(t, f)

	rec, _ := doJSON(t, router, http.MethodPost, "/billing/payments", 1,
		map[string]any{"unit_id": 1, "amount": "10000", "method": "cash"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, router, http.MethodPost, "/billing/payments", 1,
		map[string]any{"unit_id": 1, "amount": "20000", "method": "transfer", "reference": "TRX-7"})
	require.Equal(t, http.StatusCreated, rec.Code)

	transfer, err := f.repo.GetMethodByCode(context.Background(), "transfer")
	require.NoError(t, err)
	rec, env := doJSON(t, router, http.MethodGet, fmt.Sprintf("/billing/payments?method_id=%d", transfer.ID), 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments []Payment
	require.NoError(t, json.Unmarshal(env.Data, &payments))
	require.Len(t, payments, 1)
	require.Equal(t, "transfer", payments[0].MethodCode)

	rec, _ = doJSON(t, router, http.MethodGet, "/billing/payments?method_id=card", 2, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	twoInvoices(t, f)
	router := newTestRouter(t, f)

	rec, _ := doJSON(t, router, http.MethodGet, "/billing/invoices", 0, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/payments", 1, map[string]any{"unit_id": 1, "amount": "10"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "required", env.Errors["method"])

	rec, _ = doJSON(t, router, http.MethodPost, "/billing/payments", 1, `{"unit_id":1,"amount":"10","method":"cash","bogus":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = doJSON(t, router, http.MethodPost, "/billing/payments", 1, map[string]any{"unit_id": 1, "amount": "-5", "method": "cash"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Errors, "amount")

	rec, _ = doJSON(t, router, http.MethodGet, "/billing/invoices/abc", 1, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/billing/invoices/9999", 1, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = doJSON(t, router, http.MethodPost, "/billing/invoices/generate", 1, map[string]any{"concept_ids": []int64{}, "period": "2025"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Errors, "concept_ids")
	require.Contains(t, env.Errors, "period")
}

func TestHandlerGenerateAndInterest(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	c := f.addConcept(t, Concept{Name: "Administración", BaseAmount: d("100000"), AppliesToAll: true, MoraRate: d("3")})
	f.addInvoice(t, 1, c.ID, "2025-01", "100000", day(2025, 2, 8))
	router := newTestRouter(t, f)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/invoices/generate", 1,
		map[string]any{"concept_ids": []int64{c.ID}, "period": "2025-03", "due_at": "2025-03-31"})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var generated GenerateResult
	require.NoError(t, json.Unmarshal(env.Data, &generated))
	require.Equal(t, 3, generated.InvoicesCreated)

	rec, env = doJSON(t, router, http.MethodPost, "/billing/interest/run", 1, map[string]any{"as_of": "2025-03-10", "dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var accrual AccrualResult
	require.NoError(t, json.Unmarshal(env.Data, &accrual))
	require.True(t, accrual.DryRun)
	require.Equal(t, 1, accrual.Updated)
	requireAmount(t, "3000", accrual.InterestDelta)

	rec, _ = doJSON(t, router, http.MethodPost, "/billing/interest/run", 2, map[string]any{})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerCertificatesAndStatement(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	router := newTestRouter(t, f)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/units/2/certificates", 1, nil)
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var cert Certificate
	require.NoError(t, json.Unmarshal(env.Data, &cert))

	rec, env = doJSON(t, router, http.MethodGet, "/billing/certificates/"+cert.VerificationCode, 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verification CertificateVerification
	require.NoError(t, json.Unmarshal(env.Data, &verification))
	require.True(t, verification.Valid)

	rec, _ = doJSON(t, router, http.MethodGet, "/billing/units/2/statement", 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/billing/units/77/statement", 2, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerGatewayCallbackPollsGateway(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	older, _ := twoInvoices(t, f)
	router := newTestRouter(t, f)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/payments", 1, map[string]any{"unit_id": 1, "amount": "100000", "method": "card"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var pending PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Equal(t, PaymentPending, pending.Payment.Status)

	rec, env = doJSON(t, router, http.MethodPost, "/billing/gateway/callback", 0, map[string]any{"intent_id": pending.Intent.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var still PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &still))
	require.Equal(t, PaymentPending, still.Payment.Status)

	f.gateway.settle(pending.Intent.ID, ChargeSucceeded)
	rec, _ = doJSON(t, router, http.MethodPost, "/billing/gateway/callback", 0, map[string]any{"intent_id": pending.Intent.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, InvoicePaid, f.invoice(t, older.ID).Status)
}

func TestHandlerConcepts(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	router := newTestRouter(t, f)

	rec, env := doJSON(t, router, http.MethodPost, "/billing/concepts", 1, map[string]any{
		"name":        "Parqueadero",
		"kind":        "variable",
		"base_amount": "45000",
		"frequency":   "monthly",
		"mora_rate":   "1.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	var concept Concept
	require.NoError(t, json.Unmarshal(env.Data, &concept))
	require.True(t, concept.Mandatory)
	require.True(t, concept.AppliesToAll)

	rec, env = doJSON(t, router, http.MethodPost, "/billing/concepts", 1, map[string]any{"name": "X", "kind": "weekly", "frequency": "monthly"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Errors, "kind")

	rec, _ = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/billing/concepts/%d", concept.ID), 2, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/billing/concepts/%d", concept.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, router, http.MethodGet, "/billing/concepts", 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var concepts []Concept
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &concepts))
	}
	require.Empty(t, concepts)

	rec, env = doJSON(t, router, http.MethodGet, "/billing/methods", 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var methods []Method
	require.NoError(t, json.Unmarshal(env.Data, &methods))
	require.Len(t, methods, 3)
}
