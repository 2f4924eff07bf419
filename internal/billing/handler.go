package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/backresidences/billing/internal/platform/httpx"
	"github.com/backresidences/billing/internal/rbac"
	"github.com/backresidences/billing/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the ledger over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs a billing HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v, rbac: rbac}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/gateway/callback", h.gatewayCallback)
		r.Get("/certificates/{code}", h.verifyCertificate)

		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermBillingView))
			r.Get("/invoices", h.listInvoices)
			r.Get("/invoices/{id}", h.getInvoice)
			r.Get("/payments", h.listPayments)
			r.Get("/payments/{id}", h.getPayment)
			r.Get("/units/{unitID}/statement", h.statement)
			r.Get("/units/{unitID}/certificates", h.listCertificates)
			r.Get("/concepts", h.listConcepts)
			r.Get("/methods", h.listMethods)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingInvoicesGenerate))
			r.Post("/invoices/generate", h.generateInvoices)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingPaymentsRecord))
			r.Post("/payments", h.recordPayment)
			r.Post("/payments/{id}/allocations", h.allocatePayment)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingPaymentsReverse))
			r.Post("/payments/{id}/reverse", h.reversePayment)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingInterestRun))
			r.Post("/interest/run", h.runInterest)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingCertificatesIssue))
			r.Post("/units/{unitID}/certificates", h.issueCertificate)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermBillingConceptsManage))
			r.Post("/concepts", h.createConcept)
			r.Delete("/concepts/{id}", h.deactivateConcept)
		})
	})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := InvoiceFilter{
		Period:     q.Get("period"),
		FromPeriod: q.Get("from_period"),
		ToPeriod:   q.Get("to_period"),
		OpenOnly:   q.Get("open") == "true",
	}
	var err error
	if filter.UnitID, err = queryInt(q.Get("unit_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.ConceptID, err = queryInt(q.Get("concept_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, s := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, InvoiceStatus(s))
	}
	if filter.Page, err = queryPage(q.Get("limit"), q.Get("offset")); err != nil {
		h.fail(w, r, err)
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.service.GetInvoiceDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", detail)
}

func (h *Handler) generateInvoices(w http.ResponseWriter, r *http.Request) {
	var req generateInvoicesRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := GenerateInput{
		ConceptIDs: req.ConceptIDs,
		Period:     req.Period,
		Notes:      req.Notes,
		Filter:     req.Filter,
		Caller:     callerFrom(r),
	}
	if req.DueAt != "" {
		in.DueAt, _ = time.Parse(dateLayout, req.DueAt)
	}
	result, err := h.service.GenerateInvoices(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	message := fmt.Sprintf("%d invoice(s) generated", result.InvoicesCreated)
	if len(result.Errors) > 0 {
		message = fmt.Sprintf("%s, %d failed", message, len(result.Errors))
	}
	httpx.OK(w, http.StatusOK, message, result)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter PaymentFilter
	var err error
	if filter.UnitID, err = queryInt(q.Get("unit_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.MethodID, err = queryInt(q.Get("method_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, s := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, PaymentStatus(s))
	}
	if filter.From, err = queryDate(q.Get("from")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = queryDate(q.Get("to")); err != nil {
		h.fail(w, r, err)
		return
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	if filter.Page, err = queryPage(q.Get("limit"), q.Get("offset")); err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", payments)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.service.GetPaymentDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", detail)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := RecordPaymentInput{
		UnitID:         req.UnitID,
		Amount:         req.Amount,
		MethodCode:     req.Method,
		Reference:      req.Reference,
		Notes:          req.Notes,
		Request:        AllocationRequest{Lines: req.Allocations, InvoiceIDs: req.InvoiceIDs},
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Caller:         callerFrom(r),
	}
	if req.ReceivedAt != nil {
		in.ReceivedAt = *req.ReceivedAt
	}
	result, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	message := "payment recorded"
	if result.Payment.Status == PaymentPending {
		message = "payment pending gateway confirmation"
	}
	httpx.OK(w, http.StatusCreated, message, result)
}

func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req allocatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AllocatePayment(r.Context(), AllocateInput{PaymentID: id, Lines: req.Allocations, Caller: callerFrom(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "payment allocated", result)
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reversePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ReversePayment(r.Context(), ReverseInput{PaymentID: id, Reason: req.Reason, Caller: callerFrom(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "payment reversed", result)
}

// gatewayCallback re-reads the intent from the gateway instead of trusting
// the posted status.
func (h *Handler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	var req gatewayCallbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ConfirmGatewayPayment(r.Context(), req.IntentID, shared.SystemCaller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", result)
}

func (h *Handler) runInterest(w http.ResponseWriter, r *http.Request) {
	var req interestRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := AccrualInput{DryRun: req.DryRun, Caller: callerFrom(r)}
	if req.AsOf != "" {
		in.AsOf, _ = time.Parse(dateLayout, req.AsOf)
	}
	result, err := h.service.AccrueInterest(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%d invoice(s) updated", result.Updated), result)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r, "unitID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := StatementFilter{
		FromPeriod:  q.Get("from_period"),
		ToPeriod:    q.Get("to_period"),
		IncludePaid: q.Get("include_paid") == "true",
	}
	statement, err := h.service.GetAccountStatement(r.Context(), unitID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", statement)
}

func (h *Handler) issueCertificate(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r, "unitID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req issueCertificateRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	in := IssueCertificateInput{UnitID: unitID, Caller: callerFrom(r)}
	if req.Cutoff != nil {
		in.Cutoff = *req.Cutoff
	}
	cert, err := h.service.IssueCertificate(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, "certificate issued", cert)
}

func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathID(r, "unitID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	certs, err := h.service.ListCertificates(r.Context(), unitID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", certs)
}

func (h *Handler) verifyCertificate(w http.ResponseWriter, r *http.Request) {
	verification, err := h.service.VerifyCertificate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, verification.Summary, verification)
}

func (h *Handler) listConcepts(w http.ResponseWriter, r *http.Request) {
	concepts, err := h.service.ListConcepts(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", concepts)
}

func (h *Handler) createConcept(w http.ResponseWriter, r *http.Request) {
	var req createConceptRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := CreateConceptInput{
		Name:         req.Name,
		Description:  req.Description,
		Kind:         req.Kind,
		BaseAmount:   req.BaseAmount,
		Frequency:    req.Frequency,
		Mandatory:    req.Mandatory == nil || *req.Mandatory,
		AppliesToAll: req.AppliesToAll == nil || *req.AppliesToAll,
		Rules:        req.Rules,
		MoraRate:     req.MoraRate,
		Caller:       callerFrom(r),
	}
	concept, err := h.service.CreateConcept(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, "concept created", concept)
}

func (h *Handler) deactivateConcept(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateConcept(r.Context(), id, callerFrom(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "concept deactivated", nil)
}

func (h *Handler) listMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListMethods(r.Context(), true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", methods)
}

// decode reads and validates the body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fieldMessage(fe)
		}
		httpx.Fail(w, http.StatusBadRequest, "invalid request", fields)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var sc httpx.StatusCoder
	if !errors.Is(err, httpx.ErrBadRequest) && (!errors.As(err, &sc) || sc.HTTPStatus() >= http.StatusInternalServerError) {
		h.logger.Error("billing request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func callerFrom(r *http.Request) shared.Caller {
	caller, _ := shared.CallerFromContext(r.Context())
	return caller
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted as " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "invalid value"
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrBadRequest, name)
	}
	return id, nil
}

func queryInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid integer %q", httpx.ErrBadRequest, raw)
	}
	return v, nil
}

func queryDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", httpx.ErrBadRequest, raw)
	}
	return t, nil
}

func queryPage(limit, offset string) (shared.Page, error) {
	l, err := queryInt(limit)
	if err != nil {
		return shared.Page{}, err
	}
	o, err := queryInt(offset)
	if err != nil {
		return shared.Page{}, err
	}
	return shared.NewPage(int(l), int(o)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
