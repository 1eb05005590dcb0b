/*
handlers.go - HTTP API handlers for the trip finance engine

PURPOSE:
  Exposes credits, charges, installments and bills via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  services. No business rule lives here.

ENDPOINTS:
  Credits:
    POST   /api/credits                    Issue a credit
    GET    /api/credits/{id}               Credit details
    GET    /api/credits/{id}/entries       Ledger entries, in sequence order
    GET    /api/credits/{id}/links         Trip applications
    GET    /api/credits/{id}/verify        Rebuild and check the ledger
    POST   /api/credits/{id}/preview       Can this credit pay an amount?
    POST   /api/credits/{id}/apply         Consume credit for a trip
    POST   /api/credits/{id}/refund        Refund unused credit
    POST   /api/credits/{id}/adjust        Manual correction
    POST   /api/credit-links/{id}/reverse  Undo a trip application
    GET    /api/customers/{id}/credits     A customer's credits
    POST   /api/calculator                 Pure balance/charge calculation

  Charges:
    POST   /api/charges                    Create a charge
    GET    /api/charges/{id}               Charge with breakdown
    GET    /api/charges/{id}/breakdown     Breakdown only
    POST   /api/charges/{id}/cancel        Set or clear cancellation
    GET    /api/charges/{id}/tours         Tour selections
    POST   /api/charges/{id}/tours         Add a tour
    DELETE /api/charges/{id}/tours/{sid}   Remove a tour
    GET    /api/charges/{id}/payments      Payments
    POST   /api/charges/{id}/payments      Record a payment
    PUT    /api/payments/{id}              Edit a payment
    DELETE /api/payments/{id}              Delete a payment

  Installments:
    PUT    /api/charges/{id}/installments  Replace the plan
    GET    /api/charges/{id}/installments  The plan
    POST   /api/installments/{id}/pay      Mark an installment paid
    POST   /api/installments/scan          Run the due scan now

  Bills:
    POST   /api/bills                      Create a bill
    GET    /api/bills?status=pending       List bills
    GET    /api/bills/{id}                 Bill details
    POST   /api/bills/{id}/pay             Mark paid (regenerates recurring)
    POST   /api/bills/{id}/regenerate      Create the successor explicitly

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code:
  - 400 invalid_json:           malformed request body
  - 404 not_found:              unknown record
  - 409 conflict:               concurrent modification survived retries
  - 422 invalid_amount, invalid_input, insufficient_balance,
        plan_exceeds_owed, already_paid
  - 500 consistency_violation:  a credit ledger does not reconstruct
  - 503 unavailable:            transient store failure survived retries

SECURITY NOTE:
  No authentication or authorization. Deploy behind a trusted gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/credit"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/installment"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Credits      *credit.Manager
	Charges      *charge.Service
	Installments *installment.Scheduler
	Bills        *billing.Regenerator

	// Health reports store reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error

	logger *slog.Logger
}

// NewHandler creates a handler over the domain services.
func NewHandler(credits *credit.Manager, charges *charge.Service, installments *installment.Scheduler, bills *billing.Regenerator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Credits:      credits,
		Charges:      charges,
		Installments: installments,
		Bills:        bills,
		logger:       logger,
	}
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

// IssueCredit creates a credit with its full amount available.
// POST /api/credits
func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	var req IssueCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Credits.Issue(r.Context(), credit.IssueRequest{
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		UseType:    generic.UseType(req.UseType),
		ExpiresAt:  req.ExpiresAt,
		Note:       req.Note,
	})
	if err != nil {
		h.fail(w, r, "Failed to issue credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditDTO(c))
}

// GET /api/credits/{id}
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	c, err := h.Credits.Credit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// GET /api/credits/{id}/entries
func (h *Handler) GetCreditEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Credits.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list credit entries", err)
		return
	}
	dtos := make([]CreditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/credits/{id}/links
func (h *Handler) GetCreditLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.Credits.Links(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list credit links", err)
		return
	}
	dtos := make([]CreditLinkDTO, len(links))
	for i, l := range links {
		dtos[i] = toLinkDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyCredit rebuilds the balance from the entry chain. A ledger that does
// not reconstruct is reported with consistent=false; the violation itself is
// logged and counted by the credit manager.
// GET /api/credits/{id}/verify
func (h *Handler) VerifyCredit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Credits.Verify(r.Context(), chi.URLParam(r, "id"))
	dto := VerifyDTO{
		CreditID:   report.CreditID,
		Original:   report.Original,
		Stored:     report.Stored,
		Derived:    report.Derived,
		Entries:    report.Entries,
		Consistent: err == nil,
	}
	if err != nil {
		if !errors.Is(err, generic.ErrConsistencyViolation) {
			h.fail(w, r, "Failed to verify credit", err)
			return
		}
		dto.Problem = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// POST /api/credits/{id}/preview
func (h *Handler) PreviewCredit(w http.ResponseWriter, r *http.Request) {
	var req PreviewCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Credits.Preview(r.Context(), chi.URLParam(r, "id"), req.Amount, generic.PaymentCategory(req.Category))
	if err != nil {
		h.fail(w, r, "Failed to preview credit", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewDTO{
		Permitted:   res.Permitted,
		Reason:      res.Reason,
		Calculation: toCalculationDTO(res.Calculation),
	})
}

// POST /api/credits/{id}/apply
func (h *Handler) ApplyCredit(w http.ResponseWriter, r *http.Request) {
	var req ApplyCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Credits.Apply(r.Context(), credit.ApplyRequest{
		CreditID: chi.URLParam(r, "id"),
		TripID:   req.TripID,
		Amount:   req.Amount,
		Note:     req.Note,
		Actor:    req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to apply credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// POST /api/credits/{id}/refund
func (h *Handler) RefundCredit(w http.ResponseWriter, r *http.Request) {
	var req RefundCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Credits.Refund(r.Context(), credit.RefundRequest{
		CreditID: chi.URLParam(r, "id"),
		Amount:   req.Amount,
		Reason:   req.Reason,
		Actor:    req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to refund credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// POST /api/credits/{id}/adjust
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Credits.Adjust(r.Context(), credit.AdjustRequest{
		CreditID: chi.URLParam(r, "id"),
		Delta:    req.Delta,
		Reason:   req.Reason,
		Actor:    req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to adjust credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// ReverseCreditLink restores an application's amount to its credit.
// POST /api/credit-links/{id}/reverse
func (h *Handler) ReverseCreditLink(w http.ResponseWriter, r *http.Request) {
	var req ReverseLinkRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	m, err := h.Credits.ReverseApplication(r.Context(), credit.ReverseRequest{
		LinkID: chi.URLParam(r, "id"),
		Reason: req.Reason,
		Actor:  req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to reverse credit application", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// GET /api/customers/{id}/credits
func (h *Handler) ListCustomerCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.Credits.CustomerCredits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list credits", err)
		return
	}
	dtos := make([]CreditDTO, len(credits))
	for i, c := range credits {
		dtos[i] = toCreditDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Calculate runs the pure credit calculator. Nothing is read or written.
// POST /api/calculator
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	calc, err := credit.CheckedCalculate(req.Balance, req.Charge)
	if err != nil {
		h.fail(w, r, "Invalid calculation input", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalculationDTO(calc))
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// POST /api/charges
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, b, err := h.Charges.CreateCharge(r.Context(), charge.CreateChargeRequest{
		TripID:        req.TripID,
		CustomerID:    req.CustomerID,
		Fare:          req.Fare,
		Discount:      req.Discount,
		Complimentary: req.Complimentary,
	})
	if err != nil {
		h.fail(w, r, "Failed to create charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, ChargeDetailDTO{Charge: toChargeDTO(c), Breakdown: toBreakdownDTO(b)})
}

// GET /api/charges/{id}
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, err := h.Charges.GetCharge(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get charge", err)
		return
	}
	b, err := h.Charges.Breakdown(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to compute breakdown", err)
		return
	}
	// The stored status is a cache; report the recomputed one.
	dto := toChargeDTO(c)
	dto.Status = b.Status.String()
	writeJSON(w, http.StatusOK, ChargeDetailDTO{Charge: dto, Breakdown: toBreakdownDTO(b)})
}

// GET /api/charges/{id}/breakdown
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := h.Charges.Breakdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to compute breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// POST /api/charges/{id}/cancel
func (h *Handler) CancelCharge(w http.ResponseWriter, r *http.Request) {
	req := CancelChargeRequest{Cancelled: true}
	if !h.decodeOptional(w, r, &req) {
		return
	}
	b, err := h.Charges.SetCancelled(r.Context(), chi.URLParam(r, "id"), req.Cancelled)
	if err != nil {
		h.fail(w, r, "Failed to update cancellation", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// GET /api/charges/{id}/tours
func (h *Handler) ListTours(w http.ResponseWriter, r *http.Request) {
	tours, err := h.Charges.TourSelections(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list tours", err)
		return
	}
	dtos := make([]TourSelectionDTO, len(tours))
	for i, t := range tours {
		dtos[i] = toTourDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/charges/{id}/tours
func (h *Handler) AddTour(w http.ResponseWriter, r *http.Request) {
	var req AddTourRequest
	if !h.decode(w, r, &req) {
		return
	}
	sel, b, err := h.Charges.AddTourSelection(r.Context(), chi.URLParam(r, "id"), req.TourID, req.Price)
	if err != nil {
		h.fail(w, r, "Failed to add tour", err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Tour      TourSelectionDTO `json:"tour"`
		Breakdown BreakdownDTO     `json:"breakdown"`
	}{toTourDTO(sel), toBreakdownDTO(b)})
}

// DELETE /api/charges/{id}/tours/{selectionID}
func (h *Handler) RemoveTour(w http.ResponseWriter, r *http.Request) {
	b, err := h.Charges.RemoveTourSelection(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "selectionID"))
	if err != nil {
		h.fail(w, r, "Failed to remove tour", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// GET /api/charges/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Charges.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/charges/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, b, err := h.Charges.RecordPayment(r.Context(), req.toDomain(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResultDTO{Payment: toPaymentDTO(p), Breakdown: toBreakdownDTO(b)})
}

// PUT /api/payments/{id}
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, b, err := h.Charges.UpdatePayment(r.Context(), chi.URLParam(r, "id"), req.toDomain(""))
	if err != nil {
		h.fail(w, r, "Failed to update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{Payment: toPaymentDTO(p), Breakdown: toBreakdownDTO(b)})
}

// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	b, err := h.Charges.DeletePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// SetPlan replaces a charge's installment plan.
// PUT /api/charges/{id}/installments
func (h *Handler) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]installment.PlanItem, len(req.Installments))
	for i, it := range req.Installments {
		items[i] = installment.PlanItem{Amount: it.Amount, DueDate: it.DueDate}
	}
	plan, err := h.Installments.CreatePlan(r.Context(), chi.URLParam(r, "id"), items)
	if err != nil {
		h.fail(w, r, "Failed to create installment plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(plan))
}

// GET /api/charges/{id}/installments
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Installments.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get installment plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(plan))
}

// POST /api/installments/{id}/pay
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req PayInstallmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.Installments.MarkPaid(r.Context(), installment.MarkPaidRequest{
		InstallmentID: chi.URLParam(r, "id"),
		Amount:        req.Amount,
		Method:        req.Method,
		PaidOn:        req.PaidOn,
	})
	if err != nil {
		h.fail(w, r, "Failed to mark installment paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// ScanInstallments runs the due scan synchronously. today and window
// default to the scheduler's clock and installment.DefaultWindow.
// POST /api/installments/scan
func (h *Handler) ScanInstallments(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	today := req.Today
	if today.IsZero() {
		today = h.Installments.Today()
	}
	window := installment.DefaultWindow
	if req.Window != nil {
		window = *req.Window
	}
	report, err := h.Installments.Scan(r.Context(), today, window)
	if err != nil {
		h.fail(w, r, "Failed to scan installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toDueReportDTO(report))
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// POST /api/bills
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Bills.CreateBill(r.Context(), req.toDomain())
	if err != nil {
		h.fail(w, r, "Failed to create bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(b))
}

// GET /api/bills?status=pending
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	status := generic.BillStatus(r.URL.Query().Get("status"))
	switch status {
	case "", generic.BillPending, generic.BillPaid:
	default:
		h.fail(w, r, "Failed to list bills", generic.InvalidInput("status", "unknown bill status %q", status))
		return
	}
	bills, err := h.Bills.ListBills(r.Context(), status)
	if err != nil {
		h.fail(w, r, "Failed to list bills", err)
		return
	}
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// PayBill marks a bill paid. When a recurring bill's successor cannot be
// created the payment still stands: the response is 200 with the
// regeneration error attached.
// POST /api/bills/{id}/pay
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	var req PayBillRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Bills.MarkPaid(r.Context(), chi.URLParam(r, "id"), req.PaidOn)

	var regenErr *billing.RegenerationError
	switch {
	case errors.As(err, &regenErr):
		h.logger.WarnContext(r.Context(), "bill paid without successor",
			"bill_id", regenErr.BillID, "queued", regenErr.Queued, "err", regenErr.Err)
	case err != nil:
		h.fail(w, r, "Failed to pay bill", err)
		return
	}

	dto := PayBillDTO{Paid: toBillDTO(res.Paid)}
	if res.Successor != nil {
		next := toBillDTO(*res.Successor)
		dto.Successor = &next
	}
	if regenErr != nil {
		dto.Regeneration = &RegenerationDTO{Error: regenErr.Err.Error(), Queued: regenErr.Queued}
	}
	writeJSON(w, http.StatusOK, dto)
}

// POST /api/bills/{id}/regenerate
func (h *Handler) RegenerateBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bills.Regenerate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to regenerate bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// =============================================================================
// HEALTH
// =============================================================================

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a domain error to its HTTP status. Server-side failures are
// logged; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, "err", err, "code", code, "path", r.URL.Path)
	}
	writeError(w, status, code, message, err)
}

// StatusFor returns the HTTP status and error code for err.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrConsistencyViolation):
		return http.StatusInternalServerError, "consistency_violation"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, generic.ErrTransientStore):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, generic.ErrPlanExceedsOwed):
		return http.StatusUnprocessableEntity, "plan_exceeds_owed"
	case errors.Is(err, generic.ErrAlreadyPaid):
		return http.StatusUnprocessableEntity, "already_paid"
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	}
	return http.StatusInternalServerError, "internal"
}

// decode reads a required JSON body. Unknown fields are rejected.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", err)
		return false
	}
	return true
}
