/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Money is decimal.Decimal, serialized as a JSON string ("120.50") and
  accepted as string or number. Calendar days are "YYYY-MM-DD".

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/credit"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/installment"
)

// =============================================================================
// CREDITS
// =============================================================================

type CreditDTO struct {
	ID               string          `json:"id"`
	CustomerID       string          `json:"customer_id"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Status           string          `json:"status"`
	UseType          string          `json:"use_type"`
	ExpiresAt        *generic.Date   `json:"expires_at,omitempty"`
	Note             string          `json:"note,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type CreditEntryDTO struct {
	ID            string          `json:"id"`
	Sequence      int64           `json:"sequence"`
	Type          string          `json:"type"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	Delta         decimal.Decimal `json:"delta"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Note          string          `json:"note,omitempty"`
	TripID        string          `json:"trip_id,omitempty"`
	LinkID        string          `json:"link_id,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CreditLinkDTO struct {
	ID            string          `json:"id"`
	CreditID      string          `json:"credit_id"`
	TripID        string          `json:"trip_id"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ReversedAt    *time.Time      `json:"reversed_at,omitempty"`
}

// MovementDTO is the response of apply, refund, reverse and adjust.
type MovementDTO struct {
	Credit CreditDTO      `json:"credit"`
	Entry  CreditEntryDTO `json:"entry"`
	Link   *CreditLinkDTO `json:"link,omitempty"`
}

type CalculationDTO struct {
	Applied   decimal.Decimal `json:"applied"`
	Surplus   decimal.Decimal `json:"surplus"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Outcome   string          `json:"outcome"`
}

type PreviewDTO struct {
	Permitted   bool           `json:"permitted"`
	Reason      string         `json:"reason,omitempty"`
	Calculation CalculationDTO `json:"calculation"`
}

type VerifyDTO struct {
	CreditID   string          `json:"credit_id"`
	Original   decimal.Decimal `json:"original"`
	Stored     decimal.Decimal `json:"stored"`
	Derived    decimal.Decimal `json:"derived"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
	Problem    string          `json:"problem,omitempty"`
}

type IssueCreditRequest struct {
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	UseType    string          `json:"use_type"`
	ExpiresAt  *generic.Date   `json:"expires_at"`
	Note       string          `json:"note"`
}

type CalculateRequest struct {
	Balance decimal.Decimal `json:"balance"`
	Charge  decimal.Decimal `json:"charge"`
}

type PreviewCreditRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
}

type ApplyCreditRequest struct {
	TripID string          `json:"trip_id"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
	Actor  string          `json:"actor"`
}

type RefundCreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Actor  string          `json:"actor"`
}

type ReverseLinkRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type AdjustCreditRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
	Actor  string          `json:"actor"`
}

// =============================================================================
// CHARGES AND PAYMENTS
// =============================================================================

type ChargeDTO struct {
	ID            string          `json:"id"`
	TripID        string          `json:"trip_id"`
	CustomerID    string          `json:"customer_id"`
	Fare          decimal.Decimal `json:"fare"`
	Discount      decimal.Decimal `json:"discount"`
	Complimentary bool            `json:"complimentary"`
	Cancelled     bool            `json:"cancelled"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type AttributionDTO struct {
	PaymentID string          `json:"payment_id"`
	Trip      decimal.Decimal `json:"trip"`
	AddOns    decimal.Decimal `json:"add_ons"`
}

type BreakdownDTO struct {
	ChargeID     string           `json:"charge_id"`
	OwedTrip     decimal.Decimal  `json:"owed_trip"`
	OwedAddOns   decimal.Decimal  `json:"owed_add_ons"`
	OwedTotal    decimal.Decimal  `json:"owed_total"`
	PaidTrip     decimal.Decimal  `json:"paid_trip"`
	PaidAddOns   decimal.Decimal  `json:"paid_add_ons"`
	PaidTotal    decimal.Decimal  `json:"paid_total"`
	Outstanding  decimal.Decimal  `json:"outstanding"`
	Status       charge.Status    `json:"status"`
	Attributions []AttributionDTO `json:"attributions"`
}

// ChargeDetailDTO is a charge with its current breakdown.
type ChargeDetailDTO struct {
	Charge    ChargeDTO    `json:"charge"`
	Breakdown BreakdownDTO `json:"breakdown"`
}

type TourSelectionDTO struct {
	ID           string          `json:"id"`
	ChargeID     string          `json:"charge_id"`
	TourID       string          `json:"tour_id"`
	ChargedPrice decimal.Decimal `json:"charged_price"`
}

type PaymentDTO struct {
	ID        string          `json:"id"`
	ChargeID  string          `json:"charge_id"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Date      generic.Date    `json:"date"`
	Method    string          `json:"method,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentResultDTO is a recorded payment with the breakdown it produced.
type PaymentResultDTO struct {
	Payment   PaymentDTO   `json:"payment"`
	Breakdown BreakdownDTO `json:"breakdown"`
}

type CreateChargeRequest struct {
	TripID        string          `json:"trip_id"`
	CustomerID    string          `json:"customer_id"`
	Fare          decimal.Decimal `json:"fare"`
	Discount      decimal.Decimal `json:"discount"`
	Complimentary bool            `json:"complimentary"`
}

type CancelChargeRequest struct {
	Cancelled bool `json:"cancelled"`
}

type AddTourRequest struct {
	TourID string          `json:"tour_id"`
	Price  decimal.Decimal `json:"price"`
}

type PaymentRequest struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Date     generic.Date    `json:"date"`
	Method   string          `json:"method"`
	Note     string          `json:"note"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type InstallmentDTO struct {
	ID            string          `json:"id"`
	ChargeID      string          `json:"charge_id"`
	Sequence      int             `json:"sequence"`
	Total         int             `json:"total"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       generic.Date    `json:"due_date"`
	Status        string          `json:"status"`
	Method        string          `json:"method,omitempty"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaidAt        *generic.Date   `json:"paid_at,omitempty"`
	UpcomingAlert bool            `json:"upcoming_alert_sent"`
	OverdueAlert  bool            `json:"overdue_alert_sent"`
}

type PlanItemRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate generic.Date    `json:"due_date"`
}

type CreatePlanRequest struct {
	Installments []PlanItemRequest `json:"installments"`
}

type PayInstallmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	PaidOn generic.Date    `json:"paid_on"`
}

type ScanRequest struct {
	Today  generic.Date `json:"today"`
	Window *int         `json:"window"`
}

type DueReportDTO struct {
	Today       generic.Date     `json:"today"`
	Window      int              `json:"window"`
	DueSoon     []InstallmentDTO `json:"due_soon"`
	Overdue     []InstallmentDTO `json:"overdue"`
	AlertsFired int              `json:"alerts_fired"`
	AlertErrors int              `json:"alert_errors"`
}

// =============================================================================
// BILLS
// =============================================================================

type BillDTO struct {
	ID             string          `json:"id"`
	Payee          string          `json:"payee"`
	Category       string          `json:"category,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        generic.Date    `json:"due_date"`
	Recurring      bool            `json:"recurring"`
	Frequency      string          `json:"frequency,omitempty"`
	Status         string          `json:"status"`
	PaidAt         *generic.Date   `json:"paid_at,omitempty"`
	PreviousBillID string          `json:"previous_bill_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CreateBillRequest struct {
	Payee     string          `json:"payee"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	DueDate   generic.Date    `json:"due_date"`
	Recurring bool            `json:"recurring"`
	Frequency string          `json:"frequency"`
}

type PayBillRequest struct {
	PaidOn generic.Date `json:"paid_on"`
}

// PayBillDTO reports a paid bill. Regeneration is set when the successor
// could not be created; the bill is paid regardless.
type PayBillDTO struct {
	Paid         BillDTO          `json:"paid"`
	Successor    *BillDTO         `json:"successor,omitempty"`
	Regeneration *RegenerationDTO `json:"regeneration_error,omitempty"`
}

type RegenerationDTO struct {
	Error  string `json:"error"`
	Queued bool   `json:"queued"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCreditDTO(c generic.Credit) CreditDTO {
	return CreditDTO{
		ID:               c.ID,
		CustomerID:       c.CustomerID,
		OriginalAmount:   c.OriginalAmount,
		AvailableBalance: c.AvailableBalance,
		Status:           string(c.Status),
		UseType:          string(c.UseType),
		ExpiresAt:        c.ExpiresAt,
		Note:             c.Note,
		Version:          c.Version,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func toEntryDTO(e generic.CreditEntry) CreditEntryDTO {
	return CreditEntryDTO{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Type:          string(e.Type),
		BalanceBefore: e.BalanceBefore,
		Delta:         e.Delta,
		BalanceAfter:  e.BalanceAfter,
		Note:          e.Note,
		TripID:        e.TripID,
		LinkID:        e.LinkID,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func toLinkDTO(l generic.CreditLink) CreditLinkDTO {
	return CreditLinkDTO{
		ID:            l.ID,
		CreditID:      l.CreditID,
		TripID:        l.TripID,
		AmountApplied: l.AmountApplied,
		Note:          l.Note,
		CreatedAt:     l.CreatedAt,
		ReversedAt:    l.ReversedAt,
	}
}

func toMovementDTO(m credit.Movement) MovementDTO {
	dto := MovementDTO{Credit: toCreditDTO(m.Credit), Entry: toEntryDTO(m.Entry)}
	if m.Link != nil {
		link := toLinkDTO(*m.Link)
		dto.Link = &link
	}
	return dto
}

func toCalculationDTO(c credit.Calculation) CalculationDTO {
	return CalculationDTO{Applied: c.Applied, Surplus: c.Surplus, Shortfall: c.Shortfall, Outcome: string(c.Outcome)}
}

func toChargeDTO(c generic.Charge) ChargeDTO {
	return ChargeDTO{
		ID:            c.ID,
		TripID:        c.TripID,
		CustomerID:    c.CustomerID,
		Fare:          c.Fare,
		Discount:      c.Discount,
		Complimentary: c.Complimentary,
		Cancelled:     c.Cancelled,
		Status:        c.Status,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toBreakdownDTO(b charge.Breakdown) BreakdownDTO {
	attributions := make([]AttributionDTO, len(b.Attributions))
	for i, a := range b.Attributions {
		attributions[i] = AttributionDTO{PaymentID: a.PaymentID, Trip: a.Trip, AddOns: a.AddOns}
	}
	return BreakdownDTO{
		ChargeID:     b.ChargeID,
		OwedTrip:     b.OwedTrip,
		OwedAddOns:   b.OwedAddOns,
		OwedTotal:    b.OwedTotal,
		PaidTrip:     b.PaidTrip,
		PaidAddOns:   b.PaidAddOns,
		PaidTotal:    b.PaidTotal,
		Outstanding:  b.Outstanding,
		Status:       b.Status,
		Attributions: attributions,
	}
}

func toTourDTO(t generic.TourSelection) TourSelectionDTO {
	return TourSelectionDTO{ID: t.ID, ChargeID: t.ChargeID, TourID: t.TourID, ChargedPrice: t.ChargedPrice}
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:        p.ID,
		ChargeID:  p.ChargeID,
		Category:  string(p.Category),
		Amount:    p.Amount,
		Date:      p.Date,
		Method:    p.Method,
		Note:      p.Note,
		CreatedAt: p.CreatedAt,
	}
}

func (r PaymentRequest) toDomain(chargeID string) charge.PaymentRequest {
	return charge.PaymentRequest{
		ChargeID: chargeID,
		Category: generic.PaymentCategory(r.Category),
		Amount:   r.Amount,
		Date:     r.Date,
		Method:   r.Method,
		Note:     r.Note,
	}
}

func toInstallmentDTO(i generic.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:            i.ID,
		ChargeID:      i.ChargeID,
		Sequence:      i.Sequence,
		Total:         i.Total,
		Amount:        i.Amount,
		DueDate:       i.DueDate,
		Status:        string(i.Status),
		Method:        i.Method,
		PaidAmount:    i.PaidAmount,
		PaidAt:        i.PaidAt,
		UpcomingAlert: i.Alerts.Upcoming,
		OverdueAlert:  i.Alerts.Overdue,
	}
}

func toInstallmentDTOs(items []generic.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(items))
	for i, item := range items {
		dtos[i] = toInstallmentDTO(item)
	}
	return dtos
}

func toDueReportDTO(r installment.DueReport) DueReportDTO {
	return DueReportDTO{
		Today:       r.Today,
		Window:      r.Window,
		DueSoon:     toInstallmentDTOs(r.DueSoon),
		Overdue:     toInstallmentDTOs(r.Overdue),
		AlertsFired: r.AlertsFired,
		AlertErrors: r.AlertErrors,
	}
}

func toBillDTO(b generic.Bill) BillDTO {
	return BillDTO{
		ID:             b.ID,
		Payee:          b.Payee,
		Category:       b.Category,
		Amount:         b.Amount,
		DueDate:        b.DueDate,
		Recurring:      b.Recurring,
		Frequency:      string(b.Frequency),
		Status:         string(b.Status),
		PaidAt:         b.PaidAt,
		PreviousBillID: b.PreviousBillID,
		CreatedAt:      b.CreatedAt,
	}
}

func (r CreateBillRequest) toDomain() billing.CreateBillRequest {
	return billing.CreateBillRequest{
		Payee:     r.Payee,
		Category:  r.Category,
		Amount:    r.Amount,
		DueDate:   r.DueDate,
		Recurring: r.Recurring,
		Frequency: generic.Frequency(r.Frequency),
	}
}
