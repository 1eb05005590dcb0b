// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore. Every call holds the mutex; WithTx holds
// it for the whole callback and restores a snapshot if the callback fails.
type Memory struct {
	mu   sync.Mutex
	data *memData

	// FailNext, when set, is returned (and cleared) by the next write.
	// Tests use it to simulate store failures mid-operation.
	FailNext error
}

type memData struct {
	credits      map[string]generic.Credit
	entries      map[string][]generic.CreditEntry
	links        map[string]generic.CreditLink
	charges      map[string]generic.Charge
	tours        map[string]generic.TourSelection
	payments     map[string]generic.Payment
	installments map[string]generic.Installment
	bills        map[string]generic.Bill
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		credits:      make(map[string]generic.Credit),
		entries:      make(map[string][]generic.CreditEntry),
		links:        make(map[string]generic.CreditLink),
		charges:      make(map[string]generic.Charge),
		tours:        make(map[string]generic.TourSelection),
		payments:     make(map[string]generic.Payment),
		installments: make(map[string]generic.Installment),
		bills:        make(map[string]generic.Bill),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.credits {
		c.credits[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = append([]generic.CreditEntry(nil), v...)
	}
	for k, v := range d.links {
		c.links[k] = v
	}
	for k, v := range d.charges {
		c.charges[k] = v
	}
	for k, v := range d.tours {
		c.tours[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.bills {
		c.bills[k] = v
	}
	return c
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// locked runs fn against a view while holding the mutex.
func (m *Memory) locked(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{m: m})
}

// view implements generic.Store without locking; callers hold Memory.mu.
type view struct {
	m *Memory
}

func (v *view) d() *memData { return v.m.data }

func (v *view) failed() error {
	if err := v.m.FailNext; err != nil {
		v.m.FailNext = nil
		return err
	}
	return nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (v *view) GetCredit(_ context.Context, id string) (generic.Credit, error) {
	c, ok := v.d().credits[id]
	if !ok {
		return generic.Credit{}, generic.NotFound("credit", id)
	}
	return c, nil
}

func (v *view) ListCreditsByCustomer(_ context.Context, customerID string) ([]generic.Credit, error) {
	var out []generic.Credit
	for _, c := range v.d().credits {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertCredit(_ context.Context, c generic.Credit) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().credits[c.ID] = c
	return nil
}

func (v *view) UpdateCredit(_ context.Context, c generic.Credit) error {
	if err := v.failed(); err != nil {
		return err
	}
	stored, ok := v.d().credits[c.ID]
	if !ok {
		return generic.NotFound("credit", c.ID)
	}
	if stored.Version != c.Version {
		return generic.ErrConcurrentModification
	}
	stored.AvailableBalance = c.AvailableBalance
	stored.Status = c.Status
	stored.UpdatedAt = c.UpdatedAt
	stored.Version++
	v.d().credits[c.ID] = stored
	return nil
}

func (v *view) AppendCreditEntry(_ context.Context, e generic.CreditEntry) error {
	if err := v.failed(); err != nil {
		return err
	}
	for _, existing := range v.d().entries[e.CreditID] {
		if existing.Sequence == e.Sequence {
			return generic.ErrConcurrentModification
		}
	}
	v.d().entries[e.CreditID] = append(v.d().entries[e.CreditID], e)
	return nil
}

func (v *view) ListCreditEntries(_ context.Context, creditID string) ([]generic.CreditEntry, error) {
	out := append([]generic.CreditEntry(nil), v.d().entries[creditID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (v *view) InsertCreditLink(_ context.Context, l generic.CreditLink) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().links[l.ID] = l
	return nil
}

func (v *view) GetCreditLink(_ context.Context, id string) (generic.CreditLink, error) {
	l, ok := v.d().links[id]
	if !ok {
		return generic.CreditLink{}, generic.NotFound("credit link", id)
	}
	return l, nil
}

func (v *view) ListCreditLinks(_ context.Context, creditID string) ([]generic.CreditLink, error) {
	var out []generic.CreditLink
	for _, l := range v.d().links {
		if l.CreditID == creditID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) MarkCreditLinkReversed(_ context.Context, id string, at time.Time) error {
	if err := v.failed(); err != nil {
		return err
	}
	l, ok := v.d().links[id]
	if !ok {
		return generic.NotFound("credit link", id)
	}
	if l.Reversed() {
		return generic.ErrConcurrentModification
	}
	l.ReversedAt = &at
	v.d().links[id] = l
	return nil
}

// =============================================================================
// CHARGES
// =============================================================================

func (v *view) GetCharge(_ context.Context, id string) (generic.Charge, error) {
	c, ok := v.d().charges[id]
	if !ok {
		return generic.Charge{}, generic.NotFound("charge", id)
	}
	return c, nil
}

func (v *view) InsertCharge(_ context.Context, c generic.Charge) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().charges[c.ID] = c
	return nil
}

func (v *view) UpdateCharge(_ context.Context, c generic.Charge) error {
	if err := v.failed(); err != nil {
		return err
	}
	if _, ok := v.d().charges[c.ID]; !ok {
		return generic.NotFound("charge", c.ID)
	}
	v.d().charges[c.ID] = c
	return nil
}

func (v *view) ListTourSelections(_ context.Context, chargeID string) ([]generic.TourSelection, error) {
	var out []generic.TourSelection
	for _, t := range v.d().tours {
		if t.ChargeID == chargeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) InsertTourSelection(_ context.Context, t generic.TourSelection) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().tours[t.ID] = t
	return nil
}

func (v *view) DeleteTourSelection(_ context.Context, id string) error {
	if err := v.failed(); err != nil {
		return err
	}
	if _, ok := v.d().tours[id]; !ok {
		return generic.NotFound("tour selection", id)
	}
	delete(v.d().tours, id)
	return nil
}

func (v *view) GetPayment(_ context.Context, id string) (generic.Payment, error) {
	p, ok := v.d().payments[id]
	if !ok {
		return generic.Payment{}, generic.NotFound("payment", id)
	}
	return p, nil
}

func (v *view) ListPayments(_ context.Context, chargeID string) ([]generic.Payment, error) {
	var out []generic.Payment
	for _, p := range v.d().payments {
		if p.ChargeID == chargeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertPayment(_ context.Context, p generic.Payment) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().payments[p.ID] = p
	return nil
}

func (v *view) UpdatePayment(_ context.Context, p generic.Payment) error {
	if err := v.failed(); err != nil {
		return err
	}
	if _, ok := v.d().payments[p.ID]; !ok {
		return generic.NotFound("payment", p.ID)
	}
	v.d().payments[p.ID] = p
	return nil
}

func (v *view) DeletePayment(_ context.Context, id string) error {
	if err := v.failed(); err != nil {
		return err
	}
	if _, ok := v.d().payments[id]; !ok {
		return generic.NotFound("payment", id)
	}
	delete(v.d().payments, id)
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (v *view) GetInstallment(_ context.Context, id string) (generic.Installment, error) {
	i, ok := v.d().installments[id]
	if !ok {
		return generic.Installment{}, generic.NotFound("installment", id)
	}
	return i, nil
}

func (v *view) ListInstallments(_ context.Context, chargeID string) ([]generic.Installment, error) {
	var out []generic.Installment
	for _, i := range v.d().installments {
		if i.ChargeID == chargeID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}

func (v *view) DeleteInstallments(_ context.Context, chargeID string) error {
	if err := v.failed(); err != nil {
		return err
	}
	for id, i := range v.d().installments {
		if i.ChargeID == chargeID {
			delete(v.d().installments, id)
		}
	}
	return nil
}

func (v *view) InsertInstallment(_ context.Context, i generic.Installment) error {
	if err := v.failed(); err != nil {
		return err
	}
	v.d().installments[i.ID] = i
	return nil
}

func (v *view) UpdateInstallment(_ context.Context, i generic.Installment) error {
	if err := v.failed(); err != nil {
		return err
	}
	stored, ok := v.d().installments[i.ID]
	if !ok {
		return generic.NotFound("installment", i.ID)
	}
	stored.Status = i.Status
	stored.Method = i.Method
	stored.PaidAmount = i.PaidAmount
	stored.PaidAt = i.PaidAt
	v.d().installments[i.ID] = stored
	return nil
}

func (v *view) ListPendingDueBy(_ context.Context, day generic.Date) ([]generic.Installment, error) {
	var out []generic.Installment
	for _, i := range v.d().installments {
		if i.Status == generic.InstallmentPending && i.DueDate.BeforeOrEqual(day) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		x, y := out[a], out[b]
		if !x.DueDate.Equal(y.DueDate) {
			return x.DueDate.Before(y.DueDate)
		}
		if x.ChargeID != y.ChargeID {
			return x.ChargeID < y.ChargeID
		}
		return x.Sequence < y.Sequence
	})
	return out, nil
}

func (v *view) ClaimAlert(_ context.Context, id string, t generic.AlertType) (bool, error) {
	if err := v.failed(); err != nil {
		return false, err
	}
	i, ok := v.d().installments[id]
	if !ok {
		return false, generic.NotFound("installment", id)
	}
	if i.Alerts.Sent(t) {
		return false, nil
	}
	setAlert(&i.Alerts, t, true)
	v.d().installments[id] = i
	return true, nil
}

func (v *view) ReleaseAlert(_ context.Context, id string, t generic.AlertType) error {
	i, ok := v.d().installments[id]
	if !ok {
		return generic.NotFound("installment", id)
	}
	setAlert(&i.Alerts, t, false)
	v.d().installments[id] = i
	return nil
}

func setAlert(f *generic.AlertFlags, t generic.AlertType, sent bool) {
	switch t {
	case generic.AlertUpcoming:
		f.Upcoming = sent
	case generic.AlertOverdue:
		f.Overdue = sent
	}
}

// =============================================================================
// BILLS
// =============================================================================

func (v *view) GetBill(_ context.Context, id string) (generic.Bill, error) {
	b, ok := v.d().bills[id]
	if !ok {
		return generic.Bill{}, generic.NotFound("bill", id)
	}
	return b, nil
}

func (v *view) ListBills(_ context.Context, status generic.BillStatus) ([]generic.Bill, error) {
	var out []generic.Bill
	for _, b := range v.d().bills {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertBill(_ context.Context, b generic.Bill) error {
	if err := v.failed(); err != nil {
		return err
	}
	if b.PreviousBillID != "" {
		for _, existing := range v.d().bills {
			if existing.PreviousBillID == b.PreviousBillID {
				return generic.ErrConcurrentModification
			}
		}
	}
	v.d().bills[b.ID] = b
	return nil
}

func (v *view) UpdateBill(_ context.Context, b generic.Bill) error {
	if err := v.failed(); err != nil {
		return err
	}
	stored, ok := v.d().bills[b.ID]
	if !ok {
		return generic.NotFound("bill", b.ID)
	}
	stored.Status = b.Status
	stored.PaidAt = b.PaidAt
	v.d().bills[b.ID] = stored
	return nil
}

func (v *view) FindSuccessor(_ context.Context, previousID string) (*generic.Bill, error) {
	for _, b := range v.d().bills {
		if b.PreviousBillID == previousID {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

// =============================================================================
// LOCKED ACCESS - generic.Store outside a transaction
// =============================================================================

func (m *Memory) GetCredit(ctx context.Context, id string) (generic.Credit, error) {
	var out generic.Credit
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetCredit(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListCreditsByCustomer(ctx context.Context, customerID string) ([]generic.Credit, error) {
	var out []generic.Credit
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListCreditsByCustomer(ctx, customerID)
		return err
	})
	return out, err
}

func (m *Memory) InsertCredit(ctx context.Context, c generic.Credit) error {
	return m.locked(func(v *view) error { return v.InsertCredit(ctx, c) })
}

func (m *Memory) UpdateCredit(ctx context.Context, c generic.Credit) error {
	return m.locked(func(v *view) error { return v.UpdateCredit(ctx, c) })
}

func (m *Memory) AppendCreditEntry(ctx context.Context, e generic.CreditEntry) error {
	return m.locked(func(v *view) error { return v.AppendCreditEntry(ctx, e) })
}

func (m *Memory) ListCreditEntries(ctx context.Context, creditID string) ([]generic.CreditEntry, error) {
	var out []generic.CreditEntry
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListCreditEntries(ctx, creditID)
		return err
	})
	return out, err
}

func (m *Memory) InsertCreditLink(ctx context.Context, l generic.CreditLink) error {
	return m.locked(func(v *view) error { return v.InsertCreditLink(ctx, l) })
}

func (m *Memory) GetCreditLink(ctx context.Context, id string) (generic.CreditLink, error) {
	var out generic.CreditLink
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetCreditLink(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListCreditLinks(ctx context.Context, creditID string) ([]generic.CreditLink, error) {
	var out []generic.CreditLink
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListCreditLinks(ctx, creditID)
		return err
	})
	return out, err
}

func (m *Memory) MarkCreditLinkReversed(ctx context.Context, id string, at time.Time) error {
	return m.locked(func(v *view) error { return v.MarkCreditLinkReversed(ctx, id, at) })
}

func (m *Memory) GetCharge(ctx context.Context, id string) (generic.Charge, error) {
	var out generic.Charge
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetCharge(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) InsertCharge(ctx context.Context, c generic.Charge) error {
	return m.locked(func(v *view) error { return v.InsertCharge(ctx, c) })
}

func (m *Memory) UpdateCharge(ctx context.Context, c generic.Charge) error {
	return m.locked(func(v *view) error { return v.UpdateCharge(ctx, c) })
}

func (m *Memory) ListTourSelections(ctx context.Context, chargeID string) ([]generic.TourSelection, error) {
	var out []generic.TourSelection
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListTourSelections(ctx, chargeID)
		return err
	})
	return out, err
}

func (m *Memory) InsertTourSelection(ctx context.Context, t generic.TourSelection) error {
	return m.locked(func(v *view) error { return v.InsertTourSelection(ctx, t) })
}

func (m *Memory) DeleteTourSelection(ctx context.Context, id string) error {
	return m.locked(func(v *view) error { return v.DeleteTourSelection(ctx, id) })
}

func (m *Memory) GetPayment(ctx context.Context, id string) (generic.Payment, error) {
	var out generic.Payment
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetPayment(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListPayments(ctx context.Context, chargeID string) ([]generic.Payment, error) {
	var out []generic.Payment
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListPayments(ctx, chargeID)
		return err
	})
	return out, err
}

func (m *Memory) InsertPayment(ctx context.Context, p generic.Payment) error {
	return m.locked(func(v *view) error { return v.InsertPayment(ctx, p) })
}

func (m *Memory) UpdatePayment(ctx context.Context, p generic.Payment) error {
	return m.locked(func(v *view) error { return v.UpdatePayment(ctx, p) })
}

func (m *Memory) DeletePayment(ctx context.Context, id string) error {
	return m.locked(func(v *view) error { return v.DeletePayment(ctx, id) })
}

func (m *Memory) GetInstallment(ctx context.Context, id string) (generic.Installment, error) {
	var out generic.Installment
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetInstallment(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListInstallments(ctx context.Context, chargeID string) ([]generic.Installment, error) {
	var out []generic.Installment
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListInstallments(ctx, chargeID)
		return err
	})
	return out, err
}

func (m *Memory) DeleteInstallments(ctx context.Context, chargeID string) error {
	return m.locked(func(v *view) error { return v.DeleteInstallments(ctx, chargeID) })
}

func (m *Memory) InsertInstallment(ctx context.Context, i generic.Installment) error {
	return m.locked(func(v *view) error { return v.InsertInstallment(ctx, i) })
}

func (m *Memory) UpdateInstallment(ctx context.Context, i generic.Installment) error {
	return m.locked(func(v *view) error { return v.UpdateInstallment(ctx, i) })
}

func (m *Memory) ListPendingDueBy(ctx context.Context, day generic.Date) ([]generic.Installment, error) {
	var out []generic.Installment
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListPendingDueBy(ctx, day)
		return err
	})
	return out, err
}

func (m *Memory) ClaimAlert(ctx context.Context, id string, t generic.AlertType) (bool, error) {
	var out bool
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ClaimAlert(ctx, id, t)
		return err
	})
	return out, err
}

func (m *Memory) ReleaseAlert(ctx context.Context, id string, t generic.AlertType) error {
	return m.locked(func(v *view) error { return v.ReleaseAlert(ctx, id, t) })
}

func (m *Memory) GetBill(ctx context.Context, id string) (generic.Bill, error) {
	var out generic.Bill
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.GetBill(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListBills(ctx context.Context, status generic.BillStatus) ([]generic.Bill, error) {
	var out []generic.Bill
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.ListBills(ctx, status)
		return err
	})
	return out, err
}

func (m *Memory) InsertBill(ctx context.Context, b generic.Bill) error {
	return m.locked(func(v *view) error { return v.InsertBill(ctx, b) })
}

func (m *Memory) UpdateBill(ctx context.Context, b generic.Bill) error {
	return m.locked(func(v *view) error { return v.UpdateBill(ctx, b) })
}

func (m *Memory) FindSuccessor(ctx context.Context, previousID string) (*generic.Bill, error) {
	var out *generic.Bill
	err := m.locked(func(v *view) error {
		var err error
		out, err = v.FindSuccessor(ctx, previousID)
		return err
	})
	return out, err
}
