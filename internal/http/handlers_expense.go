package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"

	"log/slog"
)

type expenseItemPayload struct {
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
	Price    string `json:"price" validate:"required"`
	Note     string `json:"note" validate:"max=200"`
	Deleted  bool   `json:"deleted"`
}

type refundPayload struct {
	Expected string  `json:"expected" validate:"required"`
	Actual   *string `json:"actual"`
	Deleted  bool    `json:"deleted"`
}

type expensePayload struct {
	Date                 string               `json:"date" validate:"required,datetime=2006-01-02"`
	Description          string               `json:"description" validate:"required,max=200"`
	Category             string               `json:"category" validate:"required,max=64"`
	ServiceChargePercent *float64             `json:"service_charge_percent" validate:"omitempty,gte=0,lte=100"`
	GSTExcluded          bool                 `json:"gst_excluded"`
	Items                []expenseItemPayload `json:"items" validate:"required,min=1,dive"`
	Refunds              []refundPayload      `json:"refunds" validate:"dive"`
}

// toExpense converts the payload into a domain expense. Monetary fields
// arrive as decimal strings and are parsed to cents.
func (p expensePayload) toExpense(userID int64) (*core.Expense, error) {
	date, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return nil, core.ErrInvalidDay
	}

	e := &core.Expense{
		UserID:               userID,
		Date:                 core.Date{Time: date},
		Description:          p.Description,
		Category:             p.Category,
		ServiceChargePercent: p.ServiceChargePercent,
		GSTExcluded:          p.GSTExcluded,
	}

	for _, it := range p.Items {
		cents, err := core.ParseDecimalToCents(it.Price)
		if err != nil {
			return nil, err
		}
		e.Items = append(e.Items, core.ExpenseItem{
			Quantity:   it.Quantity,
			PriceCents: cents,
			Note:       it.Note,
			IsDeleted:  it.Deleted,
		})
	}

	for _, rf := range p.Refunds {
		expected, err := core.ParseDecimalToCents(rf.Expected)
		if err != nil {
			return nil, err
		}
		refund := core.Refund{ExpectedCents: expected, IsDeleted: rf.Deleted}
		if rf.Actual != nil {
			actual, err := core.ParseDecimalToCents(*rf.Actual)
			if err != nil {
				return nil, err
			}
			refund.ActualCents = &actual
		}
		e.Refunds = append(e.Refunds, refund)
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

type expenseItemResponse struct {
	ID         int64  `json:"id"`
	Quantity   int64  `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	Note       string `json:"note,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

type refundResponse struct {
	ID            int64  `json:"id"`
	ExpectedCents int64  `json:"expected_cents"`
	ActualCents   *int64 `json:"actual_cents,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"`
}

type settlementResponse struct {
	GrossCents          int64   `json:"gross_cents"`
	ExpectedRefundCents int64   `json:"expected_refund_cents"`
	MinRefundCents      int64   `json:"min_refund_cents"`
	NetCents            int64   `json:"net_cents"`
	Gross               float64 `json:"gross"`
	Net                 float64 `json:"net"`
}

type expenseResponse struct {
	ID                   int64                 `json:"id"`
	Date                 string                `json:"date"`
	Description          string                `json:"description"`
	Category             string                `json:"category"`
	ServiceChargePercent *float64              `json:"service_charge_percent,omitempty"`
	GSTExcluded          bool                  `json:"gst_excluded"`
	Items                []expenseItemResponse `json:"items"`
	Refunds              []refundResponse      `json:"refunds"`
	Settlement           settlementResponse    `json:"settlement"`
	CreatedAt            time.Time             `json:"created_at"`
}

func toExpenseResponse(e *core.Expense) expenseResponse {
	settlement := e.Settle()

	resp := expenseResponse{
		ID:                   e.ID,
		Date:                 e.Date.Format("2006-01-02"),
		Description:          e.Description,
		Category:             e.Category,
		ServiceChargePercent: e.ServiceChargePercent,
		GSTExcluded:          e.GSTExcluded,
		Items:                make([]expenseItemResponse, 0, len(e.Items)),
		Refunds:              make([]refundResponse, 0, len(e.Refunds)),
		Settlement: settlementResponse{
			GrossCents:          settlement.GrossCents,
			ExpectedRefundCents: settlement.ExpectedRefundCents,
			MinRefundCents:      settlement.MinRefundCents,
			NetCents:            settlement.NetCents,
			Gross:               settlement.Gross,
			Net:                 settlement.Net,
		},
		CreatedAt: e.CreatedAt,
	}

	for _, it := range e.Items {
		resp.Items = append(resp.Items, expenseItemResponse{
			ID:         it.ID,
			Quantity:   it.Quantity,
			PriceCents: it.PriceCents,
			Note:       it.Note,
			Deleted:    it.IsDeleted,
		})
	}
	for _, rf := range e.Refunds {
		resp.Refunds = append(resp.Refunds, refundResponse{
			ID:            rf.ID,
			ExpectedCents: rf.ExpectedCents,
			ActualCents:   rf.ActualCents,
			Deleted:       rf.IsDeleted,
		})
	}

	return resp
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var payload expensePayload
	if err := s.decodeJSON(r, &payload); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	expense, err := payload.toExpense(sess.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.expenses.CreateExpense(r.Context(), expense); err != nil {
		writeError(w, r, err)
		return
	}

	s.afterExpenseWrite(r, expense.ID, sess.UserID, amqp.ReasonCreated)
	writeJSON(w, http.StatusCreated, toExpenseResponse(expense))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, r, errBadRequest)
		return
	}

	expense, err := s.expenses.ExpenseByID(r.Context(), sess.UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toExpenseResponse(expense))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, r, errBadRequest)
		return
	}

	var payload expensePayload
	if err := s.decodeJSON(r, &payload); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	expense, err := payload.toExpense(sess.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	expense.ID = id

	if err := s.expenses.UpdateExpense(r.Context(), expense); err != nil {
		writeError(w, r, err)
		return
	}

	s.afterExpenseWrite(r, id, sess.UserID, amqp.ReasonUpdated)
	writeJSON(w, http.StatusOK, toExpenseResponse(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, r, errBadRequest)
		return
	}

	if err := s.expenses.SoftDeleteExpense(r.Context(), sess.UserID, id); err != nil {
		writeError(w, r, err)
		return
	}

	s.afterExpenseWrite(r, id, sess.UserID, amqp.ReasonDeleted)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	year, month, err := yearMonthParams(r)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}

	expenses, err := s.expenses.ListExpenses(r.Context(), sess.UserID, year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.expenses.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// afterExpenseWrite drops the user's cached dashboard months and queues
// the expense for export. Both are best effort.
func (s *Server) afterExpenseWrite(r *http.Request, id, userID int64, reason string) {
	s.dashCache.DeletePrefix(dashPrefix(userID))

	if s.sync == nil {
		return
	}
	if err := s.sync.PublishExpenseSync(r.Context(), id, reason); err != nil {
		slog.WarnContext(r.Context(), "Failed to publish expense sync", "id", id, "error", err)
	}
}

func yearMonthParams(r *http.Request) (int, int, error) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())

	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errBadRequest
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errBadRequest
		}
		month = m
	}
	if month < 1 || month > 12 {
		return 0, 0, core.ErrInvalidMonth
	}
	return year, month, nil
}

func dashPrefix(userID int64) string {
	return fmt.Sprintf("user:%d:", userID)
}
