package http

import (
	"fmt"
	"net/http"
	"sort"

	"log/slog"

	"tally/internal/core"
)

type categoryAmountResponse struct {
	Name       string  `json:"name"`
	GrossCents int64   `json:"gross_cents"`
	NetCents   int64   `json:"net_cents"`
	Gross      float64 `json:"gross"`
	Net        float64 `json:"net"`
}

type dashboardResponse struct {
	Year       int                      `json:"year"`
	Month      int                      `json:"month"`
	GrossCents int64                    `json:"gross_cents"`
	NetCents   int64                    `json:"net_cents"`
	Gross      float64                  `json:"gross"`
	Net        float64                  `json:"net"`
	ByCategory []categoryAmountResponse `json:"by_category"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	year, month, err := yearMonthParams(r)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}

	overview, err := s.monthOverview(r, sess.UserID, year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := dashboardResponse{
		Year:       overview.Year,
		Month:      overview.Month,
		GrossCents: overview.Gross.Cents,
		NetCents:   overview.Net.Cents,
		Gross:      overview.Gross.Units(),
		Net:        overview.Net.Units(),
		ByCategory: make([]categoryAmountResponse, 0, len(overview.ByCategory)),
	}
	for _, row := range overview.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryAmountResponse{
			Name:       row.Name,
			GrossCents: row.Gross.Cents,
			NetCents:   row.Net.Cents,
			Gross:      row.Gross.Units(),
			Net:        row.Net.Units(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// monthOverview settles a month of expenses and aggregates per category,
// memoized per user and month.
func (s *Server) monthOverview(r *http.Request, userID int64, year, month int) (core.MonthOverview, error) {
	key := fmt.Sprintf("%s%04d-%02d", dashPrefix(userID), year, month)

	if overview, found := s.dashCache.Get(key); found {
		slog.DebugContext(r.Context(), "Dashboard cache hit", "user_id", userID, "year", year, "month", month)
		return overview, nil
	}

	expenses, err := s.expenses.ListExpenses(r.Context(), userID, year, month)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list month expenses (year=%d, month=%d): %w", year, month, err)
	}

	overview := core.MonthOverview{Year: year, Month: month}
	byCategory := map[string]*core.CategoryAmount{}
	for _, e := range expenses {
		settlement := e.Settle()
		overview.Gross.Cents += settlement.GrossCents
		overview.Net.Cents += settlement.NetCents

		row, ok := byCategory[e.Category]
		if !ok {
			row = &core.CategoryAmount{Name: e.Category}
			byCategory[e.Category] = row
		}
		row.Gross.Cents += settlement.GrossCents
		row.Net.Cents += settlement.NetCents
	}

	for _, row := range byCategory {
		overview.ByCategory = append(overview.ByCategory, *row)
	}
	sort.Slice(overview.ByCategory, func(i, j int) bool {
		a, b := overview.ByCategory[i], overview.ByCategory[j]
		if a.Net.Cents != b.Net.Cents {
			return a.Net.Cents > b.Net.Cents
		}
		return a.Name < b.Name
	})

	s.dashCache.Set(key, overview)
	return overview, nil
}
