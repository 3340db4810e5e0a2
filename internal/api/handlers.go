package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/numeric"
)

const (
	headerSource   = "X-Analysis-Source"
	headerDegraded = "X-Analysis-Degraded"

	defaultWindowDays = 7
	maxWindowDays     = 30
)

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	market, asOf, ok := h.params(w, r, model.AnalysisSnapshot)
	if !ok {
		return
	}
	out, err := h.svc.Snapshot(r.Context(), market, asOf)
	respond(w, r, out, err)
}

func (h *handler) drivers(w http.ResponseWriter, r *http.Request) {
	market, asOf, ok := h.params(w, r, model.AnalysisDrivers)
	if !ok {
		return
	}
	out, err := h.svc.Drivers(r.Context(), market, asOf)
	respond(w, r, out, err)
}

func (h *handler) regime(w http.ResponseWriter, r *http.Request) {
	market, asOf, ok := h.params(w, r, model.AnalysisRegime)
	if !ok {
		return
	}
	out, err := h.svc.Regime(r.Context(), market, asOf)
	respond(w, r, out, err)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	market, asOf, ok := h.params(w, r, model.AnalysisEvents)
	if !ok {
		return
	}
	windowDays, err := parseWindowDays(r.URL.Query().Get("windowDays"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.Events(r.Context(), market, asOf, windowDays)
	respond(w, r, out, err)
}

// params validates the market and asOf query parameters, writing a 400
// on failure. An explicit asOf must resolve to a date no later than typ's
// current effective date and no more than maxAsOfAge days before it.
func (h *handler) params(w http.ResponseWriter, r *http.Request, typ model.AnalysisType) (model.Market, *time.Time, bool) {
	q := r.URL.Query()
	market, err := model.ParseMarket(q.Get("market"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "market must be one of "+marketList())
		return "", nil, false
	}
	asOf, err := parseAsOf(q.Get("asOf"), h.boundary.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	if asOf != nil {
		if err := checkAsOf(h.boundary.Resolve(typ, asOf), h.boundary.Today(typ), h.maxAsOfAge); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return "", nil, false
		}
	}
	return market, asOf, true
}

// checkAsOf rejects dates after today or more than maxAge days before it.
func checkAsOf(date, today time.Time, maxAge int) error {
	if date.After(today) {
		return eris.Errorf("asOf must not be after %s", today.Format(model.DateLayout))
	}
	if earliest := today.AddDate(0, 0, -maxAge); date.Before(earliest) {
		return eris.Errorf("asOf must not be before %s", earliest.Format(model.DateLayout))
	}
	return nil
}

// parseAsOf accepts RFC 3339 or a YYYY-MM-DD date in loc. Empty means the
// current effective date.
func parseAsOf(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation(model.DateLayout, raw, loc); err == nil {
		return &t, nil
	}
	return nil, eris.Errorf("asOf must be RFC 3339 or YYYY-MM-DD, got %q", raw)
}

func parseWindowDays(raw string) (int, error) {
	if raw == "" {
		return defaultWindowDays, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxWindowDays {
		return 0, eris.Errorf("windowDays must be an integer between 1 and %d", maxWindowDays)
	}
	return n, nil
}

func marketList() string {
	markets := model.Markets()
	names := make([]string, len(markets))
	for i, m := range markets {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func respond[T any](w http.ResponseWriter, r *http.Request, out coordinator.Outcome[T], err error) {
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("api: request failed",
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Error(err),
			)
		}
		writeError(w, status, msg)
		return
	}
	w.Header().Set(headerSource, string(out.Source))
	if out.Degraded {
		w.Header().Set(headerDegraded, "true")
	}
	writeJSON(w, http.StatusOK, out.Content)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidMarket):
		return http.StatusBadRequest, "invalid market"
	case errors.Is(err, numeric.ErrInsufficientData):
		return http.StatusServiceUnavailable, "insufficient price data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "generation timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
