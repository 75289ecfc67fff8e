package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"memepulse/internal/service"
	"memepulse/internal/storage"
)

const maxBodyBytes = 1 << 20

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   h.now().UTC(),
	})
}

func (h *handlers) listTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tokens": h.market.Tokens()})
}

func (h *handlers) tokenPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.market.CurrentPrice(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (h *handlers) tokenHistory(w http.ResponseWriter, r *http.Request) {
	q, err := h.historyQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	history, err := h.market.History(r.Context(), mux.Vars(r)["symbol"], q)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// historyQuery reads time_from and time_to (unix seconds or RFC3339).
// timeframe, in minutes, sets the start relative to the end when time_from is absent.
func (h *handlers) historyQuery(r *http.Request) (service.HistoryQuery, error) {
	params := r.URL.Query()
	var q service.HistoryQuery
	var err error
	if q.From, err = parseTimeParam("time_from", params.Get("time_from")); err != nil {
		return q, err
	}
	if q.To, err = parseTimeParam("time_to", params.Get("time_to")); err != nil {
		return q, err
	}
	if raw := params.Get("timeframe"); raw != "" && q.From.IsZero() {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 1 {
			return q, errors.New("timeframe must be a positive number of minutes")
		}
		end := q.To
		if end.IsZero() {
			end = h.now()
			q.To = end
		}
		q.From = end.Add(-time.Duration(minutes) * time.Minute)
	}
	return q, nil
}

func parseTimeParam(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be unix seconds or RFC3339")
	}
	return t.UTC(), nil
}

func (h *handlers) tokenStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.market.Stats(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createAlertRequest struct {
	Symbol           string           `json:"symbol"`
	ThresholdPercent *decimal.Decimal `json:"thresholdPercent"`
	TimeframeMinutes *json.Number     `json:"timeframeMinutes"`
}

func (h *handlers) createAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body")
		return
	}

	in := service.CreateAlertInput{
		Symbol:           strings.TrimSpace(req.Symbol),
		ThresholdPercent: req.ThresholdPercent,
	}
	if req.TimeframeMinutes != nil {
		minutes, err := strconv.Atoi(req.TimeframeMinutes.String())
		if err != nil {
			badRequest(w, "timeframeMinutes must be an integer")
			return
		}
		in.TimeframeMinutes = &minutes
	}

	alert, err := h.alerts.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	filter := storage.AlertFilter{Symbol: params.Get("symbol")}
	if raw := params.Get("active"); raw != "" {
		switch strings.ToLower(raw) {
		case "true":
			active := true
			filter.Active = &active
		case "false":
			active := false
			filter.Active = &active
		default:
			badRequest(w, "active must be true or false")
			return
		}
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if alerts == nil {
		alerts = []storage.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *handlers) getAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		badRequest(w, "id must be a positive integer")
		return
	}
	alert, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
