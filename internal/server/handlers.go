package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

type handlers struct {
	device  Device
	history HistoryReader
	env     string
	logger  zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeResult maps controller errors onto HTTP. A persistence failure keeps
// the in-memory change, so it is reported as success with a warning.
func (h *handlers) writeResult(w http.ResponseWriter, err error, body map[string]any) {
	switch {
	case err == nil:
	case errors.Is(err, irrigation.ErrPersistence):
		h.logger.Warn().Err(err).Msg("schedule change not persisted")
		body["warning"] = err.Error()
	case errors.Is(err, irrigation.ErrStoreFull):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, irrigation.ErrInvalidParameter), errors.Is(err, irrigation.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Environment: h.env, Status: "ok"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "OK")
}

// channelStatus is the JSON view of irrigation.ChannelStatus in seconds.
type channelStatus struct {
	Channel          int    `json:"channel"`
	Active           bool   `json:"active"`
	Source           string `json:"source,omitempty"`
	PlannedSeconds   int    `json:"planned_seconds"`
	ElapsedSeconds   int    `json:"elapsed_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type statusResponse struct {
	Irrigating       bool            `json:"irrigating"`
	TimeValid        bool            `json:"time_valid"`
	Now              *time.Time      `json:"now,omitempty"`
	RemainingSeconds int             `json:"remaining_seconds"`
	LastIrrigation   *time.Time      `json:"last_irrigation,omitempty"`
	NextScheduled    *time.Time      `json:"next_scheduled,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	Schedules        int             `json:"schedules"`
	Channels         []channelStatus `json:"channels"`
}

func seconds(d time.Duration) int { return int(d / time.Second) }

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toStatusResponse(s irrigation.Status) statusResponse {
	resp := statusResponse{
		Irrigating:       s.Irrigating,
		TimeValid:        s.TimeValid,
		RemainingSeconds: seconds(s.TimeRemaining),
		LastIrrigation:   timePtr(s.LastIrrigation),
		LastError:        s.LastError,
		Schedules:        s.Schedules,
		Channels:         make([]channelStatus, 0, len(s.Channels)),
	}
	if s.TimeValid {
		resp.Now = timePtr(s.Now)
	}
	if s.HasNext {
		resp.NextScheduled = timePtr(s.NextScheduled)
	}
	for _, ch := range s.Channels {
		resp.Channels = append(resp.Channels, channelStatus{
			Channel:          ch.Channel,
			Active:           ch.Active,
			Source:           string(ch.Source),
			PlannedSeconds:   seconds(ch.Planned),
			ElapsedSeconds:   seconds(ch.Elapsed),
			RemainingSeconds: seconds(ch.Remaining),
		})
	}
	return resp
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.device.Status()))
}

func (h *handlers) clearError(w http.ResponseWriter, r *http.Request) {
	h.device.ClearError()
	writeJSON(w, http.StatusOK, toStatusResponse(h.device.Status()))
}

type startRequest struct {
	Minutes *int `json:"minutes"`
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func (h *handlers) startChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := pathInt(r, "channel")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req startRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	minutes := h.device.Limits().DefaultDuration
	if req.Minutes != nil {
		minutes = *req.Minutes
	}

	h.logger.Info().Int("channel", channel).Int("minutes", minutes).Msg("API start request")
	err = h.device.Start(channel, minutes, irrigation.SourceManual)
	h.writeResult(w, err, map[string]any{"status": toStatusResponse(h.device.Status())})
}

func (h *handlers) stopChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := pathInt(r, "channel")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := irrigation.StopChannel(channel)
	if channel == 0 {
		target = irrigation.StopAll()
	}
	h.logger.Info().Int("channel", channel).Msg("API stop request")
	err = h.device.Stop(target)
	h.writeResult(w, err, map[string]any{"status": toStatusResponse(h.device.Status())})
}

func (h *handlers) stopAll(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("API stop-all request")
	err := h.device.Stop(irrigation.StopAll())
	h.writeResult(w, err, map[string]any{"status": toStatusResponse(h.device.Status())})
}

type scheduleView struct {
	Index    int    `json:"index"`
	Enabled  bool   `json:"enabled"`
	Channel  int    `json:"channel"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Duration int    `json:"duration"`
	Weekdays uint8  `json:"weekdays"`
	Days     string `json:"days"`
	Cron     string `json:"cron,omitempty"`
}

func toScheduleView(index int, s irrigation.Schedule) scheduleView {
	return scheduleView{
		Index:    index,
		Enabled:  s.Enabled,
		Channel:  s.Channel,
		Hour:     s.Hour,
		Minute:   s.Minute,
		Duration: s.DurationMinutes,
		Weekdays: uint8(s.Weekdays),
		Days:     s.Weekdays.String(),
		Cron:     s.CronExpr(),
	}
}

// listSchedules returns every slot; ?enabled=true limits to enabled ones.
func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	onlyEnabled := r.URL.Query().Get("enabled") == "true"
	out := []scheduleView{}
	for i, s := range h.device.Schedules() {
		if onlyEnabled && !s.Enabled {
			continue
		}
		out = append(out, toScheduleView(i, s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.device.Schedule(index)
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleView(index, s))
}

type scheduleRequest struct {
	Channel  int    `json:"channel"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Duration int    `json:"duration"`
	Weekdays *uint8 `json:"weekdays"`
}

func decodeSchedule(r *http.Request) (scheduleRequest, irrigation.WeekdayMask, error) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, 0, errors.New("invalid request body")
	}
	mask := irrigation.EveryDay
	if req.Weekdays != nil {
		mask = irrigation.WeekdayMask(*req.Weekdays)
	}
	return req, mask, nil
}

func (h *handlers) addSchedule(w http.ResponseWriter, r *http.Request) {
	req, mask, err := decodeSchedule(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := h.device.AddSchedule(req.Channel, req.Hour, req.Minute, req.Duration, mask)
	body := map[string]any{"index": index}
	if err == nil || errors.Is(err, irrigation.ErrPersistence) {
		if s, getErr := h.device.Schedule(index); getErr == nil {
			body["schedule"] = toScheduleView(index, s)
		}
	}
	h.writeResult(w, err, body)
}

func (h *handlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, mask, err := decodeSchedule(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = h.device.UpdateSchedule(index, req.Channel, req.Hour, req.Minute, req.Duration, mask)
	h.writeScheduleResult(w, index, err)
}

func (h *handlers) removeSchedule(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeScheduleResult(w, index, h.device.RemoveSchedule(index))
}

func (h *handlers) enableSchedule(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathInt(r, "index")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeScheduleResult(w, index, h.device.SetScheduleEnabled(index, enabled))
	}
}

func (h *handlers) writeScheduleResult(w http.ResponseWriter, index int, err error) {
	body := map[string]any{"index": index}
	if err == nil || errors.Is(err, irrigation.ErrPersistence) {
		if s, getErr := h.device.Schedule(index); getErr == nil {
			body["schedule"] = toScheduleView(index, s)
		}
	}
	h.writeResult(w, err, body)
}

// listHistory returns recent runs; ?channel=n filters and ?limit=n caps.
func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	channel, limit := 0, 0
	if v := r.URL.Query().Get("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid channel")
			return
		}
		channel = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	rows, err := h.history.Recent(r.Context(), channel, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}
