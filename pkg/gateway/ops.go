package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/coststore"
	"github.com/cuber-it/heinzel-gateway/pkg/dialoglog"
	"github.com/cuber-it/heinzel-gateway/pkg/retention"
)

func (s *Server) handleLoggingEnable(w http.ResponseWriter, r *http.Request) {
	s.rt.DialogLog.SetEnabled(true)
	writeJSON(w, http.StatusOK, map[string]bool{"dialog_logging": true})
}

func (s *Server) handleLoggingDisable(w http.ResponseWriter, r *http.Request) {
	s.rt.DialogLog.SetEnabled(false)
	writeJSON(w, http.StatusOK, map[string]bool{"dialog_logging": false})
}

func (s *Server) handleLoggingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"dialog_logging": s.rt.DialogLog.Enabled()})
}

func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	ret := s.rt.Config.Retention
	logResult, err := retention.SweepLogs(s.rt.Config.LogDir, ret.LogMaxAgeDays, ret.LogMaxSizeMB, ret.LogCompress)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	dbResult, err := retention.SweepCostRows(r.Context(), s.rt.CostStore, ret.MetricsMaxAgeDays)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logResult, "database": dbResult})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dialoglog.Filter{
		SessionID: q.Get("session_id"),
		HeinzelID: q.Get("heinzel_id"),
		TaskID:    q.Get("task_id"),
		EntryType: q.Get("type"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Until = &t
		}
	}
	entries, err := dialoglog.Read(s.rt.Config.LogDir, s.tr().Name(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func metricsFilter(r *http.Request) coststore.QueryFilter {
	q := r.URL.Query()
	f := coststore.QueryFilter{
		SessionID: q.Get("session_id"),
		HeinzelID: q.Get("heinzel_id"),
		Provider:  q.Get("provider"),
		Model:     q.Get("model"),
		Status:    q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Until = &t
		}
	}
	return f
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rows, err := s.rt.CostStore.Query(r.Context(), metricsFilter(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.rt.CostStore.Summarize(r.Context(), metricsFilter(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMetricsRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent_rate_limit_hits": s.rt.Tracker.Snapshot(),
		"count":                  s.rt.Tracker.Len(),
	})
}
