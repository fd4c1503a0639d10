// Package api exposes the fire-event store over HTTP: event queries,
// per-event analytics, and manual window submission.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/firewatch-data/hotspot.report/internal/config"
	"github.com/firewatch-data/hotspot.report/internal/firms"
	"github.com/firewatch-data/hotspot.report/internal/geo"
	"github.com/firewatch-data/hotspot.report/internal/httputil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	pipeline  *firms.Pipeline
	analytics *firms.Analytics
	cfg       *config.TuningConfig
}

func NewServer(pipeline *firms.Pipeline, cfg *config.TuningConfig) *Server {
	return &Server{
		pipeline:  pipeline,
		analytics: firms.NewAnalytics(pipeline.Store()),
		cfg:       cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/events/", s.eventSubresource)
	mux.HandleFunc("/api/windows", s.processWindow)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// listEvents handles GET /api/events?status=active,dormant&bbox=minLon,minLat,maxLon,maxLat
// and returns one summary row per matching event.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var statuses []firms.EventStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			switch status := firms.EventStatus(strings.TrimSpace(part)); status {
			case firms.EventActive, firms.EventDormant, firms.EventClosed:
				statuses = append(statuses, status)
			default:
				httputil.BadRequest(w, "unknown status: "+part)
				return
			}
		}
	}

	var events []*firms.FireEvent
	if raw := r.URL.Query().Get("bbox"); raw != "" {
		box, err := geo.ParseBBox(raw)
		if err != nil {
			httputil.BadRequest(w, "bad bbox: "+err.Error())
			return
		}
		events = s.analytics.EventsInBBox(box, statuses...)
	} else {
		events = s.pipeline.Store().EventsByStatus(statuses...)
	}

	summaries := make([]firms.EventSummary, 0, len(events))
	for _, event := range events {
		summary, err := s.analytics.Summary(event.EventID)
		if err != nil {
			// Closed events removed between the two reads; skip.
			continue
		}
		summaries = append(summaries, summary)
	}
	httputil.WriteJSON(w, http.StatusOK, summaries)
}

// eventSubresource routes /api/events/{id}, /api/events/{id}/frp, and
// /api/events/{id}/summary.
func (s *Server) eventSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/events/")
	eventID, sub, _ := strings.Cut(rest, "/")
	if eventID == "" {
		httputil.BadRequest(w, "missing event id")
		return
	}

	switch sub {
	case "":
		event, err := s.pipeline.Store().GetEvent(eventID)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, event)
	case "frp":
		s.showFRPTrend(w, eventID)
	case "summary":
		summary, err := s.analytics.Summary(eventID)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, summary)
	default:
		httputil.NotFound(w, "unknown resource: "+sub)
	}
}

type frpSample struct {
	Time time.Time `json:"time"`
	FRP  float64   `json:"frp"`
}

type frpTrendResponse struct {
	EventID      string      `json:"event_id"`
	Samples      []frpSample `json:"samples"`
	SlopeMWPerH  float64     `json:"slope_mw_per_h"`
}

func (s *Server) showFRPTrend(w http.ResponseWriter, eventID string) {
	trend, err := s.analytics.FRPTrend(eventID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	slope, err := s.analytics.FRPTrendSlope(eventID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	resp := frpTrendResponse{EventID: eventID, Samples: []frpSample{}, SlopeMWPerH: slope}
	for ts, frp := range trend {
		resp.Samples = append(resp.Samples, frpSample{Time: ts, FRP: frp})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// windowRequest is the POST /api/windows body: one batch of raw records plus
// the window timestamp they belong to.
type windowRequest struct {
	WindowTime time.Time         `json:"window_time"`
	Records    []firms.RawRecord `json:"records"`
}

func (s *Server) processWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "bad request body: "+err.Error())
		return
	}
	if req.WindowTime.IsZero() {
		httputil.BadRequest(w, "window_time is required")
		return
	}

	summary, err := s.pipeline.ProcessWindow(req.Records, req.WindowTime)
	if err != nil {
		log.Printf("window %s processed but flush failed: %v", req.WindowTime, err)
		httputil.InternalServerError(w, "window processed but not persisted")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

type statsResponse struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Dormant int `json:"dormant"`
	Closed  int `json:"closed"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	total, active, dormant, closed := s.pipeline.Store().Counts()
	httputil.WriteJSON(w, http.StatusOK, statsResponse{
		Total: total, Active: active, Dormant: dormant, Closed: closed,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, firms.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}
