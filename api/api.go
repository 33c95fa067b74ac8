// Package api exposes dashboard views as JSON over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/TFMV/findash"
	"github.com/TFMV/findash/chart"
	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/normalize"
	"github.com/TFMV/findash/query"
	"github.com/TFMV/findash/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "findash_http_request_latency_seconds",
	Help: "HTTP request latency distribution",
}, []string{"route", "code"})

func init() {
	prometheus.MustRegister(requestLatency)
}

// ---------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------

// Server answers dashboard requests for one Dashboard.
type Server struct {
	dash   *findash.Dashboard
	logger *zap.Logger
}

func NewServer(dash *findash.Dashboard, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dash: dash, logger: logger}
}

// Handler routes the API and the Prometheus metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/segments", s.instrument("segments", s.handleSegments))
	mux.Handle("GET /api/summary", s.instrument("summary", s.handleSummary))
	mux.Handle("GET /api/rows", s.instrument("rows", s.handleRows))
	mux.Handle("GET /api/charts", s.instrument("charts", s.handleCharts))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		elapsed := time.Since(start)
		requestLatency.WithLabelValues(route, strconv.Itoa(rec.code)).Observe(elapsed.Seconds())
		s.logger.Debug("request served",
			zap.String("route", route),
			zap.String("query", r.URL.RawQuery),
			zap.Int("code", rec.code),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// ---------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------

type segmentsResponse struct {
	Source   string   `json:"source"`
	Total    int      `json:"total"`
	AgeMin   *float64 `json:"age_min"`
	AgeMax   *float64 `json:"age_max"`
	Segments []string `json:"segments"`
	// Counts is the number of rows per segment.
	Counts map[string]int `json:"counts"`
}

// Filter is query.Filter with infinite age bounds encoded as null.
type Filter struct {
	AgeMin   *float64 `json:"age_min"`
	AgeMax   *float64 `json:"age_max"`
	Segments []string `json:"segments"`
}

func newFilter(f query.Filter) Filter {
	return Filter{AgeMin: finite(f.AgeMin), AgeMax: finite(f.AgeMax), Segments: f.Segments}
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	view, err := s.dash.View(r.Context(), findash.Selection{})
	if err != nil {
		s.fail(w, err)
		return
	}
	defer view.Release()
	s.write(w, segmentsResponse{
		Source:   view.Identity.URI,
		Total:    view.Total,
		AgeMin:   finite(view.Filter.AgeMin),
		AgeMax:   finite(view.Filter.AgeMax),
		Segments: view.Filter.Segments,
		Counts:   view.Counts,
	})
}

// Summary is stats.Summary with undefined statistics encoded as null.
type Summary struct {
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	Std   *float64 `json:"std"`
	Min   *float64 `json:"min"`
	P25   *float64 `json:"p25"`
	P50   *float64 `json:"p50"`
	P75   *float64 `json:"p75"`
	Max   *float64 `json:"max"`
}

func newSummary(s stats.Summary) Summary {
	return Summary{
		Count: s.Count,
		Mean:  finite(s.Mean),
		Std:   finite(s.Std),
		Min:   finite(s.Min),
		P25:   finite(s.P25),
		P50:   finite(s.P50),
		P75:   finite(s.P75),
		Max:   finite(s.Max),
	}
}

type summaryResponse struct {
	Filter  Filter             `json:"filter"`
	Rows    int                `json:"rows"`
	Total   int                `json:"total"`
	Columns []string           `json:"columns"`
	Stats   map[string]Summary `json:"stats"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	defer view.Release()

	rep := view.Summary()
	out := summaryResponse{
		Filter:  newFilter(view.Filter),
		Rows:    view.Rows.NumRows(),
		Total:   view.Total,
		Columns: rep.Columns,
		Stats:   make(map[string]Summary, len(rep.Stats)),
	}
	for name, st := range rep.Stats {
		out.Stats[name] = newSummary(st)
	}
	s.write(w, out)
}

type rowsResponse struct {
	Filter Filter           `json:"filter"`
	Rows   int              `json:"rows"`
	Total  int              `json:"total"`
	Data   []map[string]any `json:"data"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	defer view.Release()

	n := view.Rows.NumRows()
	if limit > 0 && limit < n {
		n = limit
	}
	data := make([]map[string]any, n)
	for i := range data {
		row := view.Rows.Row(i)
		for k, v := range row {
			if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
				row[k] = nil
			}
		}
		data[i] = row
	}
	s.write(w, rowsResponse{
		Filter: newFilter(view.Filter),
		Rows:   view.Rows.NumRows(),
		Total:  view.Total,
		Data:   data,
	})
}

type chartsResponse struct {
	Filter Filter `json:"filter"`
	Rows   int    `json:"rows"`
	*chart.Charts
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	bins, err := intParam(r, "bins", chart.DefaultBins)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	defer view.Release()

	charts, err := view.Charts(bins)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.write(w, chartsResponse{Filter: newFilter(view.Filter), Rows: view.Rows.NumRows(), Charts: charts})
}

// view parses the selection of r and filters the dataset. On failure the
// error response has been written.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*findash.View, bool) {
	sel, err := ParseSelection(r)
	if err != nil {
		s.badRequest(w, err)
		return nil, false
	}
	view, err := s.dash.View(r.Context(), sel)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return view, true
}

// ---------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------

// ParseSelection reads age_min, age_max and repeated segment parameters.
// Without any segment parameter every segment is selected; "segment=" with
// no value selects none.
func ParseSelection(r *http.Request) (findash.Selection, error) {
	q := r.URL.Query()
	var sel findash.Selection
	for _, p := range []struct {
		name string
		dst  **float64
	}{{"age_min", &sel.AgeMin}, {"age_max", &sel.AgeMax}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return findash.Selection{}, fmt.Errorf("%s: %q is not a finite number", p.name, raw)
		}
		*p.dst = &v
	}
	if labels, ok := q["segment"]; ok {
		sel.Segments = make([]string, 0, len(labels))
		for _, l := range labels {
			if l != "" {
				sel.Segments = append(sel.Segments, l)
			}
		}
	}
	return sel, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", name, raw)
	}
	return v, nil
}

// ---------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) write(w http.ResponseWriter, v any) {
	s.writeStatus(w, http.StatusOK, v)
}

// writeStatus encodes v before writing the header so that an encoding
// failure is answered with 500 rather than a truncated body.
func (s *Server) writeStatus(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Int("code", code), zap.Error(err))
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: "encode response: " + err.Error()})
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeStatus(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("code", code), zap.Error(err))
	}
	s.writeStatus(w, code, errorResponse{Error: err.Error()})
}

// StatusCode maps dataset errors onto HTTP status codes.
func StatusCode(err error) int {
	var (
		dsErr  *loader.DataSourceError
		nvdErr *normalize.NoValidDataError
	)
	switch {
	case errors.As(err, &dsErr):
		return http.StatusBadGateway
	case errors.As(err, &nvdErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, findash.ErrNoSource), errors.Is(err, db.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
