package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"framebridge/codec"
	"framebridge/transport"
)

func (svr *Server) newRouter(gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc(WsPath, svr.wsHandler)
	router.HandleFunc(HealthPath, healthHandler).Methods(http.MethodGet)
	router.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/", svr.summaryHandler).Methods(http.MethodGet)

	return router
}

func (svr *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	if svr.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	var check func(string) bool
	if svr.opts.CheckOrigin {
		check = svr.origins.Allowed
	}

	ch, err := transport.Upgrade(w, r, check)
	if err != nil {
		// the upgrader has already answered the request
		svr.log.Debug("ws upgrade failed", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
		return
	}

	if err := svr.accept(ch); err != nil {
		svr.log.Error("cannot serve connection", zap.Error(err))
		ch.Close()
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Summary describes what a bridge host offers.
type Summary struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Uptime      string            `json:"uptime"`
	Methods     []string          `json:"methods"`
	Codecs      []string          `json:"codecs"`
	Connections int               `json:"connections"`
	Security    SecuritySummary   `json:"security"`
	Endpoints   map[string]string `json:"endpoints"`
}

type SecuritySummary struct {
	AllowedOrigins   []string `json:"allowedOrigins"`
	EnableRateLimit  bool     `json:"enableRateLimit"`
	MaxRequests      int      `json:"maxRequests,omitempty"`
	TimeWindowMS     int64    `json:"timeWindowMs,omitempty"`
	ValidateMessages bool     `json:"validateMessages"`
}

func (svr *Server) Summary() Summary {
	sec := svr.opts.Security
	s := Summary{
		Name:        "framebridge",
		Version:     svr.opts.Version,
		Uptime:      time.Since(svr.started).Truncate(time.Second).String(),
		Methods:     svr.methods.Names(),
		Codecs:      []string{codec.CodecTypeJSON.String(), codec.CodecTypeMsgpack.String()},
		Connections: svr.Connections(),
		Security: SecuritySummary{
			AllowedOrigins:   sec.AllowedOrigins,
			EnableRateLimit:  sec.EnableRateLimit,
			ValidateMessages: sec.ValidateMessages,
		},
		Endpoints: map[string]string{
			"websocket": WsPath,
			"health":    HealthPath,
			"metrics":   MetricsPath,
		},
	}
	if len(s.Security.AllowedOrigins) == 0 {
		s.Security.AllowedOrigins = []string{"*"}
	}
	if sec.EnableRateLimit {
		s.Security.MaxRequests = sec.MaxRequests
		s.Security.TimeWindowMS = sec.TimeWindow.Milliseconds()
	}
	return s
}

func (svr *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, svr.Summary())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("writing response", zap.Error(err))
	}
}
