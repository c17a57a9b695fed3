package api

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tagfinder/internal/api/web"
	"tagfinder/internal/config"
	"tagfinder/internal/detections"
	"tagfinder/internal/model"
)

// SessionControl is the slice of the session the API needs. The concrete
// session lives in internal/session; the API never reaches into its state.
type SessionControl interface {
	Snapshot(address string) (model.DeviceSnapshot, bool)
	Snapshots(all bool) []model.DeviceSnapshot
	Summary() model.Summary
	ScanHint() model.ScanHint
	Mode() model.ScanMode
	SetMode(mode model.ScanMode) error
	Calibrate(address string, rssiAt1m int) error
	CalibrateDistance(address string, knownDistance float64) error
	RangeReport() (model.RangeReport, bool)
	ClearStale(olderThan time.Duration) int
	Reset()
	Started() time.Time
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg        *config.Manager
	detections *detections.Store
	session    SessionControl
	logger     *slog.Logger
	version    string
}

type statusResponse struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Version    string                 `json:"version"`
	ConfigPath string                 `json:"config_path"`
	Mode       model.ScanMode         `json:"mode"`
	StartedAt  string                 `json:"started_at"`
	Watchlist  config.WatchlistConfig `json:"watchlist"`
	Ingest     ingestStatus           `json:"ingest"`
	API        apiStatus              `json:"api"`
}

type ingestStatus struct {
	BLE       bool `json:"ble"`
	UDP       bool `json:"udp"`
	TCPStream bool `json:"tcp_stream"`
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	Replay    bool `json:"replay"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Start(ctx context.Context, cfg *config.Manager, detectionStore *detections.Store, session SessionControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:        cfg,
		detections: detectionStore,
		session:    session,
		logger:     logger,
		version:    version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/devices", server.handleDevices)
	mux.HandleFunc("/devices/", server.handleDevices)
	mux.HandleFunc("/detections", server.handleDetections)
	mux.HandleFunc("/summary", server.handleSummary)
	mux.HandleFunc("/scanhint", server.handleScanHint)
	mux.HandleFunc("/rangetest", server.handleRangeTest)
	mux.HandleFunc("/calibrate", server.handleCalibrate)
	mux.HandleFunc("/mode", server.handleMode)
	mux.HandleFunc("/config/watchlist", server.handleWatchlist)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/restart", server.handleRestart)
	mux.HandleFunc("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
	})
	uiFS, err := fs.Sub(web.FS, ".")
	if err == nil {
		mux.Handle("/ui/", http.StripPrefix("/ui/", http.FileServer(http.FS(uiFS))))
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Mode:       s.session.Mode(),
		StartedAt:  s.session.Started().Format(time.RFC3339Nano),
		Watchlist:  cfg.Watchlist,
		Ingest: ingestStatus{
			BLE:       cfg.Ingest.BLE.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			Replay:    cfg.Ingest.Replay.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/devices")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		snap, ok := s.session.Snapshot(strings.ToUpper(path))
		if !ok {
			// Lowercase lookup covers gateways that report lowercase MACs.
			snap, ok = s.session.Snapshot(path)
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		all, _ = strconv.ParseBool(v)
	}
	list := s.session.Snapshots(all)
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": list,
		"count":   len(list),
		"mode":    s.session.Mode(),
	})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Detection
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.detections.Since(ts)
	} else {
		list = s.detections.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": list,
		"count":      len(list),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Summary())
}

func (s *Server) handleScanHint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.ScanHint())
}

func (s *Server) handleRangeTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report, ok := s.session.RangeReport()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Address        string   `json:"address"`
		RSSIAt1m       *int     `json:"rssi_at_1m"`
		KnownDistanceM *float64 `json:"known_distance_m"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Address == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.RSSIAt1m == nil && req.KnownDistanceM == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "rssi_at_1m or known_distance_m required",
		})
		return
	}
	if req.RSSIAt1m != nil {
		if err := s.session.Calibrate(req.Address, *req.RSSIAt1m); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
	}
	if req.KnownDistanceM != nil {
		if err := s.session.CalibrateDistance(req.Address, *req.KnownDistanceM); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"mode": s.session.Mode(),
			"hint": s.session.ScanHint(),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Mode == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.session.SetMode(model.ScanMode(strings.ToLower(strings.TrimSpace(req.Mode)))); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": s.session.Mode()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"watchlist": s.cfg.Get().Watchlist,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var wl config.WatchlistConfig
		if err := json.Unmarshal(body, &wl); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		wl.Watch = sanitizeAddressList(wl.Watch)
		wl.Ignore = sanitizeAddressList(wl.Ignore)
		current := s.cfg.Get()
		next := *current
		next.Watchlist = wl
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.session.UpdateConfig(&next)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target       string `json:"target"`
		OlderThanSec int    `json:"older_than_seconds"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.session.Reset()
		s.detections.Clear()
	case "detections":
		s.detections.Clear()
	case "stale":
		olderThan := time.Duration(req.OlderThanSec) * time.Second
		if olderThan <= 0 {
			olderThan = 5 * time.Minute
		}
		removed := s.session.ClearStale(olderThan)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
		return
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.session.Reset()
	s.detections.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func sanitizeAddressList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
