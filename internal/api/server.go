// Package api exposes the daemon's HTTP control surface: device state,
// light and mic commands, scene triggers and an SSE stream of state
// changes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/device"
	"github.com/dokzlo13/dmxd/internal/eventbus"
	"github.com/dokzlo13/dmxd/internal/patterns"
	"github.com/dokzlo13/dmxd/internal/script"
)

// Server is the HTTP API server.
type Server struct {
	addr       string
	manager    *device.Manager
	engine     *script.Engine
	httpServer *http.Server

	mu      sync.Mutex
	streams map[chan eventbus.Event]struct{}
}

// NewServer creates the API server. The engine may be nil when no scene
// script is configured; scene endpoints then return 404.
func NewServer(addr string, manager *device.Manager, bus *eventbus.Bus, engine *script.Engine) *Server {
	s := &Server{
		addr:    addr,
		manager: manager,
		engine:  engine,
		streams: make(map[chan eventbus.Event]struct{}),
	}
	if bus != nil {
		bus.Subscribe(s.fanout)
	}
	return s
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Handler builds the route table used by Run. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /devices", s.handleListDevices)
	mux.HandleFunc("GET /devices/{name}", s.handleGetDevice)
	mux.HandleFunc("DELETE /devices/{name}", s.handleDeleteDevice)
	mux.HandleFunc("GET /patterns", s.handleListPatterns)
	mux.HandleFunc("POST /devices/{name}/light/on", s.handleLightOn)
	mux.HandleFunc("POST /devices/{name}/light/off", s.handleLightOff)
	mux.HandleFunc("POST /devices/{name}/mic/on", s.handleMicOn)
	mux.HandleFunc("POST /devices/{name}/mic/off", s.handleMicOff)
	mux.HandleFunc("GET /scenes", s.handleListScenes)
	mux.HandleFunc("POST /scenes/{name}", s.handleRunScene)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": len(s.manager.Devices()),
	})
}

// deviceView is the JSON shape of one device's state.
type deviceView struct {
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Light   lightView `json:"light"`
	Mic     micView   `json:"mic"`
}

type lightView struct {
	Power      bool   `json:"power"`
	Color      [3]int `json:"color"`
	Brightness int    `json:"brightness"`
	Effect     string `json:"effect"`
	Pattern    int    `json:"pattern"`
}

type micView struct {
	Power       bool `json:"power"`
	Sensitivity int  `json:"sensitivity"`
}

func viewOf(dev *device.Device) deviceView {
	light := dev.Light.State()
	mic := dev.Mic.State()
	return deviceView{
		Name:    dev.Name,
		Address: dev.Address,
		Light: lightView{
			Power:      light.Power,
			Color:      [3]int{int(light.Color[0]), int(light.Color[1]), int(light.Color[2])},
			Brightness: int(light.Brightness),
			Effect:     light.Effect,
			Pattern:    light.ActivePattern,
		},
		Mic: micView{
			Power:       mic.Power,
			Sensitivity: int(mic.Sensitivity),
		},
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.manager.Devices()
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, viewOf(dev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	// Single-device reads carry the effect catalog so the caller can offer
	// effect selection without a second request.
	writeJSON(w, http.StatusOK, struct {
		deviceView
		Effects []string `json:"effects"`
	}{viewOf(dev), patterns.Names()})
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, patterns.Names())
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.manager.Remove(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// lightOnRequest is the POST body for turning the light on. All fields are
// optional; an empty body is a bare power-on.
type lightOnRequest struct {
	Color      *[3]int `json:"color,omitempty"`
	Effect     *string `json:"effect,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
}

func (s *Server) handleLightOn(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	var body lightOnRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	var req device.TurnOnRequest
	if body.Color != nil {
		color := [3]uint8{clampByte(body.Color[0]), clampByte(body.Color[1]), clampByte(body.Color[2])}
		req.Color = &color
	}
	req.Effect = body.Effect
	if body.Brightness != nil {
		b := clampByte(*body.Brightness)
		req.Brightness = &b
	}

	if err := dev.Light.TurnOn(r.Context(), req); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(dev))
}

func (s *Server) handleLightOff(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := dev.Light.TurnOff(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(dev))
}

type micOnRequest struct {
	Sensitivity int `json:"sensitivity"`
}

func (s *Server) handleMicOn(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	var body micOnRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	if err := dev.Mic.TurnOn(r.Context(), clampByte(body.Sensitivity)); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(dev))
}

func (s *Server) handleMicOff(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := dev.Mic.TurnOff(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(dev))
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Scenes())
}

func (s *Server) handleRunScene(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no scene script loaded"))
		return
	}

	name := r.PathValue("name")
	if err := s.engine.RunScene(r.Context(), name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scene": name})
}

// handleEvents streams state-change events as SSE until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	stream := make(chan eventbus.Event, 16)
	s.mu.Lock()
	s.streams[stream] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, stream)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Debug().Str("remote", r.RemoteAddr).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("remote", r.RemoteAddr).Msg("SSE client disconnected")
			return
		case event := <-stream:
			payload, err := json.Marshal(map[string]interface{}{
				"id":     event.ID,
				"type":   event.Type,
				"device": event.Device,
				"data":   event.Data,
				"time":   event.Time.Format(time.RFC3339),
			})
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal SSE event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

// fanout delivers a bus event to every connected SSE stream. Slow clients
// lose events rather than stalling the bus workers.
func (s *Server) fanout(event eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for stream := range s.streams {
		select {
		case stream <- event:
		default:
			log.Warn().Str("event_id", event.ID).Msg("SSE stream full, dropping event")
		}
	}
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	name := r.PathValue("name")
	dev, ok := s.manager.Device(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown device %q", name))
		return nil, false
	}
	return dev, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func clampByte(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}
