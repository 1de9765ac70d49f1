package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jnjlab/warok/internal/bot"
	"github.com/jnjlab/warok/internal/config"
	"github.com/jnjlab/warok/internal/device"
	"github.com/jnjlab/warok/internal/screen"
	"github.com/jnjlab/warok/internal/ui"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HttpServer struct {
	logger   *slog.Logger
	server   *http.Server
	manager  *bot.SupervisorManager
	wsServer *WebSocketServer

	// direct device handles per target for the endpoints that must work
	// even when no supervisor is running
	devMux  sync.Mutex
	devices map[string]*targetDevices
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

type WebSocketServer struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

func NewWebSocketServer() *WebSocketServer {
	return &WebSocketServer{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (s *WebSocketServer) Run() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = true
		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
		}
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, 256)}
	s.register <- client

	go s.writePump(client)
	go s.readPump(client)
}

func (s *WebSocketServer) writePump(client *Client) {
	defer func() {
		client.conn.Close()
	}()

	for message := range client.send {
		w, err := client.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *WebSocketServer) readPump(client *Client) {
	defer func() {
		s.unregister <- client
		client.conn.Close()
	}()

	for {
		_, _, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}

// TargetStatus is the per-target snapshot pushed over the websocket and
// returned by the status endpoint.
type TargetStatus struct {
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	ScreenState       string    `json:"screenState"`
	CompositorRunning bool      `json:"compositorRunning"`
	EmulatorRunning   bool      `json:"emulatorRunning"`
	AppRunning        bool      `json:"appRunning"`
	RecoveryCount     int       `json:"recoveryCount"`
	StartedAt         time.Time `json:"startedAt"`
	LastRecoveryAt    time.Time `json:"lastRecoveryAt"`
	LastError         string    `json:"lastError,omitempty"`
}

type StatusData struct {
	Version string                  `json:"version"`
	Targets map[string]TargetStatus `json:"targets"`
}

func (s *HttpServer) BroadcastStatus() {
	for {
		data := s.getStatusData()
		jsonData, err := json.Marshal(data)
		if err != nil {
			slog.Error("Failed to marshal status data", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		s.wsServer.broadcast <- jsonData
		time.Sleep(1 * time.Second)
	}
}

func New(logger *slog.Logger, manager *bot.SupervisorManager) (*HttpServer, error) {
	return &HttpServer{
		logger:  logger,
		manager: manager,
		devices: make(map[string]*targetDevices),
	}, nil
}

func (s *HttpServer) Listen(port int) error {
	s.wsServer = NewWebSocketServer()
	go s.wsServer.Run()
	go s.BroadcastStatus()

	http.HandleFunc("/rok/start", s.startTarget)
	http.HandleFunc("/rok/restart", s.restartTarget)
	http.HandleFunc("/rok/stop", s.stopTarget)
	http.HandleFunc("/rok/status", s.targetStatus)
	http.HandleFunc("/rok/screenshot", s.screenshot)
	http.HandleFunc("/rok/new", s.newTarget)
	http.HandleFunc("/rok/config", s.targetConfig)
	http.HandleFunc("/api/config", s.globalConfig)
	http.HandleFunc("/weston/start", s.startWeston)
	http.HandleFunc("/weston/stop", s.stopWeston)
	http.HandleFunc("/weston/status", s.westonStatus)
	http.HandleFunc("/waydroid/start", s.startWaydroid)
	http.HandleFunc("/waydroid/stop", s.stopWaydroid)
	http.HandleFunc("/waydroid/status", s.waydroidStatus)
	http.HandleFunc("/ws", s.wsServer.HandleWebSocket)
	http.HandleFunc("/config/reload", s.reloadConfig)
	http.HandleFunc("/api/reload-config", s.reloadConfig)
	http.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr: fmt.Sprintf(":%d", port),
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HttpServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// targetDevices are standalone handles built from config so the compositor
// and emulator endpoints work without a supervisor attached.
type targetDevices struct {
	weston   *device.Weston
	waydroid *device.Waydroid
	uiStore  *ui.Store
}

func (s *HttpServer) devicesFor(name string) (*targetDevices, error) {
	cfg, found := config.GetTarget(name)
	if !found {
		return nil, fmt.Errorf("target %s not found", name)
	}

	s.devMux.Lock()
	defer s.devMux.Unlock()
	if d, ok := s.devices[name]; ok {
		return d, nil
	}

	d := &targetDevices{
		weston:   device.NewWeston(cfg.Device.Display, s.logger),
		waydroid: device.NewWaydroid(cfg.Device.Display, s.logger),
		uiStore:  ui.NewStore(cfg.UIConfigPath, s.logger),
	}
	s.devices[name] = d
	return d, nil
}

// targetName resolves the target query parameter, falling back to the only
// configured target when there is exactly one.
func targetName(r *http.Request) (string, error) {
	name := r.URL.Query().Get("target")
	if name != "" {
		return name, nil
	}

	targets := config.GetTargets()
	if len(targets) == 1 {
		for n := range targets {
			return n, nil
		}
	}
	return "", errors.New("target parameter required")
}

func (s *HttpServer) startTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.manager.GetSupervisor(name) != nil {
		http.Error(w, fmt.Sprintf("supervisor %s is already running", name), http.StatusConflict)
		return
	}

	go func() {
		if err := s.manager.Start(context.Background(), name); err != nil {
			s.logger.Error("supervisor exited with error",
				slog.String("supervisor", name), slog.Any("error", err))
		}
	}()

	s.writeJSON(w, map[string]string{"status": "starting", "target": name})
}

func (s *HttpServer) restartTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.manager.Restart(r.Context(), name); err != nil {
		if errors.Is(err, bot.ErrRecoveryInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]string{"status": "restarted", "target": name})
}

func (s *HttpServer) stopTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.manager.Stop(name)
	s.writeJSON(w, map[string]string{"status": "stopped", "target": name})
}

func (s *HttpServer) targetStatus(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, s.buildTargetStatus(r.Context(), name))
}

// screenshot serves the current display frame as PNG, mostly for remote
// eyeballing of a stuck target.
func (s *HttpServer) screenshot(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.devicesFor(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	img, err := d.weston.Screenshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *HttpServer) startWeston(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.devicesFor(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	uiCfg, err := d.uiStore.Get()
	if err != nil && uiCfg.Window.Width == 0 {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	if err := d.weston.Launch(ctx, uiCfg.Window); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *HttpServer) stopWeston(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, func(ctx context.Context, d *targetDevices) error {
		return d.weston.Stop(ctx)
	})
}

func (s *HttpServer) startWaydroid(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, func(ctx context.Context, d *targetDevices) error {
		return d.waydroid.Launch(ctx)
	})
}

func (s *HttpServer) westonStatus(w http.ResponseWriter, r *http.Request) {
	s.deviceProbe(w, r, func(ctx context.Context, d *targetDevices) bool {
		return d.weston.IsRunning(ctx)
	})
}

func (s *HttpServer) waydroidStatus(w http.ResponseWriter, r *http.Request) {
	s.deviceProbe(w, r, func(ctx context.Context, d *targetDevices) bool {
		return d.waydroid.IsRunning(ctx)
	})
}

func (s *HttpServer) deviceProbe(w http.ResponseWriter, r *http.Request, fn func(context.Context, *targetDevices) bool) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.devicesFor(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	s.writeJSON(w, map[string]bool{"running": fn(ctx, d)})
}

func (s *HttpServer) stopWaydroid(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, func(ctx context.Context, d *targetDevices) error {
		return d.waydroid.Stop(ctx)
	})
}

func (s *HttpServer) deviceAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *targetDevices) error) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.devicesFor(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	if err := fn(ctx, d); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// newTarget provisions a target directory from config/template so a new
// instance can be configured and started without shelling into the host.
func (s *HttpServer) newTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("target")
	if name == "" {
		http.Error(w, "target parameter required", http.StatusBadRequest)
		return
	}

	if err := config.CreateFromTemplate(name); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	cfg, found := config.GetTarget(name)
	if !found {
		http.Error(w, "failed to load newly created configuration", http.StatusInternalServerError)
		return
	}

	s.logger.Info("target created from template", slog.String("target", name))
	s.writeJSON(w, cfg)
}

func (s *HttpServer) targetConfig(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, found := config.GetTarget(name)
	if !found {
		http.Error(w, fmt.Sprintf("target %s not found", name), http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, cfg)
	case http.MethodPost, http.MethodPut:
		updated := *cfg
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := config.SaveTargetConfig(name, &updated); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.flushDevices()
		s.writeJSON(w, updated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HttpServer) globalConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, config.Warok)
	case http.MethodPost, http.MethodPut:
		newConfig := *config.Warok
		if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Saving the settings once completes the initial setup.
		newConfig.FirstRun = false
		if err := config.ValidateAndSaveConfig(newConfig); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, config.Warok)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HttpServer) reloadConfig(w http.ResponseWriter, r *http.Request) {
	result := s.manager.ReloadConfig()
	if result != nil {
		http.Error(w, result.Error(), http.StatusInternalServerError)
		return
	}

	s.flushDevices()
	s.logger.Info("Config reloaded")
	w.WriteHeader(http.StatusOK)
}

// flushDevices drops cached device handles so new addresses and displays
// apply, and invalidates the UI stores so region edits are picked up
// immediately.
func (s *HttpServer) flushDevices() {
	s.devMux.Lock()
	for _, d := range s.devices {
		d.uiStore.Invalidate()
	}
	s.devices = make(map[string]*targetDevices)
	s.devMux.Unlock()
}

func (s *HttpServer) getStatusData() StatusData {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	targets := make(map[string]TargetStatus)
	for name := range config.GetTargets() {
		targets[name] = s.buildTargetStatus(ctx, name)
	}

	return StatusData{Version: config.Version, Targets: targets}
}

func (s *HttpServer) buildTargetStatus(ctx context.Context, name string) TargetStatus {
	stats := s.manager.Status(name)
	ts := TargetStatus{
		Name:           name,
		Status:         string(stats.SupervisorStatus),
		ScreenState:    string(stats.ScreenState),
		RecoveryCount:  stats.RecoveryCount,
		StartedAt:      stats.StartedAt,
		LastRecoveryAt: stats.LastRecoveryAt,
		LastError:      stats.LastError,
	}
	if ts.ScreenState == "" {
		ts.ScreenState = string(screen.StateUnknown)
	}

	if d, err := s.devicesFor(name); err == nil {
		ts.CompositorRunning = d.weston.IsRunning(ctx)
		if ts.CompositorRunning {
			ts.EmulatorRunning = d.waydroid.IsRunning(ctx)
		}
	}
	ts.AppRunning = stats.SupervisorStatus == bot.Healthy

	return ts
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}
