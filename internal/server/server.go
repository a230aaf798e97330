package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sadikmahmudadive/esp32-and-mpu6050-simple-GUI-interface/internal/imu"
	"github.com/sadikmahmudadive/esp32-and-mpu6050-simple-GUI-interface/internal/logger"
)

// Feed is the sample stream the dashboard consumes: the newest
// orientation plus a connection status for UI feedback. The supervisor
// implements it.
type Feed interface {
	Take() (imu.Sample, bool)
	State() imu.StreamState
	SourceName() string
}

// Server pulls samples from the feed and broadcasts them to WebSocket
// clients. It owns no serial state.
type Server struct {
	cfg    *Config
	feed   Feed
	webFS  fs.FS
	logger *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients. Sample is
// omitted while no fresh data exists (degraded/reconnecting windows);
// State is always present so the UI can show connection status.
type Frame struct {
	Sample *imu.Sample    `json:"sample,omitempty"`
	State  string         `json:"state"`
	Source string         `json:"source,omitempty"`
	Config *DisplayConfig `json:"config,omitempty"`
	Stamp  int64          `json:"stamp"` // Unix ms
}

// broadcastInterval matches the firmware's ~50 Hz emission cadence.
const broadcastInterval = 20 * time.Millisecond

// New creates a new Server.
func New(cfg *Config, feed Feed, webFS fs.FS) *Server {
	return &Server{
		cfg:   cfg,
		feed:  feed,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and the broadcast loop.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config + status API
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)

	go s.broadcastLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", len(s.clients))

	// Send display config + current status up front
	cfgFrame := Frame{
		State:  s.feed.State().String(),
		Source: s.feed.SourceName(),
		Config: &s.cfg.Display,
		Stamp:  time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(cfgFrame); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", len(s.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated display prefs
		cfgFrame := Frame{
			State:  s.feed.State().String(),
			Config: &s.cfg.Display,
			Stamp:  time.Now().UnixMilli(),
		}
		s.broadcast(cfgFrame)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// handleStatus reports the stream state so non-WebSocket clients can
// poll connection health.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		State  string `json:"state"`
		Source string `json:"source"`
	}{
		State:  s.feed.State().String(),
		Source: s.feed.SourceName(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// broadcastLoop pulls the newest sample each tick and fans it out.
// During degraded windows no sample is attached — absence of fresh data
// is a status, not an error.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	var last *imu.Sample

	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case <-ticker.C:
			state := s.feed.State()

			if sample, ok := s.feed.Take(); ok {
				last = &sample
				s.logger.Record(sample, s.feed.SourceName(), state)
			} else if state != imu.StateOpen {
				// Stale sample from before a disconnect; stop showing it.
				last = nil
			}

			frame := Frame{
				Sample: last,
				State:  state.String(),
				Source: s.feed.SourceName(),
				Stamp:  time.Now().UnixMilli(),
			}
			s.broadcast(frame)
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
