package queensdashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandeepkv93/parallel-nqueens/parallelnqueens"
)

// DashboardConfig contains configuration for the progress dashboard
type DashboardConfig struct {
	Addr          string
	NumWorkers    int
	MaxBoardSize  int
	PingInterval  time.Duration
	SendQueueSize int
}

// DefaultDashboardConfig returns default configuration
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		Addr:          ":8080",
		MaxBoardSize:  20,
		PingInterval:  30 * time.Second,
		SendQueueSize: 64,
	}
}

// ProgressEvent is the wire format pushed to subscribed clients while a
// count is running.
type ProgressEvent struct {
	Type      string `json:"type"` // task, total, error
	N         int    `json:"n"`
	Col       int    `json:"col,omitempty"`
	Central   bool   `json:"central,omitempty"`
	Count     string `json:"count,omitempty"`
	Total     string `json:"total,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CountRequest is a client request to count solutions for a board size
type CountRequest struct {
	Type string `json:"type"`
	N    int    `json:"n"`
}

// DashboardStats tracks dashboard activity
type DashboardStats struct {
	ActiveClients int64 `json:"active_clients"`
	CountsServed  int64 `json:"counts_served"`
	EventsSent    int64 `json:"events_sent"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Dashboard streams live progress of running N-Queens counts to
// WebSocket subscribers: one event per completed half or central column
// sub-search and a final event carrying the aggregated total.
type Dashboard struct {
	config      DashboardConfig
	upgrader    websocket.Upgrader
	clients     map[string]*client
	clientMutex sync.RWMutex
	mux         *http.ServeMux
	httpServer  *http.Server
	running     bool
	mutex       sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stats       DashboardStats
}

// NewDashboard creates a new progress dashboard
func NewDashboard(config DashboardConfig) *Dashboard {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxBoardSize <= 0 {
		config.MaxBoardSize = 20
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	dashboard := &Dashboard{
		config:  config,
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", dashboard.handleWebSocket)
	mux.HandleFunc("/stats", dashboard.handleStats)
	dashboard.mux = mux

	return dashboard
}

// Handler returns the dashboard's HTTP handler
func (d *Dashboard) Handler() http.Handler {
	return d.mux
}

// Start starts serving the dashboard on the configured address
func (d *Dashboard) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.running {
		return errors.New("dashboard is already running")
	}
	d.running = true

	d.httpServer = &http.Server{
		Addr:    d.config.Addr,
		Handler: d.mux,
	}

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("dashboard server error: %v", err)
		}
	}()

	log.Printf("N-Queens dashboard started on %s", d.config.Addr)
	return nil
}

// Stop shuts the dashboard down, cancelling any in-flight counts
func (d *Dashboard) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.running {
		return errors.New("dashboard is not running")
	}
	d.running = false
	d.cancel()

	d.clientMutex.Lock()
	for _, c := range d.clients {
		c.conn.Close()
	}
	d.clientMutex.Unlock()

	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.httpServer.Shutdown(ctx)
	}

	d.wg.Wait()
	log.Printf("N-Queens dashboard stopped")
	return nil
}

// GetStats returns a snapshot of dashboard statistics
func (d *Dashboard) GetStats() DashboardStats {
	return DashboardStats{
		ActiveClients: atomic.LoadInt64(&d.stats.ActiveClients),
		CountsServed:  atomic.LoadInt64(&d.stats.CountsServed),
		EventsSent:    atomic.LoadInt64(&d.stats.EventsSent),
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		id:   fmt.Sprintf("client_%d", time.Now().UnixNano()),
		conn: conn,
		send: make(chan []byte, d.config.SendQueueSize),
	}

	d.clientMutex.Lock()
	d.clients[c.id] = c
	d.clientMutex.Unlock()
	atomic.AddInt64(&d.stats.ActiveClients, 1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.clientWriter(c)
	}()

	defer func() {
		conn.Close()
		d.clientMutex.Lock()
		delete(d.clients, c.id)
		d.clientMutex.Unlock()
		atomic.AddInt64(&d.stats.ActiveClients, -1)
	}()

	for {
		var req CountRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		d.handleRequest(c, req)
	}
}

func (d *Dashboard) handleRequest(c *client, req CountRequest) {
	if req.Type != "count" {
		return
	}

	if req.N < 0 || req.N > d.config.MaxBoardSize {
		d.sendTo(c, ProgressEvent{
			Type:    "error",
			N:       req.N,
			Message: fmt.Sprintf("board size must be between 0 and %d", d.config.MaxBoardSize),
		})
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCount(c, req.N)
	}()
}

func (d *Dashboard) runCount(c *client, n int) {
	start := time.Now()

	solver := parallelnqueens.NewSolver(parallelnqueens.Config{
		NumWorkers: d.config.NumWorkers,
		ProgressHandler: func(result parallelnqueens.TaskResult) {
			d.broadcast(ProgressEvent{
				Type:      "task",
				N:         n,
				Col:       result.Col,
				Central:   result.Central,
				Count:     result.Count.String(),
				ElapsedMs: time.Since(start).Milliseconds(),
			})
		},
	})

	result, err := solver.Count(d.ctx, n)
	if err != nil {
		// A failed or cancelled count never reports a partial total.
		d.sendTo(c, ProgressEvent{Type: "error", N: n, Message: err.Error()})
		return
	}

	atomic.AddInt64(&d.stats.CountsServed, 1)
	d.broadcast(ProgressEvent{
		Type:      "total",
		N:         n,
		Total:     result.Total.String(),
		ElapsedMs: result.Duration.Milliseconds(),
	})
}

func (d *Dashboard) clientWriter(c *client) {
	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dashboard) broadcast(event ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	d.clientMutex.RLock()
	defer d.clientMutex.RUnlock()

	for _, c := range d.clients {
		select {
		case c.send <- data:
			atomic.AddInt64(&d.stats.EventsSent, 1)
		default:
			// Slow client; drop rather than stall the count.
		}
	}
}

func (d *Dashboard) sendTo(c *client, event ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	select {
	case c.send <- data:
		atomic.AddInt64(&d.stats.EventsSent, 1)
	default:
	}
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := d.GetStats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
