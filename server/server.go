// Package server implements the bridge's HTTP/WebSocket façade: a
// JSON REST API over the latest reading, a live WebSocket feed, and a
// Prometheus metrics endpoint, following the teacher's gorilla/mux +
// embedded-static-assets shape.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"wisun-meter-bridge/store"
	"wisun-meter-bridge/wisun"
)

//go:embed web/*
var webFS embed.FS

// Settings is the subset of configuration an operator can change at
// runtime via /api/settings, ground: original's SettingsUpdate model.
type Settings struct {
	AlertThresholdWatts int32 `json:"alert_threshold_watts"`
	AlertEnabled        bool  `json:"alert_enabled"`
	ContractAmperage    int   `json:"contract_amperage"`
}

// Server is the HTTP/WebSocket façade over a wisun.Client. It owns no
// serial state itself: main.go's poll loop calls Publish after every
// poll (including ones that produced no reading), and Server fans
// that reading out to the in-memory ring, the durable writer, and any
// live WebSocket subscribers.
type Server struct {
	port    int
	version string
	client  wisun.Client
	ring    *store.Ring
	writer  *store.Writer
	mock    bool

	mu             sync.RWMutex
	settings       Settings
	latestPower    wisun.PowerData
	latestEnergy   wisun.EnergyData
	latestConn     wisun.ConnectionInfo
	lastUpdate     time.Time
	refreshRequest chan struct{}

	hub        *hub
	router     *mux.Router
	httpServer *http.Server
}

// Config bundles the constructor's dependencies.
type Config struct {
	Port     int
	Version  string
	Client   wisun.Client
	Ring     *store.Ring
	Writer   *store.Writer
	Mock     bool
	Settings Settings
}

// New builds a Server and wires up its routes.
func New(cfg Config) *Server {
	s := &Server{
		port:           cfg.Port,
		version:        cfg.Version,
		client:         cfg.Client,
		ring:           cfg.Ring,
		writer:         cfg.Writer,
		mock:           cfg.Mock,
		settings:       cfg.Settings,
		refreshRequest: make(chan struct{}, 1),
		hub:            newHub(),
		router:         mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/power", s.handlePower).Methods("GET")
	api.HandleFunc("/energy", s.handleEnergy).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/connection", s.handleConnection).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlePostSettings).Methods("POST")
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")

	s.router.Handle("/metrics", metricsHandler())
	s.router.HandleFunc("/ws/power", s.handleWebsocket)

	webContent, err := fs.Sub(webFS, "web")
	if err == nil {
		s.router.PathPrefix("/").Handler(http.FileServer(http.FS(webContent)))
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("wisun: shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Infof("wisun: HTTP server listening on :%d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Publish records the result of one poll cycle: it becomes the latest
// snapshot served by the REST handlers, is pushed onto the ring and
// durable writer, and is fanned out to WebSocket subscribers.
func (s *Server) Publish(power wisun.PowerData, energy wisun.EnergyData, conn wisun.ConnectionInfo) {
	now := time.Now()

	s.mu.Lock()
	s.latestPower = power
	s.latestEnergy = energy
	s.latestConn = conn
	s.lastUpdate = now
	s.mu.Unlock()

	reading := store.Reading{Timestamp: now, Power: power.InstantPower, RSSI: conn.RSSI}
	if s.ring != nil {
		s.ring.Push(reading)
	}
	if s.writer != nil {
		if err := s.writer.Write(reading); err != nil {
			log.WithError(err).Warn("wisun: failed to persist reading")
		}
	}

	if s.hub != nil {
		if payload, err := json.Marshal(struct {
			Timestamp time.Time `json:"timestamp"`
			Power     *int32    `json:"instant_power"`
		}{now, power.InstantPower}); err == nil {
			s.hub.broadcast(payload)
		}
	}

	recordPowerMetric(power.InstantPower)
}

// RequestRefresh signals main's poll loop to run an out-of-cadence
// poll; main.go selects on this channel alongside its ticker.
func (s *Server) RequestRefresh() <-chan struct{} {
	return s.refreshRequest
}
