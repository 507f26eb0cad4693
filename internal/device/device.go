// Package device emulates the configuration endpoint of the CAN gateway
// firmware: a websocket that checks passwords, stores configuration updates
// and acknowledges them with the firmware's sentinel frames.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/HerbHall/canconfig/internal/metrics"
	"github.com/HerbHall/canconfig/internal/store"
	"github.com/HerbHall/canconfig/internal/version"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Config holds emulator settings.
type Config struct {
	Listen        string  `mapstructure:"listen"`
	Path          string  `mapstructure:"path"`
	Password      string  `mapstructure:"password"`
	Database      string  `mapstructure:"database"`
	PasswordRate  float64 `mapstructure:"password_rate"`
	PasswordBurst int     `mapstructure:"password_burst"`
	// RequireAuth drops configuration updates from sessions that have not
	// sent the correct password. The firmware does not do this.
	RequireAuth  bool          `mapstructure:"require_auth"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the emulator defaults.
func DefaultConfig() Config {
	return Config{
		Listen:        ":8080",
		Path:          "/ws_echo",
		Password:      "1234",
		Database:      "canconfig-device.db",
		PasswordRate:  1,
		PasswordBurst: 5,
		ReadLimit:     1024,
		WriteTimeout:  5 * time.Second,
	}
}

// ConfigStore persists the device configuration. *store.SQLiteStore
// implements it.
type ConfigStore interface {
	SaveConfig(ctx context.Context, cfg codec.DeviceConfig, source string) error
	LoadConfig(ctx context.Context) (codec.DeviceConfig, error)
	History(ctx context.Context, limit int) ([]store.Revision, error)
}

// FactoryConfig is what the device reports before anything was stored:
// DHCP on, a static fallback address and every channel disabled.
func FactoryConfig() codec.DeviceConfig {
	cfg := codec.DeviceConfig{
		DHCPEnabled: true,
		IP4Address:  "192.168.1.100",
		NetMask:     "255.255.255.0",
		CAN1:        make(map[string]bool, 4),
		CAN2:        make(map[string]bool, 4),
	}
	for i := 0; i < 4; i++ {
		cfg.CAN1[fmt.Sprintf("%s_%d", codec.CAN1Prefix, i)] = false
		cfg.CAN2[fmt.Sprintf("%s_%d", codec.CAN2Prefix, i)] = false
	}
	return cfg
}

// Device is the emulated configuration endpoint.
type Device struct {
	cfg          Config
	passwordHash []byte
	store        ConfigStore
	hub          *hub
	limiter      *ipLimiter
	metrics      *metrics.Device
	registry     *prometheus.Registry
	logger       *zap.Logger
	httpServer   *http.Server
}

// New creates a device. The configured password is hashed once here.
func New(cfg Config, st ConfigStore, logger *zap.Logger) (*Device, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.PasswordRate <= 0 {
		cfg.PasswordRate = def.PasswordRate
	}
	if cfg.PasswordBurst <= 0 {
		cfg.PasswordBurst = def.PasswordBurst
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	reg := prometheus.NewRegistry()
	d := &Device{
		cfg:          cfg,
		passwordHash: hash,
		store:        st,
		hub:          newHub(logger),
		limiter:      newIPLimiter(cfg.PasswordRate, cfg.PasswordBurst),
		metrics:      metrics.NewDevice(reg),
		registry:     reg,
		logger:       logger,
	}
	d.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return d, nil
}

// Handler returns the emulator's routes: the websocket endpoint, a liveness
// probe, the stored configuration history and the Prometheus metrics.
func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+d.cfg.Path, d.handleSocket)
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /history", d.handleHistory)
	mux.Handle("GET /metrics", metrics.Handler(d.registry))
	return mux
}

// Start serves until Shutdown is called.
func (d *Device) Start() error {
	d.logger.Info("device emulator listening",
		zap.String("addr", d.httpServer.Addr),
		zap.String("path", d.cfg.Path),
	)
	if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("device emulator: %w", err)
	}
	return nil
}

// Shutdown closes every session and stops the HTTP server.
func (d *Device) Shutdown(ctx context.Context) error {
	d.logger.Info("shutting down device emulator")
	d.hub.closeAll()
	return d.httpServer.Shutdown(ctx)
}

// Sessions returns the number of connected clients.
func (d *Device) Sessions() int {
	return d.hub.count()
}

func (d *Device) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "alive",
		"sessions": d.hub.count(),
		"version":  version.Short(),
	})
}

type revisionResponse struct {
	ID      int64          `json:"id"`
	Source  string         `json:"source"`
	SavedAt time.Time      `json:"saved_at"`
	Config  map[string]any `json:"config"`
}

// handleHistory lists stored configurations, newest first. ?limit=N caps the
// list (default 50).
func (d *Device) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	revs, err := d.store.History(r.Context(), limit)
	if err != nil {
		d.logger.Error("load history failed", zap.Error(err))
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]revisionResponse, 0, len(revs))
	for _, rev := range revs {
		out = append(out, revisionResponse{
			ID:      rev.ID,
			Source:  rev.Source,
			SavedAt: rev.SavedAt,
			Config:  codec.ConfigFields(rev.Config),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (d *Device) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The configuration page is served from the device itself but may
		// be opened from a file or another host.
		InsecureSkipVerify: true,
	})
	if err != nil {
		d.logger.Error("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(d.cfg.ReadLimit)

	s := &clientConn{
		id:   uuid.NewString(),
		ip:   remoteIP(r),
		conn: conn,
		send: make(chan any, 16),
	}
	s.logger = d.logger.With(zap.String("conn_id", s.id))

	d.hub.register(s)
	d.metrics.Connected()

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		s.writePump(ctx, d.cfg.WriteTimeout)
		close(done)
	}()

	d.readLoop(ctx, s)

	d.hub.unregister(s)
	d.metrics.Disconnected()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (d *Device) readLoop(ctx context.Context, s *clientConn) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 {
				s.logger.Debug("read ended", zap.Error(err))
			} else {
				s.logger.Debug("client closed", zap.Stringer("code", status))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		d.dispatch(ctx, s, string(data))
	}
}

func (d *Device) dispatch(ctx context.Context, s *clientConn, frame string) {
	req, err := codec.DecodeRequest(frame)
	if err != nil {
		d.metrics.Request("invalid")
		s.logger.Warn("ignoring malformed frame", zap.Int("len", len(frame)), zap.Error(err))
		return
	}
	d.metrics.Request(string(req.Kind()))

	switch req := req.(type) {
	case codec.PasswordSubmission:
		d.handlePassword(s, req.Password)
	case codec.FetchRequest:
		d.handleFetch(ctx, s)
	case codec.ConfigUpdate:
		d.handleConfig(ctx, s, req.Config)
	}
}

func (d *Device) handlePassword(s *clientConn, password string) {
	if !d.limiter.allow(s.ip) {
		d.metrics.PasswordAttempt("limited")
		s.logger.Warn("password attempt rate limited", zap.String("remote_ip", s.ip))
		d.hub.reply(s, codec.SentinelPasswordFalse)
		return
	}

	if bcrypt.CompareHashAndPassword(d.passwordHash, []byte(password)) != nil {
		s.setAuthenticated(false)
		d.metrics.PasswordAttempt("rejected")
		s.logger.Info("password rejected")
		d.hub.reply(s, codec.SentinelPasswordFalse)
		return
	}

	s.setAuthenticated(true)
	d.metrics.PasswordAttempt("accepted")
	s.logger.Info("password accepted")
	d.hub.reply(s, codec.SentinelPasswordCorrect)
}

func (d *Device) handleFetch(ctx context.Context, s *clientConn) {
	cfg, err := d.store.LoadConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		cfg = FactoryConfig()
	} else if err != nil {
		s.logger.Error("load config failed", zap.Error(err))
		return
	}
	d.hub.reply(s, codec.ConfigFields(cfg))
}

func (d *Device) handleConfig(ctx context.Context, s *clientConn, cfg codec.DeviceConfig) {
	if d.cfg.RequireAuth && !s.isAuthenticated() {
		s.logger.Warn("dropping config update from unauthenticated session")
		return
	}
	if err := d.store.SaveConfig(ctx, cfg, s.id); err != nil {
		s.logger.Error("save config failed", zap.Error(err))
		return
	}
	enabled := 0
	for _, id := range cfg.ChannelIDs() {
		if cfg.CAN1[id] || cfg.CAN2[id] {
			enabled++
		}
	}
	s.logger.Info("configuration stored",
		zap.Bool("dhcp", cfg.DHCPEnabled),
		zap.String("ip4_address", cfg.IP4Address),
		zap.String("net_mask", cfg.NetMask),
		zap.Int("channels_enabled", enabled),
	)
	d.hub.reply(s, codec.SentinelSendSuccess)
}
