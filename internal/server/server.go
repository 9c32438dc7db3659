// Package server 组装协同编辑服务端：HTTP 路由、WebSocket 接入、Hub 事件循环与指标。
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/coedit-go/internal/collab"
	"github.com/lk2023060901/coedit-go/internal/json"
	"github.com/lk2023060901/coedit-go/internal/network/acceptor"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/metrics"
)

// Config 为服务端配置，对应配置文件中的 server 段。
type Config struct {
	Listen         string        `mapstructure:"listen"`
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"maxConnections"`
	SendQueueSize  int           `mapstructure:"sendQueueSize"`
	ReadLimit      int64         `mapstructure:"readLimit"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	Serializer     string        `mapstructure:"serializer"`
	Metrics        bool          `mapstructure:"metrics"`
}

// DefaultConfig 返回默认配置，监听 :8081 并在 "/" 上接受 WebSocket 连接。
func DefaultConfig() Config {
	return Config{
		Listen:         ":8081",
		Path:           "/",
		MaxConnections: 1024,
		SendQueueSize:  256,
		ReadLimit:      1 << 20,
		WriteTimeout:   10 * time.Second,
		Serializer:     serializer.NameSonic,
		Metrics:        true,
	}
}

const shutdownTimeout = 5 * time.Second

// Server 持有 Hub 与接入器，并对外提供 HTTP 服务。
type Server struct {
	cfg      Config
	hub      *collab.Hub
	acceptor *acceptor.WSAcceptor
	router   *mux.Router
	logger   *log.MLogger
}

// Option 为 New 的可选参数。
type Option func(*options)

type options struct {
	logger  *log.MLogger
	hubOpts []collab.HubOption
}

// WithLogger 指定服务端自身使用的 Logger。
func WithLogger(logger *log.MLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHubOptions 透传 Hub 的可选参数。
func WithHubOptions(opts ...collab.HubOption) Option {
	return func(o *options) {
		o.hubOpts = append(o.hubOpts, opts...)
	}
}

// New 根据配置组装服务端。
func New(cfg Config, opts ...Option) (*Server, error) {
	o := options{logger: log.With(log.FieldModule("server"))}
	for _, opt := range opts {
		opt(&o)
	}

	def := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}

	ser, err := serializer.ByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	hub := collab.NewHub(append([]collab.HubOption{collab.WithSerializer(ser)}, o.hubOpts...)...)
	acc, err := acceptor.NewWSAcceptor(acceptor.Config{
		MaxConnections: cfg.MaxConnections,
		SendQueueSize:  cfg.SendQueueSize,
		ReadLimit:      cfg.ReadLimit,
		WriteTimeout:   cfg.WriteTimeout,
		Serializer:     ser,
	}, hub)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		acceptor: acc,
		logger:   o.logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics {
		metrics.Register(prometheus.DefaultRegisterer)
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	// WebSocket 升级只匹配精确路径。
	r.Handle(s.cfg.Path, s.acceptor)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"participants": s.hub.Online(),
	})
}

// Handler 返回服务端的 HTTP 路由，便于在测试中挂载到 httptest.Server。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub 返回服务端使用的 Hub。
func (s *Server) Hub() *collab.Hub {
	return s.hub
}

// Run 在配置的地址上监听并阻塞运行，直到 ctx 结束或出现致命错误。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.cfg.Listen)
	}
	return s.Serve(ctx, ln)
}

// Serve 使用已有的 listener 运行服务端。
//
// HTTP 服务与 Hub 事件循环运行在同一个 errgroup 中，任一方退出都会触发整体停机：
// 先关闭所有会话，再关闭 HTTP 服务。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("collab server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("path", s.cfg.Path))
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := s.acceptor.Close(); err != nil {
			s.logger.Warn("close sessions", zap.Error(err))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("collab server stopped", zap.Error(err))
	return err
}
