package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ryandielhenn/subalive/internal/telemetry"
	"github.com/ryandielhenn/subalive/pkg/heartbeat"
)

// Handler is the receiver side the server dispatches to.
type Handler interface {
	Alive(counter int) (int, error)
	Status() heartbeat.Status
}

type ServerConfig struct {
	// Addr is the local listen address, e.g. "localhost:8000" or "127.0.0.1:0".
	Addr string
	// BodyLimit caps request bodies. Default: 4KB
	BodyLimit int
}

// Server exposes a Handler over HTTP. It implements heartbeat.Endpoint.
type Server struct {
	App *fiber.App

	ln      net.Listener
	handler Handler
	log     *zap.Logger
}

var _ heartbeat.Endpoint = (*Server)(nil)

// NewServer binds the listener right away so address errors surface before
// the receiver starts its checker.
func NewServer(cfg ServerConfig, h Handler, logger *zap.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("transport: nil handler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BodyLimit == 0 {
		cfg.BodyLimit = 4 * 1024
	}

	addr := NormalizeHostPort(cfg.Addr, DefaultPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{ln: ln, handler: h, log: logger.Named("server")}
	s.App = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
	})
	s.App.Use(recover.New())

	s.App.Post(AlivePath, telemetry.InstrumentFiber("alive"), s.alive)
	s.App.Get(HealthzPath, telemetry.InstrumentFiber("healthz"), s.healthz)
	s.App.Get(InfoPath, telemetry.InstrumentFiber("info"), s.info)
	s.App.Get(MetricsPath, adaptor.HTTPHandler(telemetry.MetricsHandler()))

	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr is the bound address, useful with port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Serve() error {
	return s.App.Listener(s.ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}

func (s *Server) alive(c *fiber.Ctx) error {
	var req AliveRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Error("failed to parse alive body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(createResponse(AliveResponse{}, err))
	}

	ack, err := s.handler.Alive(req.Counter)
	if errors.Is(err, heartbeat.ErrShuttingDown) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(createResponse(AliveResponse{}, err))
	}
	if err != nil {
		return err
	}
	return c.JSON(createResponse(AliveResponse{Result: ack}, nil))
}

// healthz returns 200 OK to indicate the receiver is serving.
func (s *Server) healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// info writes the receiver status as JSON.
func (s *Server) info(c *fiber.Ctx) error {
	return c.JSON(s.handler.Status())
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	s.log.Error("request failed",
		zap.Error(err),
		zap.Int("status_code", code),
		zap.String("path", c.Path()),
		zap.String("method", c.Method()))

	return c.Status(code).JSON(createResponse(map[string]any{}, err))
}
