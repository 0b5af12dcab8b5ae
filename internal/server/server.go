package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-phone/config"
	"clinic-phone/internal/handler"
	"clinic-phone/internal/middleware"
	"clinic-phone/internal/services"
	"clinic-phone/internal/transport/httpdto"
	"clinic-phone/internal/websocket"
	"clinic-phone/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	Phone     *handler.PhoneHandler
	WebSocket *websocket.Handler
}

// Limiters are optional; a nil limiter disables that check.
type Limiters struct {
	Auth middleware.AuthLimiter
	Dial middleware.DialLimiter
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, authService *services.AuthService, limiters Limiters) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})
	s.engine.GET("/health", handlers.Phone.Health)

	auth := s.engine.Group("/v1/auth")
	{
		login := []gin.HandlerFunc{}
		if limiters.Auth != nil {
			login = append(login, middleware.AuthRateLimitMiddleware(limiters.Auth))
		}
		auth.POST("/login", append(login, handlers.Auth.Login)...)
		auth.GET("/me", middleware.AuthMiddleware(authService), handlers.Auth.Me)
	}

	phone := s.engine.Group("/v1/phone", middleware.AuthMiddleware(authService))
	{
		phone.GET("/state", handlers.Phone.State)
		phone.GET("/status", handlers.Phone.Status)
		phone.GET("/stats", handlers.Phone.Stats)
		phone.GET("/capabilities", handlers.Phone.Capabilities)

		phone.POST("/register", handlers.Phone.Register)
		phone.POST("/unregister", handlers.Phone.Unregister)

		dial := []gin.HandlerFunc{}
		if limiters.Dial != nil {
			dial = append(dial, middleware.DialRateLimitMiddleware(limiters.Dial))
		}
		phone.POST("/calls", append(dial, handlers.Phone.Dial)...)
		phone.POST("/calls/redial", append(dial, handlers.Phone.Redial)...)
		phone.GET("/calls/:id", handlers.Phone.GetCall)
		phone.POST("/calls/:id/answer", handlers.Phone.Answer)
		phone.POST("/calls/:id/hangup", handlers.Phone.Hangup)
		phone.POST("/calls/:id/hold", handlers.Phone.Hold)
		phone.POST("/calls/:id/mute", handlers.Phone.Mute)
		phone.POST("/calls/:id/transfer", handlers.Phone.Transfer)
		phone.POST("/calls/:id/dtmf", handlers.Phone.SendDTMF)

		phone.GET("/devices", handlers.Phone.Devices)
		phone.PUT("/devices", handlers.Phone.SetDevices)
		phone.POST("/permissions/microphone", handlers.Phone.RequestMicrophone)
		phone.PATCH("/settings", handlers.Phone.UpdateSettings)
		phone.PUT("/dial-buffer", handlers.Phone.SetDialBuffer)

		phone.GET("/history", handlers.Phone.History)
		phone.DELETE("/history", handlers.Phone.ClearHistory)
		phone.GET("/diagnostics", handlers.Phone.Diagnostics)
		phone.POST("/diagnostics/archive", handlers.Phone.ArchiveDiagnostics)
		phone.POST("/simulate/incoming", handlers.Phone.SimulateIncoming)

		if handlers.WebSocket != nil {
			phone.GET("/ws", handlers.WebSocket.Connect)
		}
	}
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if s.logger != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-quit:
	}

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return nil
}
