package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heartside/heartside/pkg/config"
	"github.com/heartside/heartside/pkg/db"
	"github.com/heartside/heartside/pkg/handler"
	"github.com/heartside/heartside/pkg/service"
	"github.com/heartside/heartside/pkg/tokens"
	"github.com/heartside/heartside/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	port      int
}

func NewServer(cfg *config.AppConfig, secrets *config.Secrets) (*Server, error) {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1") {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		cfg:       cfg,
	}

	if err := server.SetupRoutes(secrets); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) SetupRoutes(secrets *config.Secrets) error {
	dbPath, err := config.DatabasePath()
	if err != nil {
		return err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}

	preparer, err := service.NewImagePreparer(s.cfg.UploadDir())
	if err != nil {
		return err
	}

	estimator, err := tokens.NewEstimator(s.cfg.ChatModel())
	if err != nil {
		return err
	}

	// Provider selection happens once at startup: a live model needs a
	// key; without one the deterministic offline providers are used.
	var provider service.CompletionProvider
	var generator service.CaptionGenerator
	var transcriber service.TranscriptionProvider
	if s.cfg.Offline() || secrets.APIKey == "" {
		if !s.cfg.Offline() {
			s.logger.Warn("No API key configured, using offline scripted replies")
		}
		provider = service.NewScriptedProvider()
		transcriber = &service.ScriptedTranscriber{}
	} else {
		s.logger.Info("Using live model provider",
			"model", s.cfg.ChatModel(),
			"apiKey", utils.MaskSensitiveString(secrets.APIKey))
		live, err := service.NewLiveProvider(context.Background(), &service.LiveProviderConfig{
			BaseURL: s.cfg.ModelBaseURL(),
			APIKey:  secrets.APIKey,
			Model:   s.cfg.ChatModel(),
		})
		if err != nil {
			return err
		}
		provider = live
		generator = live
		transcriber = service.NewHTTPTranscriber(s.cfg.ModelBaseURL(), secrets.APIKey, s.cfg.TranscribeModel())
	}

	chatService := service.NewChatService(database, provider, preparer, estimator, tokens.DefaultBudgetParams())
	if err := chatService.AutoMigrate(); err != nil {
		return err
	}
	momentService := service.NewMomentService(database, generator, preparer)
	if err := momentService.AutoMigrate(); err != nil {
		return err
	}

	// Serve uploaded files so locally stored image references resolve.
	if err := os.MkdirAll(s.cfg.UploadDir(), 0o755); err != nil {
		return err
	}
	s.ginEngine.Static("/uploads", s.cfg.UploadDir())

	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler.NewChatHandler(chatService, transcriber).RegisterRoutes(apiGroup)
	handler.NewSessionHandler(chatService, momentService).RegisterRoutes(apiGroup)
	handler.NewMomentHandler(momentService).RegisterRoutes(apiGroup)

	return nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; if the port is occupied return
	// immediately.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("Server listening", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}
