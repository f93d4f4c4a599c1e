package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB
	hub            *room.Hub
	authHandler    *handler.AuthHandler
	userHandler    *handler.UserHandler
	boardHandler   *handler.BoardHandler
	boardWSHandler *handler.BoardWSHandler
	chatWSHandler  *handler.ChatWSHandler
	voiceHandler   *handler.VoiceHandler
	healthHandler  *handler.HealthHandler
	jwtManager     *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whiteboard Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             10 * 1024 * 1024, // 10MB
		DisableStartupMessage: false,
	})

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleVerifier(cfg.Auth.GoogleClientID)

	// Redis 기반 구성 요소 (rdb가 nil이어도 동작)
	var chatCache *cache.ChatCache
	var globalPres *presence.Manager
	if rdb != nil {
		chatCache = cache.NewChatCache(rdb)
		hostname, _ := os.Hostname()
		globalPres = presence.NewManager(rdb, hostname)
	}

	// 라이브 세션 엔진
	boardStore := store.NewGormStore(db)
	hub := room.NewHub(boardStore, room.Config{
		DenyInterval:      cfg.Room.DenyInterval,
		LockIdleTimeout:   cfg.Room.LockIdleTimeout,
		LockSweepInterval: cfg.Room.LockSweepInterval,
		TimerMinDuration:  cfg.Room.TimerMinDuration,
		TimerMaxDuration:  cfg.Room.TimerMaxDuration,
	})

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		hub:            hub,
		authHandler:    handler.NewAuthHandler(db, jwtManager, googleAuth, cfg.Auth.SecureCookie),
		userHandler:    handler.NewUserHandler(db),
		boardHandler:   handler.NewBoardHandler(db, boardStore, hub, chatCache, globalPres),
		boardWSHandler: handler.NewBoardWSHandler(hub, globalPres, cfg.WebSocket.WriteTimeout),
		chatWSHandler:  handler.NewChatWSHandler(db, chatCache),
		voiceHandler:   handler.NewVoiceHandler(cfg, db),
		healthHandler:  handler.NewHealthHandler(db, rdb),
		jwtManager:     jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/guest", authLimiter, s.authHandler.GuestLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.RequireAuth(s.jwtManager), s.authHandler.Logout) // 인증된 사용자만
	authGroup.Get("/me", auth.RequireAuth(s.jwtManager), s.authHandler.GetMe)

	// User 라우트 그룹 (인증 필요)
	userGroup := s.app.Group("/api/users", auth.RequireAuth(s.jwtManager))
	userGroup.Get("/search", s.userHandler.SearchUsers)

	// Board 라우트 그룹 (인증 필요)
	boardGroup := s.app.Group("/api/boards", auth.RequireAuth(s.jwtManager))
	boardGroup.Post("", s.boardHandler.CreateBoard)
	boardGroup.Get("", s.boardHandler.GetMyBoards)
	boardGroup.Get("/:roomId", s.boardHandler.GetBoard)
	boardGroup.Put("/:roomId", s.boardHandler.RenameBoard)
	boardGroup.Delete("/:roomId", s.boardHandler.DeleteBoard)

	// Voice 라우트 (LiveKit 토큰)
	s.app.Post("/api/voice/token", auth.RequireAuth(s.jwtManager), s.voiceHandler.GenerateToken)

	// WebSocket 보드 세션 엔드포인트
	s.app.Get("/ws/board", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := s.wsClaims(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userId", claims.UserID)
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}, websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))

	// WebSocket 채팅 엔드포인트 (보드 단위)
	s.app.Get("/ws/chat/:roomId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := s.wsClaims(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		roomID := c.Params("roomId")
		if roomID == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// 보드 존재 확인
		var board model.Board
		if err := s.db.Select("id", "created_by").Where("room_id = ?", roomID).First(&board).Error; err != nil {
			return c.SendStatus(fiber.StatusNotFound)
		}

		// 멤버 확인 (생성자는 멤버 행 없이도 통과)
		if board.CreatedBy != claims.UserID {
			var count int64
			s.db.Model(&model.BoardMember{}).
				Where("board_id = ? AND user_id = ?", board.ID, claims.UserID).
				Count(&count)
			if count == 0 {
				return c.SendStatus(fiber.StatusForbidden)
			}
		}

		c.Locals("roomId", roomID)
		c.Locals("boardId", board.ID)
		c.Locals("userId", claims.UserID)
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}, websocket.New(s.chatWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
}

// wsClaims WebSocket 업그레이드 요청에서 JWT 추출 및 검증
// (쿠키 우선, 브라우저 WebSocket은 헤더를 못 보내므로 쿼리 폴백)
func (s *Server) wsClaims(c *fiber.Ctx) (*auth.Claims, error) {
	token := c.Cookies("access_token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return s.jwtManager.ValidateAccessToken(token)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Whiteboard backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
