package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/auth"
	"github.com/rajivgeraev/skillmates-api/internal/config"
	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/middleware"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/services/announcement"
	authservice "github.com/rajivgeraev/skillmates-api/internal/services/auth"
	"github.com/rajivgeraev/skillmates-api/internal/services/chat"
	"github.com/rajivgeraev/skillmates-api/internal/services/cloudinary"
	"github.com/rajivgeraev/skillmates-api/internal/services/request"
	"github.com/rajivgeraev/skillmates-api/internal/services/user"
	"github.com/rajivgeraev/skillmates-api/internal/state"
	"github.com/rajivgeraev/skillmates-api/internal/store"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
	"github.com/rajivgeraev/skillmates-api/internal/websocket"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "Применить схему базы данных и выйти")
	flag.Parse()

	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	pool, err := db.InitDB(cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	ctx, cancel := db.GetContext()
	err = db.Migrate(ctx, pool)
	cancel()
	if err != nil {
		log.Fatalf("❌ Ошибка при применении схемы: %v", err)
	}
	if *migrateOnly {
		log.Println("✅ Схема базы данных применена")
		return
	}

	// Канал уведомлений о вставках для подписок
	feed, err := store.NewChangeFeed(cfg.BackendURL)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к каналу уведомлений: %v", err)
	}
	defer feed.Close()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go feed.Run(runCtx)

	st := store.NewPostgresStore(pool, feed)
	cache := query.New(query.Options{StaleTime: cfg.QueryStaleTime})
	defer cache.Close()

	// Создаём сервисы
	userService := user.NewUserService(cfg, st, cache)
	chatService := chat.NewChatService(st, cache)
	requestService := request.NewRequestService(st, cache, userService, chatService)
	announcementService := announcement.NewAnnouncementService(st, cache)

	provider := auth.NewProvider(
		db.NewAccountStore(pool),
		utils.NewJWTService(cfg.JWTSecret),
		auth.NewMailer(cfg.MailConfig),
		userService,
	)
	unsubscribe := provider.OnSessionChange(func(ch auth.SessionChange) {
		log.Printf("Сессия %s: пользователь %s", ch.Event, ch.Session.UserID)
	})
	defer unsubscribe()
	authService := authservice.NewAuthService(provider)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "SkillMates API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "apikey"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use("/api", middleware.APIKeyMiddleware(cfg.BackendAPIKey))

	// Настраиваем middleware для аутентификации
	authMiddleware := middleware.AuthMiddleware(provider)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	userService.SetupRoutes(app, authMiddleware)
	requestService.SetupRoutes(app, authMiddleware)
	chatService.SetupRoutes(app, authMiddleware)
	announcementService.SetupRoutes(app, authMiddleware)

	if cfg.CloudinaryConfig.CloudName != "" {
		cloudinaryService, err := cloudinary.NewCloudinaryService(cfg)
		if err != nil {
			log.Fatalf("❌ Ошибка инициализации Cloudinary: %v", err)
		}
		cloudinaryService.SetupRoutes(app, authMiddleware)
	} else {
		log.Println("⚠️ Cloudinary не настроен, загрузка аватаров отключена")
	}

	// WebSocket-сервер: у каждого соединения своя сессия
	manager := websocket.NewManager(func() *state.Session {
		return state.NewSession(userService, requestService, announcementService, chatService)
	})
	wsServer := &http.Server{
		Addr:        ":" + cfg.WSPort,
		Handler:     websocket.NewRouter(manager, provider, cfg.BackendAPIKey),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("✅ WebSocket сервер запущен на порту %s", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Ошибка WebSocket сервера: %v", err)
		}
	}()

	go func() {
		log.Printf("✅ SkillMates API запущен на порту %s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Ошибка HTTP сервера: %v", err)
		}
	}()

	// Ждём сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Остановка сервера...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	manager.Shutdown()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка остановки WebSocket сервера: %v", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Ошибка остановки HTTP сервера: %v", err)
	}
	log.Println("Сервер остановлен")
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	kind := apperr.KindInternal

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if code == fiber.StatusNotFound {
			kind = apperr.KindNotFound
		}
	} else {
		return utils.Fail(c, err)
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"kind":    kind,
		"error":   err.Error(),
	})
}
