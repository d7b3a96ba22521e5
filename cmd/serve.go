package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/shenikar/incident_dispatch/docs"
	"github.com/shenikar/incident_dispatch/internal/auth"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/expiry"
	v1 "github.com/shenikar/incident_dispatch/internal/handler/http/v1"
	"github.com/shenikar/incident_dispatch/internal/policy"
	"github.com/shenikar/incident_dispatch/internal/realtime"
	"github.com/shenikar/incident_dispatch/internal/repository"
	"github.com/shenikar/incident_dispatch/internal/service"
	"github.com/shenikar/incident_dispatch/internal/webhook"
	"github.com/shenikar/incident_dispatch/pkg/logger"
	"github.com/shenikar/incident_dispatch/pkg/mqtt"
	"github.com/shenikar/incident_dispatch/pkg/postgres"
	redisclient "github.com/shenikar/incident_dispatch/pkg/redis"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const shutdownTimeout = 5 * time.Second

var migrationsDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the dispatch server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "directory with SQL migrations")
	rootCmd.AddCommand(serveCmd)
}

func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New("file://"+migrationsDir, migrationURL)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

// newBus выбирает шину событий: MQTT, если задан брокер, иначе внутри процесса
func newBus(cfg *config.Config, log *logrus.Logger) (realtime.Bus, error) {
	if cfg.MQTTBroker == "" {
		log.Info("MQTT broker not configured, using in-process event bus")
		return realtime.NewLocalBus(), nil
	}
	client, err := mqtt.Connect(mqtt.Config{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return realtime.NewMQTTBus(client, realtime.DefaultTopic, log)
}

func runServer(cmd *cobra.Command, _ []string) error {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Инициализация логгера
	log := logger.New(cfg.LogLevel)

	// Контекст для graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Запуск миграций
	if err := runMigrations(cfg, log); err != nil {
		return err
	}

	// Подключение к PostgreSQL
	dbpool, err := postgres.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	// Инициализация Redis клиента
	redisClient, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	// Шина событий реального времени
	bus, err := newBus(cfg, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	pol, err := policy.New("")
	if err != nil {
		return fmt.Errorf("failed to load access policy: %w", err)
	}
	jwter := auth.JWTer{SecretKey: cfg.JWTSecret}

	// Издатель и воркер вебхуков
	webhookPublisher := webhook.NewRedisWebhookPublisher(redisClient)
	webhookWorker := webhook.NewWebhookWorker(redisClient, log, cfg)

	// Репозитории
	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient)
	chatRepo := repository.NewChatRepository(dbpool)
	offerStore := repository.NewOfferStore(redisClient)

	// Сервисы
	incidentService := service.NewIncidentService(incidentRepo, chatRepo, offerStore, bus, webhookPublisher, pol, log, cfg)
	chatService := service.NewChatService(chatRepo, incidentRepo, bus, pol, log)

	// Хаб websocket и SSE-зеркало для диспетчеров
	mirror := realtime.NewMirror()
	defer mirror.Close()
	hub := realtime.NewHub(jwter, chatService, offerStore, pol, mirror, log, realtime.Options{
		SendBuffer:   cfg.WSSendBuffer,
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
	})
	bus.Subscribe(hub.Dispatch)

	sweeper := expiry.NewSweeper(offerStore, incidentService, log, cfg.OfferSweepInterval)

	// Хэндлеры и роутер
	handler := v1.NewHandler(incidentService, chatService, jwter, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(v1.RequestLogger(log), gin.Recovery())
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)
	handler.RegisterRealtime(api, hub, mirror.Handler())

	// Добавление маршрута для Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	webhookWorker.Start(gctx)
	if err := sweeper.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		log.Infof("HTTP server started on port %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error starting HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Received shutdown signal, shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		<-sweeper.Stop().Done()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server gracefully stopped")
	return nil
}
