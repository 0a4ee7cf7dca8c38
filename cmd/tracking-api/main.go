package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/movearn/tracking-backend/internal/auth"
	"github.com/movearn/tracking-backend/internal/config"
	"github.com/movearn/tracking-backend/internal/filter"
	"github.com/movearn/tracking-backend/internal/handler"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/repository"
	"github.com/movearn/tracking-backend/internal/reward"
	"github.com/movearn/tracking-backend/internal/service"
	"github.com/movearn/tracking-backend/internal/session"
	"github.com/movearn/tracking-backend/internal/source"
	"github.com/movearn/tracking-backend/pkg/utils"
)

var (
	// Устанавливаются при сборке через ldflags
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	utils.SetDefaultLogger(logger)
	logger.WithField("version", Version).Info("Starting tracking backend")

	metrics.SetAppInfo(Version, Commit, BuildTime)

	// Создаем контекст приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем Redis репозиторий
	redisRepo, err := repository.NewRedisRepository(&cfg.Redis, cfg.Tracking.MaxStoredTrackPoints, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize Redis repository")
	}
	defer redisRepo.Close()

	if err := redisRepo.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Connected to Redis")

	// Инициализируем MySQL репозиторий (опционально)
	var mysqlRepo *repository.MySQLRepository
	var historyWriter *service.HistoryWriter
	if cfg.MySQL.DSN != "" {
		mysqlRepo, err = repository.NewMySQLRepository(&cfg.MySQL, logger)
		if err != nil {
			logger.WithField("error", err).Warn("Failed to initialize MySQL repository")
			mysqlRepo = nil
		} else {
			defer mysqlRepo.Close()
			if err := mysqlRepo.Ping(ctx); err != nil {
				logger.WithField("error", err).Warn("Failed to connect to MySQL")
			} else {
				logger.Info("Connected to MySQL")
			}
			historyWriter = service.NewHistoryWriter(mysqlRepo, logger, nil)
			defer historyWriter.Shutdown()
		}
	}

	// Региональный зачет дистанции
	regionTracker := service.NewRegionTracker(redisRepo, logger)

	// Отправка итогов в reward-сервис
	rewardSink := reward.NewSink(
		cfg.Reward.Endpoint,
		cfg.Reward.Timeout,
		cfg.Reward.MaxRetries,
		cfg.Reward.RetryDelay,
		logger.Entry().Logger,
	)
	if !rewardSink.Enabled() {
		logger.Info("Reward endpoint not configured, dispatch disabled")
	}

	// Фильтр правдоподобности с порогами из конфигурации
	filterCfg := filter.DefaultConfig()
	filterCfg.DefaultMaxSpeedMps = cfg.Tracking.MaxSpeedMps
	filterCfg.SpeedBuffer = cfg.Tracking.SpeedBuffer
	filterCfg.MinMovementMeters = cfg.Tracking.MinMovementMeters
	filterCfg.MaxAccuracyMeters = cfg.Tracking.MaxAccuracyMeters
	plausibility := filter.NewPlausibilityFilter(filterCfg)

	// Источник позиций: MQTT поток от трекеров
	mqttSource, err := source.NewMQTTSource(&cfg.MQTT, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize MQTT source")
	}
	defer mqttSource.Disconnect()

	if err := mqttSource.Connect(); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to MQTT broker")
	}
	logger.Info("Connected to MQTT broker")

	// Менеджер сессий с hooks для персистентности и наград
	hooks := session.Hooks{
		OnMovement: func(snapshot *models.SessionSnapshot, legKm float64) {
			opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
			defer opCancel()

			if err := redisRepo.SaveSessionState(opCtx, snapshot); err != nil {
				logger.WithField("error", err).Warn("Failed to save session state to Redis")
			}

			if snapshot.Location != nil {
				if err := redisRepo.AppendTrackPoint(opCtx, snapshot.SessionID, *snapshot.Location); err != nil {
					logger.WithField("error", err).Warn("Failed to append track point to Redis")
				}
				if historyWriter != nil {
					if err := historyWriter.QueueTrackPoint(snapshot.SessionID, *snapshot.Location); err != nil {
						logger.WithField("error", err).Warn("Failed to queue track point for MySQL")
					}
				}
			}

			if legKm > 0 {
				regionTracker.RecordMovement(ctx, snapshot, legKm)
			}
		},
		OnStop: func(summary models.SessionSummary) {
			opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
			if err := redisRepo.RemoveActiveSession(opCtx, summary.UserID); err != nil {
				logger.WithField("error", err).Warn("Failed to remove active session from Redis")
			}
			opCancel()

			regionTracker.ForgetSession(summary.SessionID)

			if historyWriter != nil {
				if err := historyWriter.QueueSummary(&summary); err != nil {
					logger.WithField("error", err).Warn("Failed to queue session summary for MySQL")
				}
			}

			// Начисление наград не должно блокировать обработку сессии
			go func(s models.SessionSummary) {
				dCtx, dCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer dCancel()
				if err := rewardSink.Dispatch(dCtx, &s); err != nil {
					logger.WithFields(map[string]interface{}{
						"session_id": s.SessionID,
						"error":      err,
					}).Error("Failed to dispatch session to reward service")
				}
			}(summary)
		},
	}

	manager := session.NewManager(plausibility, mqttSource, hooks, cfg.Tracking.SessionIdleTTL, logger)
	go manager.RunCleanup(ctx, time.Hour)

	// Аутентификация через account API с Redis-кешем
	authCache := auth.NewCache(redisRepo.GetClient(), cfg.Auth.CacheTTL)
	authValidator := auth.NewValidator(cfg.Auth.Endpoint, authCache, logger.Entry().Logger)
	authMw := auth.NewMiddleware(authValidator, logger.Entry().Logger)

	// HTTP сервер
	restHandler := handler.NewRESTHandler(manager, redisRepo, historyRepoOrNil(mysqlRepo), logger)
	wsHandler := handler.NewWebSocketHandler(manager, logger)
	server := handler.NewServer(cfg, restHandler, wsHandler, authMw, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	logger.Info("Server stopped gracefully")
}

// historyRepoOrNil приводит nil *MySQLRepository к nil интерфейсу.
// Без этого typed nil в интерфейсе проходил бы проверки на nil.
func historyRepoOrNil(repo *repository.MySQLRepository) repository.HistoryRepository {
	if repo == nil {
		return nil
	}
	return repo
}
