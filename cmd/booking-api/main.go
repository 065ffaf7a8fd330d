package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/repository"
	"github.com/noah-isme/sma-booking-api/internal/service"
	"github.com/noah-isme/sma-booking-api/migrations"
	"github.com/noah-isme/sma-booking-api/pkg/cache"
	"github.com/noah-isme/sma-booking-api/pkg/config"
	"github.com/noah-isme/sma-booking-api/pkg/database"
	"github.com/noah-isme/sma-booking-api/pkg/logger"
	"github.com/noah-isme/sma-booking-api/pkg/mailer"
)

// @title SMA Booking API
// @version 1.0.0
// @description Parent-teacher appointment booking for schools
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return fmt.Errorf("load booking timezone %q: %w", cfg.Booking.Timezone, err)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db.DB, migrations.FS, logr)
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	gate := service.NewRoleGate()

	var (
		cacheRepo *repository.CacheRepository
		cacheSvc  *service.CacheService
	)
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Booking.SlotCacheTTL, logr)
	} else {
		cacheSvc = service.NewCacheService(nil, metrics, cfg.Booking.SlotCacheTTL, logr)
	}

	notifier := service.NewNotificationService(mailer.New(cfg.Mail, logr), metrics, logr, service.NotificationConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Location:   loc,
	})
	notifier.Start(ctx)
	defer notifier.Stop()

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	windowRepo := repository.NewAvailabilityRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.Expiration,
		RefreshTTL: cfg.JWT.RefreshExpiration,
	})
	userSvc := service.NewUserService(userRepo, gate, validate, logr)
	classSvc := service.NewClassService(classRepo, userRepo, gate, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, classRepo, service.NewAccessCodeGenerator(studentRepo), userRepo, gate, validate, logr, cfg.Booking.AccessCodeTTL)
	availabilitySvc := service.NewAvailabilityService(windowRepo, appointmentRepo, userRepo, cacheSvc, gate, metrics, validate, logr, service.AvailabilityConfig{
		Location:    loc,
		MaxRange:    cfg.Booking.MaxQueryRange,
		MinLeadTime: cfg.Booking.MinLeadTime,
	})
	appointmentSvc := service.NewAppointmentService(appointmentRepo, userRepo, studentRepo, availabilitySvc, notifier, userRepo, gate, metrics, validate, logr, service.AppointmentConfig{
		Location:    loc,
		MinLeadTime: cfg.Booking.MinLeadTime,
	})

	deps := routeDeps{
		cfg:          cfg,
		logger:       logr,
		location:     loc,
		metrics:      metrics,
		audit:        userRepo,
		auth:         authSvc,
		users:        userSvc,
		classes:      classSvc,
		students:     studentSvc,
		availability: availabilitySvc,
		appointments: appointmentSvc,
		checks:       readinessChecks(db, cacheRepo),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
