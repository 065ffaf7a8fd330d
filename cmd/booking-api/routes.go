package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-booking-api/api/swagger"
	"github.com/noah-isme/sma-booking-api/internal/handler"
	"github.com/noah-isme/sma-booking-api/internal/middleware"
	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/internal/repository"
	"github.com/noah-isme/sma-booking-api/internal/service"
	"github.com/noah-isme/sma-booking-api/pkg/config"
	"github.com/noah-isme/sma-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-booking-api/pkg/middleware/cors"
	"github.com/noah-isme/sma-booking-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/sma-booking-api/pkg/middleware/requestid"
)

type routeDeps struct {
	cfg          *config.Config
	logger       *zap.Logger
	location     *time.Location
	metrics      *service.MetricsService
	audit        middleware.AuditWriter
	auth         *service.AuthService
	users        *service.UserService
	classes      *service.ClassService
	students     *service.StudentService
	availability *service.AvailabilityService
	appointments *service.AppointmentService
	checks       map[string]handler.Pinger
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": handler.PingFunc(db.PingContext)}
	if cacheRepo != nil {
		checks["redis"] = cacheRepo
	}
	return checks
}

func newRouter(d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(d.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(d.metrics, d.checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var throttle gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.cfg.RateLimit.Enabled {
		throttle = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: d.cfg.RateLimit.RequestsPerSecond,
			Burst:             d.cfg.RateLimit.Burst,
			IdleTTL:           d.cfg.RateLimit.IdleTTL,
		}).Middleware()
	}

	authHandler := handler.NewAuthHandler(d.auth)
	userHandler := handler.NewUserHandler(d.users)
	classHandler := handler.NewClassHandler(d.classes)
	studentHandler := handler.NewStudentHandler(d.students)
	teacherHandler := handler.NewTeacherHandler(d.users, d.availability, d.location)
	availabilityHandler := handler.NewAvailabilityHandler(d.availability, d.location)
	appointmentHandler := handler.NewAppointmentHandler(d.appointments, d.location)
	parentHandler := handler.NewParentHandler(d.students, d.appointments, d.location)

	requireStaff := middleware.JWT(d.auth)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staffOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	api := r.Group(d.cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", throttle, authHandler.Login)
	auth.POST("/refresh", throttle, authHandler.Refresh)
	auth.POST("/logout", requireStaff, authHandler.Logout)
	auth.POST("/change-password", requireStaff, authHandler.ChangePassword)
	auth.GET("/me", requireStaff, authHandler.Me)

	users := api.Group("/users", requireStaff, adminOnly)
	users.GET("", userHandler.List)
	users.POST("", userHandler.Create)
	users.GET("/:id", userHandler.Get)
	users.PUT("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete)

	classes := api.Group("/classes", requireStaff, adminOnly)
	classes.GET("", classHandler.List)
	classes.POST("", classHandler.Create)
	classes.GET("/:id", classHandler.Get)
	classes.PUT("/:id", classHandler.Update)
	classes.DELETE("/:id", classHandler.Delete)

	students := api.Group("/students", requireStaff, adminOnly)
	students.GET("", studentHandler.List)
	students.POST("", studentHandler.Create)
	students.GET("/:id", studentHandler.Get)
	students.PUT("/:id", studentHandler.Update)
	students.DELETE("/:id", studentHandler.Delete)

	teachers := api.Group("/teachers", throttle)
	teachers.GET("", teacherHandler.List)
	teachers.GET("/:id/slots", middleware.OptionalJWT(d.auth), teacherHandler.Slots)

	availability := api.Group("/availability", requireStaff, staffOnly)
	availability.GET("", availabilityHandler.List)
	availability.POST("", availabilityHandler.Create)
	availability.GET("/:id", availabilityHandler.Get)
	availability.PUT("/:id", availabilityHandler.Update)
	availability.DELETE("/:id", availabilityHandler.Delete)

	appointments := api.Group("/appointments", requireStaff, staffOnly)
	appointments.GET("", appointmentHandler.List)
	appointments.GET("/export", middleware.Audit(d.audit, d.logger, models.AuditActionAppointmentExport, "appointments"), appointmentHandler.Export)
	appointments.GET("/:id", appointmentHandler.Get)
	appointments.POST("/:id/cancel", appointmentHandler.Cancel)

	parent := api.Group("/parent", throttle, middleware.ParentAccess(d.students))
	parent.GET("/student", parentHandler.Student)
	parent.GET("/appointments", parentHandler.Appointments)
	parent.POST("/appointments", parentHandler.Claim)
	parent.GET("/appointments/:id", parentHandler.Appointment)
	parent.POST("/appointments/:id/cancel", parentHandler.Cancel)

	return r
}
