// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/canonical/membership-service/internal/billing"
	"github.com/canonical/membership-service/internal/config"
	"github.com/canonical/membership-service/internal/db"
	"github.com/canonical/membership-service/internal/kratos"
	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/monitoring/prometheus"
	"github.com/canonical/membership-service/internal/notifier"
	"github.com/canonical/membership-service/internal/storage"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/pkg/authentication"
	"github.com/canonical/membership-service/pkg/membership"
	"github.com/canonical/membership-service/pkg/status"
	"github.com/canonical/membership-service/pkg/web"
	"github.com/canonical/membership-service/pkg/webhooks"
)

const serviceName = "membership-service"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the web server",
	Long:  `Launch the web application, list of environment variables is available in the readme`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// openStorage picks the storage backend, the returned pinger is nil for the
// in-memory store.
func openStorage(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (membership.StorageInterface, status.PingerInterface, func(), error) {
	switch specs.StorageDriver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		return storage.NewMemoryStorage(tracer, monitor, logger), nil, func() {}, nil
	case "postgres":
		dbClient, err := db.NewDBClient(
			db.Config{
				DSN:             specs.DSN,
				MaxConns:        specs.DBMaxConns,
				MinConns:        specs.DBMinConns,
				MaxConnLifetime: specs.DBMaxConnLifetime,
				MaxConnIdleTime: specs.DBMaxConnIdleTime,
				TracingEnabled:  specs.TracingEnabled,
			},
			tracer,
			monitor,
			logger,
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create database client: %v", err)
		}
		return storage.NewStorage(dbClient, tracer, monitor, logger), dbClient, dbClient.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", specs.StorageDriver)
	}
}

func newBilling(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) membership.BillingInterface {
	if specs.StripeSecretKey == "" {
		logger.Info("Stripe is not configured, subscriptions will not be canceled")
		return billing.NewNoopCanceler(logger)
	}
	return billing.NewStripeCanceler(specs.StripeSecretKey, nil, tracer, monitor, logger)
}

func newNotifier(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (membership.NotifierInterface, func(), error) {
	if specs.RedisURL == "" {
		logger.Info("Redis is not configured, notifications are only logged")
		return notifier.NewNoopNotifier(logger), func() {}, nil
	}

	n, err := notifier.NewRedisNotifier(specs.RedisURL, specs.NotificationsStream, specs.InviteBaseURL, tracer, monitor, logger)
	if err != nil {
		return nil, nil, err
	}
	return n, func() { _ = n.Close() }, nil
}

// newAdminMiddleware returns nil when no issuer is configured, which leaves
// the admin routes unmounted. Debug mode accepts any bearer as the subject.
func newAdminMiddleware(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (*authentication.Middleware, error) {
	if specs.AdminJWTIssuer == "" {
		if specs.Debug {
			logger.Warn("Admin routes accept any bearer token, debug mode is on")
			return authentication.NewMiddleware(authentication.NewNoopVerifier(), tracer, monitor, logger), nil
		}
		logger.Info("Admin JWT issuer is not configured, admin routes are disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	verifier, err := authentication.NewJWTVerifier(
		ctx,
		specs.AdminJWTIssuer,
		specs.AdminJWKSURL,
		authentication.AdminPolicy{Subjects: specs.AdminAllowedSubjects, Scope: specs.AdminRequiredScope},
		tracer,
		monitor,
		logger,
	)
	if err != nil {
		return nil, err
	}

	return authentication.NewMiddleware(verifier, tracer, monitor, logger), nil
}

func serve() error {
	specs := new(config.EnvSpec)
	if err := envconfig.Process("", specs); err != nil {
		panic(fmt.Errorf("issues with environment sourcing: %s", err))
	}

	logger := logging.NewLogger(specs.LogLevel)
	defer logger.Sync()

	monitor := prometheus.NewMonitor(serviceName, logger)
	tracer := tracing.NewTracer(tracing.NewConfig(serviceName, specs.TracingEnabled, specs.OtelGRPCEndpoint, specs.OtelHTTPEndpoint, logger))

	store, pinger, closeStore, err := openStorage(specs, tracer, monitor, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifications, closeNotifier, err := newNotifier(specs, tracer, monitor, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	kratosClient := kratos.NewClient(specs.KratosAdminURL, specs.KratosPublicURL, tracer, monitor, logger)

	service := membership.NewService(
		store,
		kratosClient,
		newBilling(specs, tracer, monitor, logger),
		notifications,
		specs.OptimisticRetries,
		tracer,
		monitor,
		logger,
	)

	adminMiddleware, err := newAdminMiddleware(specs, tracer, monitor, logger)
	if err != nil {
		return fmt.Errorf("failed to set up admin authentication: %w", err)
	}

	var webhooksAPI *webhooks.API
	if specs.StripeWebhookSecret != "" {
		webhooksAPI = webhooks.NewAPI(webhooks.NewService(service, tracer, monitor, logger), specs.StripeWebhookSecret, logger)
	}

	router := web.NewRouter(
		web.Config{
			CSRFAuthKey:        []byte(specs.CSRFAuthKey),
			CSRFSecure:         specs.CSRFSecureCookie,
			CSRFPlaintext:      specs.CSRFPlaintext,
			TrustedOrigins:     specs.TrustedOrigins,
			CORSAllowedOrigins: specs.CORSAllowedHosts,
			RateLimitRPS:       specs.RateLimitRPS,
			RateLimitBurst:     specs.RateLimitBurst,
		},
		membership.NewAPI(service, membership.NewSelectorCookie(specs.CSRFSecureCookie), specs.AppHomePath, tracer, monitor, logger),
		membership.NewAdminAPI(service, tracer, monitor, logger),
		webhooksAPI,
		authentication.NewSessionMiddleware(kratosClient, specs.SessionCookieName, tracer, monitor, logger),
		adminMiddleware,
		pinger,
		tracer,
		monitor,
		logger,
	)
	logger.Infof("Starting HTTP server on port %v", specs.Port)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%v", specs.Port),
		WriteTimeout: time.Second * 60,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	var serverError error
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Security().SystemStartup(logging.String("storage", specs.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError = fmt.Errorf("server error: %w", err)
			c <- os.Interrupt
		}
	}()

	<-c

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Security().SystemShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		serverError = fmt.Errorf("server shutdown error: %w", err)
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Errorf("failed to flush traces: %v", err)
	}

	return serverError
}
