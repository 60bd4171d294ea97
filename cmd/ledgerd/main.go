package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/internal/automate"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/config"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr         = "listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagDatabaseURL        = "database-url"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagAdminRole          = "admin-role"
	flagRequestTimeout     = "request-timeout"
	flagTimeZone           = "time-zone"
	flagLeadTimeHours      = "lead-time-hours"
	flagCancellationPolicy = "cancellation-policy"
	flagFanOutLimit        = "fan-out-limit"
	flagAutomateEnabled    = "automate-enabled"
	flagAutomateBaseURL    = "automate-base-url"
	flagAutomateUsername   = "automate-username"
	flagAutomatePassword   = "automate-password"
	flagAutomateTimeout    = "automate-timeout"

	envPrefix = "LEDGERD"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// configBindings maps each flag to its viper key; env names derive from the key.
var configBindings = []string{
	flagListenAddr,
	flagGRPCListenAddr,
	flagDatabaseURL,
	flagAllowedOrigins,
	flagJWTSigningKey,
	flagJWTIssuer,
	flagAdminRole,
	flagRequestTimeout,
	flagTimeZone,
	flagLeadTimeHours,
	flagCancellationPolicy,
	flagFanOutLimit,
	flagAutomateEnabled,
	flagAutomateBaseURL,
	flagAutomateUsername,
	flagAutomatePassword,
	flagAutomateTimeout,
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Booking credit ledger HTTP and gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "127.0.0.1:7000", "gRPC listen address")
	flags.String(flagDatabaseURL, "sqlite:///tmp/bookingledger.db", "postgres:// or sqlite:// database URL")
	flags.String(flagAllowedOrigins, "http://localhost:3000", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "HS256 key for bearer tokens")
	flags.String(flagJWTIssuer, "bookingledger", "expected token issuer")
	flags.String(flagAdminRole, "admin", "role granting admin access")
	flags.Duration(flagRequestTimeout, 10*time.Second, "per-request timeout")
	flags.String(flagTimeZone, "Asia/Singapore", "facility time zone")
	flags.Int(flagLeadTimeHours, ledger.DefaultLeadTimeHours, "minimum notice for customer cancellations")
	flags.String(flagCancellationPolicy, string(ledger.PolicyImmediate), "immediate or approval")
	flags.Int(flagFanOutLimit, ledger.DefaultFanOutLimit, "concurrent reservation system calls")
	flags.Bool(flagAutomateEnabled, false, "push slots to the reservation system")
	flags.String(flagAutomateBaseURL, "", "reservation system base URL")
	flags.String(flagAutomateUsername, "", "reservation system username")
	flags.String(flagAutomatePassword, "", "reservation system password")
	flags.Duration(flagAutomateTimeout, 10*time.Second, "reservation system call timeout")

	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *config.Config) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	for _, key := range configBindings {
		if err := settings.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}

	*cfg = config.Config{
		ListenAddr:         settings.GetString(flagListenAddr),
		GRPCListenAddr:     settings.GetString(flagGRPCListenAddr),
		DatabaseURL:        settings.GetString(flagDatabaseURL),
		AllowedOrigins:     config.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		JWTSigningKey:      settings.GetString(flagJWTSigningKey),
		JWTIssuer:          settings.GetString(flagJWTIssuer),
		AdminRole:          settings.GetString(flagAdminRole),
		RequestTimeout:     settings.GetDuration(flagRequestTimeout),
		TimeZone:           settings.GetString(flagTimeZone),
		LeadTimeHours:      settings.GetInt(flagLeadTimeHours),
		CancellationPolicy: settings.GetString(flagCancellationPolicy),
		FanOutLimit:        settings.GetInt(flagFanOutLimit),
		Automate: config.Automate{
			Enabled:  settings.GetBool(flagAutomateEnabled),
			BaseURL:  settings.GetString(flagAutomateBaseURL),
			Username: settings.GetString(flagAutomateUsername),
			Password: settings.GetString(flagAutomatePassword),
			Timeout:  settings.GetDuration(flagAutomateTimeout),
		},
	}
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormstore.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	reservations, err := automate.New(automate.Config{
		Enabled:  cfg.Automate.Enabled,
		BaseURL:  cfg.Automate.BaseURL,
		Username: cfg.Automate.Username,
		Password: cfg.Automate.Password,
		Timeout:  cfg.Automate.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("automate client init: %w", err)
	}

	ledgerService, err := ledger.NewService(gormstore.New(gormDB), time.Now,
		ledger.WithLocation(cfg.Location()),
		ledger.WithLeadTimeHours(cfg.LeadTimeHours),
		ledger.WithCancellationPolicy(cfg.Policy()),
		ledger.WithFanOutLimit(cfg.FanOutLimit),
		ledger.WithReservationSystem(reservations),
		ledger.WithOperationLogger(oplog.New(logger)),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	router, err := httpapi.NewRouter(ledgerService, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SigningKey:     []byte(cfg.JWTSigningKey),
		Issuer:         cfg.JWTIssuer,
		AdminRole:      cfg.AdminRole,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("http router init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.AuthInterceptor(httpapi.NewTokenParser([]byte(cfg.JWTSigningKey), cfg.JWTIssuer), cfg.AdminRole)))
	grpcserver.Register(grpcServer, grpcserver.NewLedgerServer(ledgerService, cfg.RequestTimeout))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.ListenAddr, router, logger)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "bookingledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
