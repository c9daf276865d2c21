package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/config"
	"backend-klinik/internal/helper"
	"backend-klinik/internal/http/handler"
	"backend-klinik/internal/realtime"
	"backend-klinik/internal/service"
	"backend-klinik/internal/stats"
	"backend-klinik/internal/store"
	"backend-klinik/internal/store/mysqlstore"
	"backend-klinik/internal/store/sqlitestore"
)

type cliFlags struct {
	envFile  string
	host     string
	port     string
	dbDriver string
}

func main() {
	var flags cliFlags

	root := &cobra.Command{
		Use:           "backend-klinik",
		Short:         "Booking dokter dan antrean check-in klinik",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "path to .env file")
	root.PersistentFlags().StringVar(&flags.host, "host", "", "listen host (overrides APP_HOST)")
	root.PersistentFlags().StringVar(&flags.port, "port", "", "listen port (overrides APP_PORT)")
	root.PersistentFlags().StringVar(&flags.dbDriver, "db-driver", "", "mysql or sqlite (overrides DB_DRIVER)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, flags)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadSettings: .env dulu, lalu env system, lalu flag yang diisi eksplisit.
func loadSettings(cmd *cobra.Command, flags cliFlags) (config.Settings, error) {
	config.LoadEnv(flags.envFile)
	s := config.Load()

	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			s.AppHost = flags.host
		case "port":
			s.AppPort = flags.port
		case "db-driver":
			s.DBDriver = flags.dbDriver
		}
	})

	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

func openStore(ctx context.Context, s config.Settings, logger zerolog.Logger) (store.Store, error) {
	retry := store.DefaultRetryPolicy()
	retry.Attempts = s.StoreRetryAttempts
	logger = logger.With().Str("component", "store").Logger()

	switch s.DBDriver {
	case "mysql":
		return mysqlstore.Open(ctx, mysqlstore.Options{
			DSN:      s.DBDSN,
			PoolSize: s.DBPoolSize,
			Retry:    retry,
			Logger:   logger,
		})
	default:
		return sqlitestore.Open(ctx, sqlitestore.Options{
			Path:     s.DBPath,
			PoolSize: s.DBPoolSize,
			Retry:    retry,
			Logger:   logger,
		})
	}
}

func runMigrate(cmd *cobra.Command, flags cliFlags) error {
	s, err := loadSettings(cmd, flags)
	if err != nil {
		return err
	}
	logger := config.NewLogger(s, nil)

	// Open sudah menjalankan Migrate.
	st, err := openStore(cmd.Context(), s, logger)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer st.Close()

	logger.Info().Str("driver", s.DBDriver).Msg("schema up to date")
	return nil
}

func runServe(cmd *cobra.Command, flags cliFlags) error {
	s, err := loadSettings(cmd, flags)
	if err != nil {
		return err
	}
	logger := config.NewLogger(s, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, s, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redisClient, err := config.InitRedis(ctx, s)
	if err != nil {
		// counter cuma informasional, server tetap jalan
		logger.Warn().Err(err).Msg("stats disabled")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	clk := clock.Real()
	loc := helper.LoadLocation(s.Timezone)
	rec := stats.New(redisClient, logger)

	snapshots := realtime.NewSnapshotBuilder(st, clk)
	hub := realtime.NewHub(snapshots, clk, realtime.Options{
		Debounce:   s.BroadcastDebounce,
		SendBuffer: s.WSSendBuffer,
	}, logger)

	bookingCfg := service.BookingConfig{
		Capacity:         s.MaxAppointmentsPerDay,
		DefaultAvailable: s.DefaultAvailable(),
	}

	h := handler.New(handler.Deps{
		Booking:      service.NewBookingEngine(st, bookingCfg, hub, rec, clk, logger),
		CheckIn:      service.NewCheckInEngine(st, hub, rec, clk, loc, logger),
		Doctors:      service.NewDoctorService(st, bookingCfg, clk, logger),
		Patients:     service.NewPatientService(st, clk, logger),
		Hub:          hub,
		Snapshots:    snapshots,
		Stats:        rec,
		Clock:        clk,
		Location:     loc,
		Environment:  s.Environment,
		PingInterval: s.WSPingInterval,
		PongTimeout:  s.WSPongTimeout,
		WriteTimeout: s.WSWriteTimeout,
		Logger:       logger,
	})
	app := handler.NewApp(h)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", s.Addr()).
			Str("db_driver", s.DBDriver).
			Str("timezone", loc.String()).
			Bool("stats", redisClient != nil).
			Msg("server starting")
		errCh <- app.Listen(s.Addr())
	}()

	select {
	case err := <-errCh:
		hub.Close()
		rec.Wait()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	// tutup websocket dulu supaya shutdown fiber tidak menunggu koneksi hijack
	hub.Close()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	// counter yang masih jalan diselesaikan sebelum redis ditutup
	rec.Wait()
	return nil
}
