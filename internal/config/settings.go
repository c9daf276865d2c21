package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings holds everything the server reads from the environment.
type Settings struct {
	AppHost     string
	AppPort     string
	Environment string
	Timezone    string

	DBDriver   string // mysql | sqlite
	DBDSN      string
	DBPath     string
	DBPoolSize int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogFormat string

	MaxAppointmentsPerDay int
	// AvailabilityDefault decides booking when a doctor has no availability
	// record for the date: "allow" or "deny".
	AvailabilityDefault string
	StoreRetryAttempts  int

	WSPingInterval    time.Duration
	WSPongTimeout     time.Duration
	WSWriteTimeout    time.Duration
	WSSendBuffer      int
	BroadcastDebounce time.Duration
}

func Load() Settings {
	return Settings{
		AppHost:     GetEnv("APP_HOST", "0.0.0.0"),
		AppPort:     GetEnv("APP_PORT", "8000"),
		Environment: GetEnv("APP_ENV", "development"),
		Timezone:    GetEnv("APP_TIMEZONE", "UTC"),

		DBDriver:   strings.ToLower(GetEnv("DB_DRIVER", "sqlite")),
		DBDSN:      GetEnv("DB_DSN", "root:root@tcp(127.0.0.1:3306)/klinik"),
		DBPath:     GetEnv("DB_PATH", "klinik.db"),
		DBPoolSize: GetEnvInt("DB_POOL_SIZE", 0),

		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		MaxAppointmentsPerDay: GetEnvInt("MAX_APPOINTMENTS_PER_DOCTOR_PER_DAY", 10),
		AvailabilityDefault:   strings.ToLower(GetEnv("AVAILABILITY_DEFAULT", "allow")),
		StoreRetryAttempts:    GetEnvInt("STORE_RETRY_ATTEMPTS", 3),

		WSPingInterval:    GetEnvDuration("WS_PING_INTERVAL", 20*time.Second),
		WSPongTimeout:     GetEnvDuration("WS_PONG_TIMEOUT", 60*time.Second),
		WSWriteTimeout:    GetEnvDuration("WS_WRITE_TIMEOUT", 3*time.Second),
		WSSendBuffer:      GetEnvInt("WS_SEND_BUFFER", 16),
		BroadcastDebounce: GetEnvDuration("BROADCAST_DEBOUNCE", 50*time.Millisecond),
	}
}

func (s Settings) Validate() error {
	if s.DBDriver != "mysql" && s.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER harus mysql atau sqlite, dapat %q", s.DBDriver)
	}
	if s.AvailabilityDefault != "allow" && s.AvailabilityDefault != "deny" {
		return fmt.Errorf("AVAILABILITY_DEFAULT harus allow atau deny, dapat %q", s.AvailabilityDefault)
	}
	if s.MaxAppointmentsPerDay <= 0 {
		return fmt.Errorf("MAX_APPOINTMENTS_PER_DOCTOR_PER_DAY harus > 0")
	}
	if s.StoreRetryAttempts <= 0 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS harus > 0")
	}
	if s.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER harus > 0")
	}
	return nil
}

// DefaultAvailable is the policy applied when no availability record exists.
func (s Settings) DefaultAvailable() bool {
	return s.AvailabilityDefault != "deny"
}

func (s Settings) Addr() string {
	return s.AppHost + ":" + s.AppPort
}
