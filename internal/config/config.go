package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultDeviceIMEI = "301434061119410"

// Mirror kinds accepted by MIRROR.
const (
	MirrorSQLite   = "sqlite"
	MirrorSnapshot = "snapshot"
	MirrorNone     = "none"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// LogFile, when set, receives a rotated copy of every log line.
	LogFile  string
	HTTPAddr string

	DeviceIMEI string

	Mirror         string
	SnapshotPath   string
	HistoryRestore bool

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

// LoadDotEnv loads path into the environment when it exists. Variables that
// are already set win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	appEnv := envOr("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	imei := envOr("DEVICE_IMEI", DefaultDeviceIMEI)
	if !isDigits(imei) {
		return Config{}, fmt.Errorf("invalid DEVICE_IMEI %q (expected digits)", imei)
	}

	mirror := strings.ToLower(envOr("MIRROR", MirrorSQLite))
	switch mirror {
	case MirrorSQLite, MirrorSnapshot, MirrorNone:
	default:
		return Config{}, fmt.Errorf("invalid MIRROR %q (allowed: sqlite, snapshot, none)", mirror)
	}

	historyRestore, err := parseBool("HISTORY_RESTORE", "true")
	if err != nil {
		return Config{}, err
	}

	maxOpenConns, err := parseInt("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := parseInt("DB_MAX_IDLE_CONNS", "1")
	if err != nil {
		return Config{}, err
	}

	connMaxLifetimeStr := envOr("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	logSQL, err := parseBool("DB_LOG_SQL", "false")
	if err != nil {
		return Config{}, err
	}

	mqttEnabled, err := parseBool("MQTT_ENABLED", "false")
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := parseInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (must be 1-65535)", mqttPort)
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		LogFile:         strings.TrimSpace(os.Getenv("LOG_FILE")),
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		DeviceIMEI:      imei,
		Mirror:          mirror,
		SnapshotPath:    envOr("SNAPSHOT_PATH", "data/history.json"),
		HistoryRestore:  historyRestore,
		Driver:          envOr("DB_DRIVER", "sqlite3"),
		DSN:             strings.TrimSpace(os.Getenv("DB_DSN")),
		Path:            envOr("SQLITE_PATH", "data/telemetry.db"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		LogSQL:          logSQL,
		MQTTEnabled:     mqttEnabled,
		MQTTBroker:      envOr("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    envOr("MQTT_CLIENT_ID", "anemometer-server"),
		MQTTTopicPrefix: strings.Trim(envOr("MQTT_TOPIC_PREFIX", "anemometer"), "/"),
	}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(key, def string) (int, error) {
	s := envOr(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	s := envOr(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
