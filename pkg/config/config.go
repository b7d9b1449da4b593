package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	API     APIConfig
	Session SessionConfig
	Geo     GeoConfig
	CheckIn CheckInConfig
	Wizard  WizardConfig
	Flows   FlowsConfig
	NATS    NATSConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// APIConfig points at the upstream platform API. A zero Timeout keeps the
// transport defaults.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SessionConfig struct {
	Store         string // memory, file or redis
	FilePath      string
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

type GeoConfig struct {
	Timeout time.Duration
	// Static reading used by the dev provider when set.
	StaticEnabled  bool
	StaticLat      float64
	StaticLng      float64
	StaticAccuracy float64
}

type CheckInConfig struct {
	MaxAccuracyMeters float64
}

type WizardConfig struct {
	RedirectDelay time.Duration
}

type FlowsConfig struct {
	IdleTTL time.Duration
}

type NATSConfig struct {
	URL string
}

func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000/api"), "/"),
			Timeout: getDuration("API_TIMEOUT", 0),
		},
		Session: SessionConfig{
			Store:         getEnv("SESSION_STORE", "memory"),
			FilePath:      getEnv("SESSION_FILE", ".chapterhub/session.json"),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getInt("REDIS_DB", 0),
		},
		Geo: GeoConfig{
			Timeout:        getDuration("GEO_TIMEOUT", 15*time.Second),
			StaticEnabled:  getBool("GEO_STATIC", false),
			StaticLat:      getFloat("GEO_STATIC_LAT", 0),
			StaticLng:      getFloat("GEO_STATIC_LNG", 0),
			StaticAccuracy: getFloat("GEO_STATIC_ACCURACY", 10),
		},
		CheckIn: CheckInConfig{
			MaxAccuracyMeters: getFloat("CHECKIN_MAX_ACCURACY_METERS", 500),
		},
		Wizard: WizardConfig{
			RedirectDelay: getDuration("REGISTRATION_REDIRECT_DELAY", 3*time.Second),
		},
		Flows: FlowsConfig{
			IdleTTL: getDuration("FLOW_IDLE_TTL", 30*time.Minute),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	out := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
