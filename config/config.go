package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string
	LogMode string

	CORSOrigins []string

	JWTSecret            string
	JWTExpiryMin         int
	OperatorID           string
	OperatorPasswordHash string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	PersistenceBackend string
	PersistInterval    time.Duration
	StateProfile       string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3Prefix    string

	HistoryCapacity    int
	DiagnosticCapacity int
	AutoRegister       bool
	DialRateLimit      int

	SIPIdentity    string
	SIPServer      string
	SIPDisplayName string

	SimSeed                    int64
	SimRegistrationFailureRate float64
}

// Persistence backends for durable phone state.
const (
	PersistenceMemory   = "memory"
	PersistenceRedis    = "redis"
	PersistencePostgres = "postgres"
)

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppMode: getEnv("APP_MODE", "debug"),
		LogMode: getEnv("LOG_MODE", "development"),

		CORSOrigins: getEnvAsList("CORS_ORIGINS"),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTExpiryMin:         getEnvAsInt("JWT_EXPIRY_MIN", 480),
		OperatorID:           getEnv("OPERATOR_ID", "front-desk"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		PersistenceBackend: getEnv("PERSISTENCE_BACKEND", PersistenceMemory),
		PersistInterval:    getEnvAsDuration("PERSIST_INTERVAL", 2*time.Second),
		StateProfile:       getEnv("STATE_PROFILE", "default"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "clinic_phone"),
		DBPort:     getEnv("DB_PORT", "5432"),

		S3Region:    getEnv("S3_REGION", ""),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Prefix:    getEnv("S3_PREFIX", "phone-archives"),

		HistoryCapacity:    getEnvAsInt("HISTORY_CAPACITY", 100),
		DiagnosticCapacity: getEnvAsInt("DIAGNOSTIC_CAPACITY", 500),
		AutoRegister:       getEnvAsBool("AUTO_REGISTER", true),
		DialRateLimit:      getEnvAsInt("DIAL_RATE_LIMIT", 30),

		SIPIdentity:    getEnv("SIP_IDENTITY", "1001"),
		SIPServer:      getEnv("SIP_SERVER", "sip.simulated.local"),
		SIPDisplayName: getEnv("SIP_DISPLAY_NAME", "Front Desk"),

		SimSeed:                    int64(getEnvAsInt("SIM_SEED", 0)),
		SimRegistrationFailureRate: getEnvAsFloat("SIM_REGISTRATION_FAILURE_RATE", 0.10),
	}
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// S3Enabled reports whether archive uploads are configured.
func (c *Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

// AuthEnabled reports whether operator login is required on the phone API.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" && c.OperatorPasswordHash != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
