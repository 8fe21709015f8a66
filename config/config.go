package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

var (
	MAIN_ROUTES string
	APP_PORT    string
	JWTSecret   string

	DBDriver       string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// ReconciliationWindow is how long a reconciliation session stays open before it is considered stale.
	ReconciliationWindow time.Duration
	MaxSlotsPerBox       int
	SweepInterval        time.Duration

	RedisAddress  string
	RedisPassword string

	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	SMTPFrom         string
	ReportRecipients []string

	LogLevel      string
	SeedDemo      bool
	SnowflakeNode int

	allowedOrigins map[string]bool
)

func init() {
	setDefaults()
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}
	setDefaults()
}

func setDefaults() {
	MAIN_ROUTES = getEnv("MAIN_ROUTES", "/api/v1")
	APP_PORT = getEnv("APP_PORT", "9000")
	JWTSecret = getEnv("JWT_SECRET", "pawn_storage_secret")

	DBDriver = getEnv("DB_DRIVER", "mssql")
	DBHost = getEnv("DB_HOST", "localhost")
	DBPort = getEnv("DB_PORT", "1433")
	DBUser = getEnv("DB_USER", "golang")
	DBPassword = getEnv("DB_PASSWORD", "")
	DBName = getEnv("DB_NAME", "pawn_storage")
	DBMaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 20)
	DBMaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 5)

	ReconciliationWindow = time.Duration(getEnvAsInt("RECONCILIATION_WINDOW_MINUTES", 240)) * time.Minute
	MaxSlotsPerBox = getEnvAsInt("MAX_SLOTS_PER_BOX", 500)
	SweepInterval = time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second

	RedisAddress = getEnv("REDIS_ADDRESS", "")
	RedisPassword = getEnv("REDIS_PASSWORD", "")

	SMTPHost = getEnv("SMTP_HOST", "")
	SMTPPort = getEnvAsInt("SMTP_PORT", 587)
	SMTPUser = getEnv("SMTP_USER", "")
	SMTPPassword = getEnv("SMTP_PASSWORD", "")
	SMTPFrom = getEnv("SMTP_FROM", "no-reply@pawn-storage.local")
	ReportRecipients = splitList(getEnv("REPORT_RECIPIENTS", ""))

	LogLevel = getEnv("LOG_LEVEL", "info")
	SeedDemo = getEnvAsBool("SEED_DEMO", false)
	SnowflakeNode = getEnvAsInt("SNOWFLAKE_NODE", 1)

	loadAllowedOrigins()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadAllowedOrigins() {
	allowedOrigins = make(map[string]bool)
	origins := splitList(getEnv("ALLOWED_ORIGINS", ""))

	if len(origins) == 0 {
		allowedOrigins["http://127.0.0.1:3000"] = true
		return
	}
	for _, origin := range origins {
		allowedOrigins[origin] = true
	}
}

// SMTPEnabled reports whether outgoing mail is configured.
func SMTPEnabled() bool {
	return SMTPHost != "" && len(ReportRecipients) > 0
}

func SetupCORS(app *fiber.App) {
	app.Use(func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if allowedOrigins[origin] {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	})
}
