package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	BackendURL       string // DSN Postgres бэкенда
	BackendAPIKey    string // публичный ключ, который клиенты передают в заголовке apikey
	JWTSecret        string
	Port             string
	WSPort           string
	AdminEmails      []string
	QueryStaleTime   time.Duration
	DatabaseConfig   DatabaseConfig
	CloudinaryConfig CloudinaryConfig
	MailConfig       MailConfig
	AppEnv           string
}

// DatabaseConfig содержит настройки пула соединений
type DatabaseConfig struct {
	MaxConns int32
	MinConns int32
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadFolder string
}

// MailConfig содержит настройки SMTP для одноразовых кодов
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled сообщает, настроена ли отправка почты
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != ""
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	cfg := &Config{
		BackendURL:     getEnv("BACKEND_URL", ""),
		BackendAPIKey:  getEnv("BACKEND_API_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		Port:           getEnv("PORT", "8080"),
		WSPort:         getEnv("WS_PORT", "8081"),
		AdminEmails:    splitList(getEnv("ADMIN_EMAILS", "")),
		QueryStaleTime: getEnvAsDuration("QUERY_STALE_TIME", 5*time.Minute),
		DatabaseConfig: DatabaseConfig{
			MaxConns: int32(getEnvAsInt("PG_MAX_CONNS", 10)),
			MinConns: int32(getEnvAsInt("PG_MIN_CONNS", 2)),
		},
		CloudinaryConfig: CloudinaryConfig{
			CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
			APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
			UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "skillmates/avatars"),
		},
		MailConfig: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", ""),
		},
		AppEnv: getEnv("APP_ENV", "production"), // По умолчанию production
	}

	// Без адреса и ключа бэкенда работа невозможна: деградированного режима нет
	if cfg.BackendURL == "" || cfg.BackendAPIKey == "" || cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не заданы BACKEND_URL, BACKEND_API_KEY или JWT_SECRET")
	}

	return cfg
}

// IsAdminEmail сообщает, входит ли адрес в список администраторов
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// RedactedBackendURL возвращает адрес бэкенда без пароля, для логов
func (c *Config) RedactedBackendURL() string {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
