package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"bidchat/pkg/errors"
)

type Config struct {
	BridgePort  string `validate:"required,numeric"`
	Environment string `validate:"oneof=development staging production"`

	ChatBackend string `validate:"oneof=rest firestore"`
	ChatAPIURL  string `validate:"required_if=ChatBackend rest"`
	ChatWSURL   string `validate:"required,url"`

	SessionToken    string `validate:"required"`
	SessionResolver string `validate:"oneof=jwt firebase"`

	FirebaseProject            string `validate:"required_if=ChatBackend firestore"`
	FirebaseServiceAccountPath string
	FirebaseServiceAccountJSON string

	ReconnectAttempts  int           `validate:"min=1"`
	ReconnectDelay     time.Duration `validate:"min=0s"`
	RoomRefreshEvery   time.Duration `validate:"min=1s"`
	MarkReadDelay      time.Duration `validate:"min=0s"`
	MessageWindowLimit int           `validate:"min=1,max=500"`
	HTTPTimeout        time.Duration `validate:"min=1s"`
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		BridgePort:  getEnv("BRIDGE_PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		ChatBackend: getEnv("CHAT_BACKEND", "rest"),
		ChatAPIURL:  getEnv("CHAT_API_URL", "http://localhost:8080"),
		ChatWSURL:   getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),

		SessionToken:    getEnv("SESSION_TOKEN", ""),
		SessionResolver: getEnv("SESSION_RESOLVER", "jwt"),

		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		ReconnectAttempts:  int(getEnvAsInt64("RECONNECT_ATTEMPTS", 5)),
		ReconnectDelay:     time.Duration(getEnvAsInt64("RECONNECT_DELAY_MS", 1000)) * time.Millisecond,
		RoomRefreshEvery:   time.Duration(getEnvAsInt64("ROOM_REFRESH_SECONDS", 30)) * time.Second,
		MarkReadDelay:      time.Duration(getEnvAsInt64("MARK_READ_DELAY_MS", 100)) * time.Millisecond,
		MessageWindowLimit: int(getEnvAsInt64("MESSAGE_WINDOW_LIMIT", 50)),
		HTTPTimeout:        time.Duration(getEnvAsInt64("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, errors.BadRequest("Invalid configuration", err)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
