package env

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Keys the agent reads from the environment. Values are bound into the config by viper;
// this package only makes sure a local .env file is loaded first.
var knownKeys = []string{
	"APP_ENV",
	"PORT",
	"LOG_LEVEL",
	"DATABASE_URL",
	"API_KEY",
	"COIN_FEED_URL",
	"SOCIAL_FEED_URL",
	"VERIFIER_URL",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_GROUP_ID",
	"SYSTEM_LOGS_CHAT_ID",
	"TRADE_RECIPIENT_CHAT_ID",
	"CONFIG_PATH",
}

var hiddenKeys = map[string]bool{
	"DATABASE_URL":       true,
	"API_KEY":            true,
	"TELEGRAM_BOT_TOKEN": true,
}

// LoadEnv loads .env files (default ".env") into the process environment without
// overriding variables that are already set, then logs which known keys are present.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("INFO: .env file not found or error loading, relying on system environment variables.")
	} else {
		log.Println("INFO: .env file loaded successfully.")
	}

	for _, key := range knownKeys {
		value, ok := os.LookupEnv(key)
		switch {
		case !ok || value == "":
			log.Printf("INFO: Environment variable %s is not set.", key)
		case hiddenKeys[key]:
			log.Printf("INFO: Loaded %s (value hidden)", key)
		default:
			log.Printf("INFO: Loaded %s = %s", key, value)
		}
	}
}

// GetEnv fetches environment variables with a fallback default
func GetEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
