package util

import (
	"os"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"github.com/joho/godotenv"
)

func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

func GetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}

func GetEnvString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	return value
}

func GetEnvNumeric(key string, defaultValue int) float64 {
	return GetEnvFloat(key, float64(defaultValue))
}

// GetEnvFloat parses key as a float, falling back to defaultValue when it is
// unset or invalid. Used for thresholds such as GROUNDING_THRESHOLD.
func GetEnvFloat(key string, defaultValue float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	returnValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return returnValue
}

// GetEnvMinutes reads a number of minutes, e.g. AI_TIMEOUT_MIN.
func GetEnvMinutes(key string, defaultValue int) time.Duration {
	return time.Duration(GetEnvNumeric(key, defaultValue) * float64(time.Minute))
}

func GetEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	if value == "true" || value == "false" {
		return value == "true"
	}

	return defaultValue
}
