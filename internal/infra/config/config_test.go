package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"telegram-terminal/internal/infra/dispatch"
)

// envKeys — все переменные, которые читает loadConfig. godotenv.Load пишет
// прямо в окружение процесса и не перетирает уже установленные ключи, поэтому
// перед каждой загрузкой окружение надо чистить.
var envKeys = []string{
	"API_ID", "API_HASH", "PHONE_NUMBER",
	"SESSION_FILE", "STATE_FILE", "PEERS_CACHE_FILE",
	"LOG_LEVEL", "THROTTLE_RPS", "TEST_DC", "DIALOGS_LIMIT",
	"RETRY_MAX_ATTEMPTS", "RETRY_MAX_TOTAL_WAIT_SEC", "RETRY_BASE_BACKOFF_MS", "RETRY_JITTER",
	"LOG_FILE", "LOG_FILE_LEVEL", "LOG_FILE_MAX_SIZE_MB",
	"LOG_FILE_MAX_BACKUPS", "LOG_FILE_MAX_AGE_DAYS", "LOG_FILE_COMPRESS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

// writeEnvFile создает временный .env с заданным содержимым.
func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	return path
}

func TestLoadConfigRequiredFields(t *testing.T) {
	// Без API_ID/API_HASH/PHONE_NUMBER загрузка должна падать.
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing api id", content: "API_HASH=abc\nPHONE_NUMBER=+10000000000\n"},
		{name: "missing api hash", content: "API_ID=12345\nPHONE_NUMBER=+10000000000\n"},
		{name: "missing phone", content: "API_ID=12345\nAPI_HASH=abc\n"},
		{name: "api id not a number", content: "API_ID=oops\nAPI_HASH=abc\nPHONE_NUMBER=+10000000000\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			path := writeEnvFile(t, tc.content)
			if _, err := loadConfig(path); err == nil {
				t.Fatalf("loadConfig() = nil, want error")
			}
		})
	}
}

func TestLoadConfigDefaultsAndWarnings(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "API_ID=12345\nAPI_HASH=abc\nPHONE_NUMBER=+10000000000\n")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}

	env := cfg.Env
	if env.APIID != 12345 || env.APIHash != "abc" || env.PhoneNumber != "+10000000000" {
		t.Fatalf("required fields mismatch: %+v", env)
	}
	if env.SessionFile != defaultSessionFile {
		t.Errorf("SessionFile = %q, want %q", env.SessionFile, defaultSessionFile)
	}
	if env.ThrottleRPS != defaultThrottleRPS {
		t.Errorf("ThrottleRPS = %d, want %d", env.ThrottleRPS, defaultThrottleRPS)
	}
	if env.RetryMaxAttempts != defaultRetryMaxAttempts {
		t.Errorf("RetryMaxAttempts = %d, want %d", env.RetryMaxAttempts, defaultRetryMaxAttempts)
	}
	if !env.RetryJitter {
		t.Errorf("RetryJitter = false, want default true")
	}
	// Каждый подставленный дефолт обязан оставить предупреждение.
	if len(cfg.warnings) == 0 {
		t.Errorf("warnings are empty, want defaults reported")
	}
}

func TestLoadConfigRetryPolicy(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t,"API_ID=12345\nAPI_HASH=abc\nPHONE_NUMBER=+10000000000\n"+
		"RETRY_MAX_ATTEMPTS=5\nRETRY_MAX_TOTAL_WAIT_SEC=60\nRETRY_BASE_BACKOFF_MS=250\nRETRY_JITTER=false\n")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}

	got := cfg.Env.RetryPolicy()
	want := dispatch.Policy{
		MaxAttempts:  5,
		MaxTotalWait: 60 * time.Second,
		BaseBackoff:  250 * time.Millisecond,
		Jitter:       false,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RetryPolicy() = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("policy from env must validate: %v", err)
	}
}

func TestParseIntDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback int
		want     int
		warn     bool
	}{
		{name: "valid", value: "7", fallback: 3, want: 7},
		{name: "empty uses default", value: "", fallback: 3, want: 3, warn: true},
		{name: "garbage uses default", value: "seven", fallback: 3, want: 3, warn: true},
		{name: "constraint violation uses default", value: "-1", fallback: 3, want: 3, warn: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_PARSE_INT", tc.value)
			var warnings []string
			got := parseIntDefault("TEST_PARSE_INT", tc.fallback, greaterThanZero, &warnings)
			if got != tc.want {
				t.Errorf("parseIntDefault() = %d, want %d", got, tc.want)
			}
			if (len(warnings) > 0) != tc.warn {
				t.Errorf("warnings = %v, want warn=%v", warnings, tc.warn)
			}
		})
	}
}

func TestSanitizeLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "valid lowercased", value: "DEBUG", want: "debug"},
		{name: "empty uses default", value: "", want: defaultLogLevel},
		{name: "unknown uses default", value: "verbose", want: defaultLogLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var warnings []string
			got := sanitizeLogLevel("LOG_LEVEL", tc.value, defaultLogLevel, &warnings)
			if got != tc.want {
				t.Errorf("sanitizeLogLevel(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}
