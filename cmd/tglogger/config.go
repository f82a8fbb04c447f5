package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"tglogger/internal/driver/telegram"
)

const (
	envConfigFile         = "TGLOGGER_CONFIG_FILE"
	envDotEnvFile         = "TGLOGGER_ENV_FILE"
	defaultConfigFilePath = "config/tglogger.json"
	defaultDotEnvFilePath = ".env"

	defaultSessionName  = "tglogger"
	defaultSessionDir   = ".cache/telegram"
	defaultLogDir       = "logs"
	defaultLogFileMode  = "0644"
	defaultDCID         = "2"
	defaultDCIP         = "149.154.167.50"
	defaultDCPort       = "443"
	defaultLogLevel     = "info"
	defaultAuthTimeout  = "3m"
	defaultUpdateBuffer = "1024"

	apiHashLength  = 32
	minPhoneLength = 9
)

// ValidationError lists every configuration problem found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("configuration validation failed:")
	for _, problem := range e.Problems {
		builder.WriteString("\n  - ")
		builder.WriteString(problem)
	}

	return builder.String()
}

type appConfig struct {
	logLevel     slog.Level
	logDir       string
	logFileMode  os.FileMode
	allowedChats []int64
	metricsAddr  string
	telegram     telegram.RuntimeConfig
}

// rawConfig holds unparsed settings so every layer overrides by key and
// every value is validated once, after all layers are applied.
type rawConfig struct {
	APIID          string `env:"API_ID"`
	APIHash        string `env:"API_HASH"`
	PhoneNumber    string `env:"PHONE_NUMBER"`
	Password       string `env:"TG_PASSWORD"`
	Code           string `env:"TG_CODE"`
	SessionName    string `env:"SESSION_NAME"`
	SessionDir     string `env:"SESSION_DIR"`
	LogDir         string `env:"LOG_DIR"`
	LogFileMode    string `env:"LOG_FILE_MODE"`
	AllowedChatIDs string `env:"ALLOWED_CHAT_IDS"`
	DCID           string `env:"DC_ID"`
	DCIP           string `env:"DC_IP"`
	DCPort         string `env:"DC_PORT"`
	LogLevel       string `env:"LOG_LEVEL"`
	MetricsAddr    string `env:"METRICS_ADDR"`
	AuthTimeout    string `env:"AUTH_TIMEOUT"`
	UpdateBuffer   string `env:"UPDATE_BUFFER"`
}

type fileConfig struct {
	APIID          *int    `json:"api_id"`
	APIHash        *string `json:"api_hash"`
	PhoneNumber    *string `json:"phone_number"`
	Password       *string `json:"password"`
	Code           *string `json:"code"`
	SessionName    *string `json:"session_name"`
	SessionDir     *string `json:"session_dir"`
	LogDir         *string `json:"log_dir"`
	LogFileMode    *string `json:"log_file_mode"`
	AllowedChatIDs []int64 `json:"allowed_chat_ids"`
	DCID           *int    `json:"dc_id"`
	DCIP           *string `json:"dc_ip"`
	DCPort         *int    `json:"dc_port"`
	LogLevel       *string `json:"log_level"`
	MetricsAddr    *string `json:"metrics_addr"`
	AuthTimeout    *string `json:"auth_timeout"`
	UpdateBuffer   *int    `json:"update_buffer"`
}

func defaultRawConfig() rawConfig {
	return rawConfig{
		SessionName:  defaultSessionName,
		SessionDir:   defaultSessionDir,
		LogDir:       defaultLogDir,
		LogFileMode:  defaultLogFileMode,
		DCID:         defaultDCID,
		DCIP:         defaultDCIP,
		DCPort:       defaultDCPort,
		LogLevel:     defaultLogLevel,
		AuthTimeout:  defaultAuthTimeout,
		UpdateBuffer: defaultUpdateBuffer,
	}
}

// loadEnvironment merges the optional dotenv file under the process
// environment. Variables already set in the process win.
func loadEnvironment(processEnv []string) (map[string]string, error) {
	environ := make(map[string]string, len(processEnv))
	for _, entry := range processEnv {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		environ[key] = value
	}

	path := strings.TrimSpace(environ[envDotEnvFile])
	explicit := path != ""
	if !explicit {
		path = defaultDotEnvFilePath
	}

	dotenv, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return environ, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	for key, value := range dotenv {
		if _, exists := environ[key]; !exists {
			environ[key] = value
		}
	}

	return environ, nil
}

func loadConfig(environ map[string]string) (appConfig, error) {
	raw := defaultRawConfig()

	configFile, err := resolveConfigFilePath(environ)
	if err != nil {
		return appConfig{}, err
	}
	if configFile != "" {
		if err := applyConfigFile(&raw, configFile); err != nil {
			return appConfig{}, err
		}
	}

	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return appConfig{}, fmt.Errorf("parse environment: %w", err)
	}

	return validateConfig(raw)
}

// resolveConfigFilePath returns the JSON config path, or empty when none is
// configured and the default file is absent.
func resolveConfigFilePath(environ map[string]string) (string, error) {
	if configFile := strings.TrimSpace(environ[envConfigFile]); configFile != "" {
		return configFile, nil
	}

	info, err := os.Stat(defaultConfigFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat config file %s: %w", defaultConfigFilePath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %s is a directory", defaultConfigFilePath)
	}

	return defaultConfigFilePath, nil
}

func applyConfigFile(raw *rawConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	overlayInt(&raw.APIID, parsed.APIID)
	overlayString(&raw.APIHash, parsed.APIHash)
	overlayString(&raw.PhoneNumber, parsed.PhoneNumber)
	overlayString(&raw.Password, parsed.Password)
	overlayString(&raw.Code, parsed.Code)
	overlayString(&raw.SessionName, parsed.SessionName)
	overlayString(&raw.SessionDir, parsed.SessionDir)
	overlayString(&raw.LogDir, parsed.LogDir)
	overlayString(&raw.LogFileMode, parsed.LogFileMode)
	overlayInt(&raw.DCID, parsed.DCID)
	overlayString(&raw.DCIP, parsed.DCIP)
	overlayInt(&raw.DCPort, parsed.DCPort)
	overlayString(&raw.LogLevel, parsed.LogLevel)
	overlayString(&raw.MetricsAddr, parsed.MetricsAddr)
	overlayString(&raw.AuthTimeout, parsed.AuthTimeout)
	overlayInt(&raw.UpdateBuffer, parsed.UpdateBuffer)
	if parsed.AllowedChatIDs != nil {
		ids := make([]string, 0, len(parsed.AllowedChatIDs))
		for _, id := range parsed.AllowedChatIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		raw.AllowedChatIDs = strings.Join(ids, ",")
	}

	return nil
}

func overlayString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func overlayInt(target *string, value *int) {
	if value != nil {
		*target = strconv.Itoa(*value)
	}
}

func validateConfig(raw rawConfig) (appConfig, error) {
	var problems []string
	problem := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	cfg := appConfig{
		telegram: telegram.RuntimeConfig{
			AppHash:  strings.TrimSpace(raw.APIHash),
			Phone:    strings.TrimSpace(raw.PhoneNumber),
			Password: strings.TrimSpace(raw.Password),
			Code:     strings.TrimSpace(raw.Code),
		},
	}

	if apiID := strings.TrimSpace(raw.APIID); apiID == "" {
		problem("API_ID is not set in environment variables")
	} else if parsed, err := strconv.Atoi(apiID); err != nil {
		problem("API_ID must be a valid integer")
	} else if parsed <= 0 {
		problem("API_ID must be a positive integer")
	} else {
		cfg.telegram.AppID = parsed
	}

	if cfg.telegram.AppHash == "" {
		problem("API_HASH is not set or is empty")
	} else if len(cfg.telegram.AppHash) != apiHashLength {
		problem("API_HASH must be %d characters long", apiHashLength)
	}

	switch phone := cfg.telegram.Phone; {
	case phone == "":
		problem("PHONE_NUMBER is not set or is empty")
	case !strings.HasPrefix(phone, "+"):
		problem("PHONE_NUMBER must start with '+' (e.g., +1234567890)")
	case len(phone) < minPhoneLength:
		problem("PHONE_NUMBER is too short")
	case !isDigits(phone[1:]):
		problem("PHONE_NUMBER must contain only digits after '+'")
	}

	sessionName := strings.TrimSpace(raw.SessionName)
	if sessionName == "" {
		problem("SESSION_NAME must not be empty")
	} else if strings.ContainsAny(sessionName, `/\`) {
		problem("SESSION_NAME must not contain path separators")
	}
	sessionDir := strings.TrimSpace(raw.SessionDir)
	if sessionDir == "" {
		sessionDir = defaultSessionDir
	}
	cfg.telegram.SessionFile = filepath.Join(sessionDir, sessionName+".session")

	cfg.logDir = strings.TrimSpace(raw.LogDir)
	if cfg.logDir == "" {
		problem("LOG_DIR must not be empty")
	}
	if mode, err := strconv.ParseUint(strings.TrimSpace(raw.LogFileMode), 8, 32); err != nil || mode == 0 || mode > 0o777 {
		problem("LOG_FILE_MODE must be octal permission bits such as 0644")
	} else {
		cfg.logFileMode = os.FileMode(mode)
	}

	for _, value := range strings.Split(raw.AllowedChatIDs, ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		chatID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			problem("ALLOWED_CHAT_IDS contains invalid value: %s (must be integer)", value)
			continue
		}
		cfg.allowedChats = append(cfg.allowedChats, chatID)
	}

	if dcID, err := strconv.Atoi(strings.TrimSpace(raw.DCID)); err != nil {
		problem("DC_ID must be a valid integer")
	} else if dcID < 1 || dcID > 5 {
		problem("DC_ID must be between 1 and 5")
	} else {
		cfg.telegram.DC.ID = dcID
	}
	if dcPort, err := strconv.Atoi(strings.TrimSpace(raw.DCPort)); err != nil {
		problem("DC_PORT must be a valid integer")
	} else if dcPort < 1 || dcPort > 65535 {
		problem("DC_PORT must be between 1 and 65535")
	} else {
		cfg.telegram.DC.Port = dcPort
	}
	dcIP := strings.TrimSpace(raw.DCIP)
	if dcIP == "" {
		problem("DC_IP is not set or is empty")
	} else if addr, err := netip.ParseAddr(dcIP); err != nil || !addr.Is4() {
		problem("DC_IP must be a valid IPv4 address")
	} else {
		cfg.telegram.DC.IP = dcIP
	}

	if level, err := parseLogLevel(raw.LogLevel); err != nil {
		problem("LOG_LEVEL %v", err)
	} else {
		cfg.logLevel = level
		cfg.telegram.Debug = level <= slog.LevelDebug
	}

	if addr := strings.TrimSpace(raw.MetricsAddr); addr != "" {
		if _, port, err := net.SplitHostPort(addr); err != nil {
			problem("METRICS_ADDR must be host:port")
		} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			problem("METRICS_ADDR port must be numeric")
		} else {
			cfg.metricsAddr = addr
		}
	}

	if timeout, err := time.ParseDuration(strings.TrimSpace(raw.AuthTimeout)); err != nil {
		problem("AUTH_TIMEOUT must be a duration such as 3m")
	} else if timeout <= 0 {
		problem("AUTH_TIMEOUT must be > 0")
	} else {
		cfg.telegram.AuthTimeout = timeout
	}

	if buffer, err := strconv.Atoi(strings.TrimSpace(raw.UpdateBuffer)); err != nil || buffer <= 0 {
		problem("UPDATE_BUFFER must be a positive integer")
	} else {
		cfg.telegram.UpdateBuffer = buffer
	}

	if len(problems) > 0 {
		return appConfig{}, &ValidationError{Problems: problems}
	}

	return cfg, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
