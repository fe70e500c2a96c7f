package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in provider identifiers.
const (
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
)

// Task store backends.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

// ProviderConfig describes one OpenAI-compatible vision backend.
type ProviderConfig struct {
	Name         string  `yaml:"name"`
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	JSONMode     bool    `yaml:"json_mode"`     // request response_format=json_object
	SystemPrompt string  `yaml:"system_prompt"` // optional system message
}

// Configured reports whether the provider can be called. Local endpoints
// do not need an API key.
func (p ProviderConfig) Configured() bool {
	if p.Model == "" || p.BaseURL == "" {
		return false
	}
	return p.APIKey != "" || IsLocalEndpoint(p.BaseURL)
}

// Config holds all configuration values.
type Config struct {
	// Server
	Host string
	Port int

	// Logging
	DevMode  bool
	LogLevel string
	LogFile  string

	// Directories
	DataDir     string
	UploadDir   string
	OutputDir   string
	MinFreeDisk int64 // startup check on the output volume

	// Uploads and rendering
	MaxFileSize  int64
	RenderDPI    int
	MaxImageSide int // page images larger than this are downscaled before upload; 0 disables

	// Task store
	TaskStore    string
	SQLitePath   string
	SnapshotPath string

	// Pipeline
	BatchSize   int
	BatchPause  time.Duration
	WorkerCount int
	QueueSize   int

	// Vision calls
	MaxRetries   int
	RetryMinWait time.Duration
	RetryMaxWait time.Duration
	APITimeout   time.Duration

	Providers       map[string]ProviderConfig
	DefaultProvider string
	ProvidersFile   string

	// Lifecycle
	CleanupOnShutdown time.Duration // 0 disables the shutdown cleanup
	ShutdownTimeout   time.Duration
}

// providersFile is the YAML layout of PROVIDERS_FILE.
type providersFile struct {
	DefaultProvider string           `yaml:"default_provider"`
	Providers       []ProviderConfig `yaml:"providers"`
}

// LoadConfig loads configuration from environment variables with defaults
// suitable for a single-node deployment. Only a vision provider key is
// required to do useful work; everything else has a default.
func LoadConfig() (*Config, error) {
	dataDir := GetEnvOrDefault("DATA_DIR", "data")

	cfg := &Config{
		Host:     GetEnvOrDefault("HOST", "0.0.0.0"),
		Port:     ParseIntEnv("PORT", 8000),
		DevMode:  ParseBoolEnv("DEV_MODE", false),
		LogLevel: GetEnvOrDefault("LOG_LEVEL", ""),
		LogFile:  GetEnvOrDefault("LOG_FILE", "insightpdf.log"),

		DataDir:   dataDir,
		UploadDir: GetEnvOrDefault("UPLOAD_DIR", "uploads"),
		OutputDir: GetEnvOrDefault("OUTPUT_DIR", "outputs"),

		// 50MB default handles scanned workbooks without inviting abuse
		MaxFileSize:  ParseInt64Env("MAX_FILE_SIZE_MB", 50) * BytesPerMB,
		RenderDPI:    ParseIntEnv("RENDER_DPI", 150),
		MaxImageSide: ParseIntEnv("MAX_IMAGE_SIDE", 2048),

		TaskStore:    strings.ToLower(GetEnvOrDefault("TASK_STORE", StoreSQLite)),
		SQLitePath:   GetEnvOrDefault("SQLITE_PATH", filepath.Join(dataDir, "tasks.db")),
		SnapshotPath: GetEnvOrDefault("SNAPSHOT_PATH", filepath.Join(dataDir, "tasks.json")),

		BatchSize:   ParseIntEnv("BATCH_SIZE", 10),
		BatchPause:  ParseMillisEnv("BATCH_PAUSE_MS", 1000),
		WorkerCount: ParseIntEnv("WORKER_COUNT", 2),
		QueueSize:   ParseIntEnv("QUEUE_SIZE", 64),

		MaxRetries:   ParseIntEnv("MAX_RETRIES", 3),
		RetryMinWait: ParseDurationEnv("RETRY_MIN_WAIT", 4),
		RetryMaxWait: ParseDurationEnv("RETRY_MAX_WAIT", 10),
		APITimeout:   ParseDurationEnv("API_TIMEOUT", 300),

		ProvidersFile: os.Getenv("PROVIDERS_FILE"),

		CleanupOnShutdown: time.Duration(ParseIntEnv("CLEANUP_ON_SHUTDOWN_HOURS", 24)) * time.Hour,
		ShutdownTimeout:   ParseDurationEnv("SHUTDOWN_TIMEOUT", 60),
	}

	minFree := GetEnvOrDefault("MIN_FREE_DISK", "500MB")
	minFreeBytes, err := ParseBytes(minFree)
	if err != nil {
		return nil, ErrInvalidValue("MIN_FREE_DISK", minFree, err.Error())
	}
	cfg.MinFreeDisk = minFreeBytes

	cfg.Providers = defaultProviders()

	defaultProvider := os.Getenv("DEFAULT_PROVIDER")
	if cfg.ProvidersFile != "" {
		fileDefault, err := mergeProvidersFile(cfg.Providers, cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		if defaultProvider == "" {
			defaultProvider = fileDefault
		}
	}
	cfg.DefaultProvider = defaultProvider
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = firstConfiguredProvider(cfg.Providers)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultProviders returns the built-in OpenAI and Qwen (DashScope compatible
// mode) providers populated from the environment.
func defaultProviders() map[string]ProviderConfig {
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		openAIKey = os.Getenv("OPENAI_KEY") // legacy name
	}

	return map[string]ProviderConfig{
		ProviderOpenAI: {
			Name:        ProviderOpenAI,
			APIKey:      openAIKey,
			BaseURL:     GetEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       GetEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
			Temperature: 0.1,
			MaxTokens:   ParseIntEnv("OPENAI_MAX_TOKENS", 4000),
		},
		ProviderQwen: {
			Name:         ProviderQwen,
			APIKey:       os.Getenv("QWEN_API_KEY"),
			BaseURL:      GetEnvOrDefault("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			Model:        GetEnvOrDefault("QWEN_MODEL", "qwen-vl-max"),
			Temperature:  0,
			MaxTokens:    ParseIntEnv("QWEN_MAX_TOKENS", 4000),
			JSONMode:     true,
			SystemPrompt: "你是一个专业的中文应用题识别专家。请始终用中文回答，并严格按照JSON格式返回结果。",
		},
	}
}

// mergeProvidersFile overlays providers declared in a YAML file. Entries with
// a built-in name override only the fields they set.
func mergeProvidersFile(providers map[string]ProviderConfig, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ErrProvidersFile(path, err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", ErrProvidersFile(path, err)
	}

	for i, p := range file.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return "", ErrProvidersFile(path, fmt.Errorf("provider #%d has no name", i+1))
		}
		p.Name = name
		if existing, ok := providers[name]; ok {
			p = overlayProvider(existing, p)
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 4000
		}
		providers[name] = p
	}

	return strings.ToLower(file.DefaultProvider), nil
}

func overlayProvider(base, over ProviderConfig) ProviderConfig {
	if over.APIKey != "" {
		base.APIKey = over.APIKey
	}
	if over.BaseURL != "" {
		base.BaseURL = over.BaseURL
	}
	if over.Model != "" {
		base.Model = over.Model
	}
	if over.Temperature != 0 {
		base.Temperature = over.Temperature
	}
	if over.MaxTokens != 0 {
		base.MaxTokens = over.MaxTokens
	}
	if over.JSONMode {
		base.JSONMode = true
	}
	if over.SystemPrompt != "" {
		base.SystemPrompt = over.SystemPrompt
	}
	return base
}

func firstConfiguredProvider(providers map[string]ProviderConfig) string {
	// Built-ins first so the choice is stable across runs.
	for _, name := range []string{ProviderOpenAI, ProviderQwen} {
		if p, ok := providers[name]; ok && p.Configured() {
			return name
		}
	}
	for _, name := range ProviderNames(providers) {
		if providers[name].Configured() {
			return name
		}
	}
	return ProviderOpenAI
}

// ProviderNames returns the sorted provider names.
func ProviderNames(providers map[string]ProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks value ranges. Missing provider credentials are not an error
// here; the startup validation suite reports them.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidValue("PORT", c.Port, "must be between 1 and 65535")
	}
	if c.MaxFileSize <= 0 {
		return ErrInvalidValue("MAX_FILE_SIZE_MB", c.MaxFileSize/BytesPerMB, "must be positive")
	}
	if c.RenderDPI < 36 || c.RenderDPI > 600 {
		return ErrInvalidValue("RENDER_DPI", c.RenderDPI, "must be between 36 and 600")
	}
	if c.MaxImageSide < 0 {
		return ErrInvalidValue("MAX_IMAGE_SIDE", c.MaxImageSide, "must not be negative")
	}
	if c.TaskStore != StoreSQLite && c.TaskStore != StoreJSON {
		return ErrInvalidStore(c.TaskStore)
	}
	if c.BatchSize < 1 {
		return ErrInvalidValue("BATCH_SIZE", c.BatchSize, "must be at least 1")
	}
	if c.BatchPause < 0 {
		return ErrInvalidValue("BATCH_PAUSE_MS", c.BatchPause, "must not be negative")
	}
	if c.WorkerCount < 1 {
		return ErrInvalidValue("WORKER_COUNT", c.WorkerCount, "must be at least 1")
	}
	if c.QueueSize < 1 {
		return ErrInvalidValue("QUEUE_SIZE", c.QueueSize, "must be at least 1")
	}
	if c.MaxRetries < 1 {
		return ErrInvalidValue("MAX_RETRIES", c.MaxRetries, "must be at least 1")
	}
	if c.RetryMaxWait < c.RetryMinWait {
		return ErrInvalidValue("RETRY_MAX_WAIT", c.RetryMaxWait, "must not be below RETRY_MIN_WAIT")
	}
	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return ErrUnknownProvider(c.DefaultProvider)
	}
	return nil
}

// ConfiguredProviders returns the names of providers that can be called.
func (c *Config) ConfiguredProviders() []string {
	var names []string
	for _, name := range ProviderNames(c.Providers) {
		if c.Providers[name].Configured() {
			names = append(names, name)
		}
	}
	return names
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempImageDir returns the directory holding rendered pages for a task.
func (c *Config) TempImageDir(taskID string) string {
	return filepath.Join(c.UploadDir, "temp", taskID)
}

// IsLocalEndpoint reports whether a base URL points at the local machine.
func IsLocalEndpoint(url string) bool {
	lower := strings.ToLower(url)
	for _, pattern := range []string{"127.0.0.1", "localhost", "0.0.0.0", "[::1]"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
