package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// CRM (HighLevel) API
	CRMBaseURL       string
	CRMLegacyBaseURL string
	CRMAPIKey        string
	CRMLocationID    string

	// Calendar rosters, JSON maps of display name -> calendar id. Iteration
	// order for tie-breaks comes from the JSON document order, so the maps
	// are decoded into ordered rosters by the scheduling package.
	ArtistCalendarsJSON      string
	InterpreterCalendarsJSON string

	// Free-slot queries
	SlotRangeCapDays  int
	SearchWindowDays  int
	SlotsPerReply     int
	WorkloadWindow    string // "day" or "week"
	ConsultDurationMins int

	// Hold lifecycle
	HoldMinutes        int
	HoldWarningMinutes int
	HoldSweepInterval  time.Duration

	// Inbound debouncing
	DebounceWindow time.Duration
	DebounceStore  string // "memory" or "redis"
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool

	// Pipeline, JSON map of stage name -> CRM pipeline stage id. Empty means
	// stage names double as stage ids (local/dev pipelines).
	PipelineStagesJSON  string
	OpportunityNameTmpl string

	// Deposit / payments
	DepositAmountCents int
	PaymentBaseURL     string
	PaymentAccessToken string

	// Async work queue
	UseMemoryQueue bool
	WorkerCount    int
	SyncQueueURL   string

	// AWS / LLM
	AWSRegion           string
	AWSEndpointOverride string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	// Event log (optional)
	DatabaseURL string

	// Staff alerts (optional). Email provider is picked by which keys are
	// set: SendGrid wins over SES when both are present.
	StudioName       string
	NotifyRecipients string // comma separated
	NotifyFromEmail  string
	SendGridAPIKey   string
	SESEnabled       bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		CRMBaseURL:       getEnv("CRM_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMLegacyBaseURL: getEnv("CRM_LEGACY_BASE_URL", "https://rest.gohighlevel.com/v1"),
		CRMAPIKey:        getEnv("CRM_API_KEY", ""),
		CRMLocationID:    getEnv("CRM_LOCATION_ID", ""),

		ArtistCalendarsJSON:      getEnv("ARTIST_CALENDARS_JSON", ""),
		InterpreterCalendarsJSON: getEnv("INTERPRETER_CALENDARS_JSON", ""),

		SlotRangeCapDays:    getEnvAsInt("SLOT_RANGE_CAP_DAYS", 31),
		SearchWindowDays:    getEnvAsInt("SEARCH_WINDOW_DAYS", 14),
		SlotsPerReply:       getEnvAsInt("SLOTS_PER_REPLY", 3),
		WorkloadWindow:      strings.ToLower(strings.TrimSpace(getEnv("WORKLOAD_WINDOW", "day"))),
		ConsultDurationMins: getEnvAsInt("CONSULT_DURATION_MINS", 30),

		HoldMinutes:        getEnvAsInt("HOLD_MINUTES", 15),
		HoldWarningMinutes: getEnvAsInt("HOLD_WARNING_MINUTES", 5),
		HoldSweepInterval:  getEnvAsDuration("HOLD_SWEEP_INTERVAL", time.Minute),

		DebounceWindow: getEnvAsDuration("DEBOUNCE_WINDOW", 15*time.Second),
		DebounceStore:  strings.ToLower(strings.TrimSpace(getEnv("DEBOUNCE_STORE", "memory"))),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),

		PipelineStagesJSON:  getEnv("PIPELINE_STAGES_JSON", ""),
		OpportunityNameTmpl: getEnv("OPPORTUNITY_NAME_TEMPLATE", "Tattoo consultation"),

		DepositAmountCents: getEnvAsInt("DEPOSIT_AMOUNT_CENTS", 10000),
		PaymentBaseURL:     getEnv("PAYMENT_BASE_URL", "https://connect.squareup.com"),
		PaymentAccessToken: getEnv("PAYMENT_ACCESS_TOKEN", ""),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		SyncQueueURL:   getEnv("SYNC_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		StudioName:       getEnv("STUDIO_NAME", "InkFlow"),
		NotifyRecipients: getEnv("NOTIFY_RECIPIENTS", ""),
		NotifyFromEmail:  getEnv("NOTIFY_FROM_EMAIL", ""),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SESEnabled:       getEnvAsBool("SES_ENABLED", false),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
