package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port     int
	LogLevel string

	FeishuAppID             string
	FeishuAppSecret         string
	FeishuVerificationToken string
	FeishuDefaultChatID     string

	DashscopeAPIKey string
	QwenModel       string
	QwenAPIMode     string

	RequestTimeoutSeconds int
	MaxRetries            int

	StorageDriver string
	CSVPath       string
	DatabaseURL   string

	OKRSource         string
	OKRCachePath      string
	OKRIDs            []string
	OKROwnerOverrides map[string]string

	NatsURL   string
	NatsToken string

	ReportRules         []ReportRule
	ReportSyncEnabled   bool
	ReportSyncTime      string
	ReportLookbackHours int
	ReportStatePath     string
}

// ReportRule binds a platform report rule id to the period its
// submissions cover.
type ReportRule struct {
	RuleID string
	Period string
}

// compatibleOnlyModels only speak the chat completions protocol, so a
// configured legacy mode is overridden for them.
var compatibleOnlyModels = map[string]bool{
	"qwen-plus":  true,
	"qwen-long":  true,
	"qwen-turbo": true,
}

func Load() Config {
	cfg := Config{
		Port:     envInt("HERALD_PORT", 8080),
		LogLevel: envStr("LOG_LEVEL", "info"),

		FeishuAppID:             envStr("FEISHU_APP_ID", ""),
		FeishuAppSecret:         envStr("FEISHU_APP_SECRET", ""),
		FeishuVerificationToken: envStr("FEISHU_VERIFICATION_TOKEN", ""),
		FeishuDefaultChatID:     envStr("FEISHU_DEFAULT_CHAT_ID", ""),

		DashscopeAPIKey: envStr("DASHSCOPE_API_KEY", ""),
		QwenModel:       envStr("QWEN_MODEL", "qwen-max"),
		QwenAPIMode:     envStr("QWEN_API_MODE", "text"),

		RequestTimeoutSeconds: envInt("REQUEST_TIMEOUT_SECONDS", 10),
		MaxRetries:            envInt("MAX_RETRIES", 2),

		StorageDriver: envStr("STORAGE_DRIVER", "csv"),
		CSVPath:       envStr("CSV_PATH", "data/reports.csv"),
		DatabaseURL:   envStr("DATABASE_URL", ""),

		OKRSource:         envStr("OKR_SOURCE", "cache"),
		OKRCachePath:      envStr("OKR_CACHE_PATH", "data/okr_cache.json"),
		OKRIDs:            parseList(envStr("FEISHU_OKR_IDS", "")),
		OKROwnerOverrides: parseOwnerOverrides(envStr("FEISHU_OKR_OWNER_OVERRIDES", "")),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		ReportRules:         parseReportRules(envStr("REPORT_RULES", "")),
		ReportSyncEnabled:   envBool("REPORT_SYNC_ENABLED", false),
		ReportSyncTime:      envStr("REPORT_SYNC_TIME", "02:00"),
		ReportLookbackHours: envInt("REPORT_LOOKBACK_HOURS", 24),
		ReportStatePath:     envStr("REPORT_STATE_PATH", "data/report_sync_state.json"),
	}

	if compatibleOnlyModels[cfg.QwenModel] {
		cfg.QwenAPIMode = "compatible"
	}
	return cfg
}

// parseReportRules parses "rule_id:period;rule_id:period". Entries
// without a period default to weekly; blank entries are skipped.
func parseReportRules(raw string) []ReportRule {
	var rules []ReportRule
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ruleID, periodType, found := strings.Cut(entry, ":")
		ruleID = strings.TrimSpace(ruleID)
		if ruleID == "" {
			continue
		}
		periodType = strings.ToLower(strings.TrimSpace(periodType))
		if !found || periodType == "" {
			periodType = "weekly"
		}
		rules = append(rules, ReportRule{RuleID: ruleID, Period: periodType})
	}
	return rules
}

// parseList splits a comma-separated list, dropping blank entries.
func parseList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseOwnerOverrides parses "okr_id:user_id;okr_id:user_id" into a
// fallback-owner map. Entries missing either side are skipped.
func parseOwnerOverrides(raw string) map[string]string {
	overrides := make(map[string]string)
	for _, entry := range strings.Split(raw, ";") {
		okrID, userID, found := strings.Cut(entry, ":")
		if !found {
			continue
		}
		okrID = strings.TrimSpace(okrID)
		userID = strings.TrimSpace(userID)
		if okrID != "" && userID != "" {
			overrides[okrID] = userID
		}
	}
	return overrides
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
