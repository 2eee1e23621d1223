package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once
// at process start and passed by reference into every component; no
// component reads ambient global state.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Sponsor  SponsorConfig  `yaml:"sponsor" mapstructure:"sponsor"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Signal   SignalConfig   `yaml:"signal" mapstructure:"signal"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig holds Companies House API settings.
type RegistryConfig struct {
	APIKey              string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	SearchTimeoutSecs   int    `yaml:"search_timeout_secs" mapstructure:"search_timeout_secs"`
	OfficersTimeoutSecs int    `yaml:"officers_timeout_secs" mapstructure:"officers_timeout_secs"`
	Retries             int    `yaml:"retries" mapstructure:"retries"`
}

// SponsorConfig configures the sponsor register feed and its row filters.
type SponsorConfig struct {
	PageURL          string   `yaml:"page_url" mapstructure:"page_url"`
	RouteAllowlist   []string `yaml:"route_allowlist" mapstructure:"route_allowlist"`
	MinNameLen       int      `yaml:"min_name_len" mapstructure:"min_name_len"`
	MaxNonAlnumRatio float64  `yaml:"max_non_alnum_ratio" mapstructure:"max_non_alnum_ratio"`
}

// SearchConfig holds search API settings for enrichment discovery.
type SearchConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Locale      string `yaml:"locale" mapstructure:"locale"`
	ResultCount int    `yaml:"result_count" mapstructure:"result_count"`
}

// MatchConfig configures identity resolution between sources.
type MatchConfig struct {
	MinScore      int `yaml:"min_score" mapstructure:"min_score"`           // 0..100 confidence gate
	LocalityBonus int `yaml:"locality_bonus" mapstructure:"locality_bonus"` // locality hint appears in snippet
	ActiveBonus   int `yaml:"active_bonus" mapstructure:"active_bonus"`     // candidate status is active
	PageSize      int `yaml:"page_size" mapstructure:"page_size"`
}

// SignalConfig holds the allow-lists and phrase lists used by signal
// extraction.
type SignalConfig struct {
	DomesticCountries     []string `yaml:"domestic_countries" mapstructure:"domestic_countries"`
	DomesticNationalities []string `yaml:"domestic_nationalities" mapstructure:"domestic_nationalities"`
	PriorityCountries     []string `yaml:"priority_countries" mapstructure:"priority_countries"`
	MailboxPhrases        []string `yaml:"mailbox_phrases" mapstructure:"mailbox_phrases"`
	SubsidiaryMarkers     []string `yaml:"subsidiary_markers" mapstructure:"subsidiary_markers"`
}

// ScoreConfig configures the scoring engine.
type ScoreConfig struct {
	HotThreshold    int            `yaml:"hot_threshold" mapstructure:"hot_threshold"`
	MediumThreshold int            `yaml:"medium_threshold" mapstructure:"medium_threshold"`
	RouteWeights    map[string]int `yaml:"route_weights" mapstructure:"route_weights"`
	BoostKeywords   []string       `yaml:"boost_keywords" mapstructure:"boost_keywords"`
	PenaltyKeywords []string       `yaml:"penalty_keywords" mapstructure:"penalty_keywords"`
	MaxRationale    int            `yaml:"max_rationale" mapstructure:"max_rationale"`
}

// EnrichConfig configures the budget-gated enrichment pipeline.
type EnrichConfig struct {
	BudgetCap             int      `yaml:"budget_cap" mapstructure:"budget_cap"`
	SearchIntervalSecs    float64  `yaml:"search_interval_secs" mapstructure:"search_interval_secs"`
	VerifyMinScore        int      `yaml:"verify_min_score" mapstructure:"verify_min_score"`       // 0..10
	PlausibleMinScore     int      `yaml:"plausible_min_score" mapstructure:"plausible_min_score"` // 0..10
	CacheDays             int      `yaml:"cache_days" mapstructure:"cache_days"`
	MaxCandidates         int      `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxContactLinks       int      `yaml:"max_contact_links" mapstructure:"max_contact_links"`
	FetchTimeoutSecs      int      `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	DenyDomains           []string `yaml:"deny_domains" mapstructure:"deny_domains"`
	RolePrefixes          []string `yaml:"role_prefixes" mapstructure:"role_prefixes"`
	IncludePersonalEmails bool     `yaml:"include_personal_emails" mapstructure:"include_personal_emails"`
}

// PipelineConfig configures run-level caps and backfill.
type PipelineConfig struct {
	LookbackDays        int `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxOutputLeads      int `yaml:"max_output_leads" mapstructure:"max_output_leads"`
	MinFreshLeads       int `yaml:"min_fresh_leads" mapstructure:"min_fresh_leads"`
	MaxCompaniesToCheck int `yaml:"max_companies_to_check" mapstructure:"max_companies_to_check"`
	MaxResultsTotal     int `yaml:"max_results_total" mapstructure:"max_results_total"`
}

// ServerConfig configures the read-only leads API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("UKLEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ".cache/state.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("registry.base_url", "https://api.company-information.service.gov.uk")
	v.SetDefault("registry.search_timeout_secs", 20)
	v.SetDefault("registry.officers_timeout_secs", 15)
	v.SetDefault("registry.retries", 3)

	v.SetDefault("sponsor.page_url", "https://www.gov.uk/government/publications/register-of-licensed-sponsors-workers")
	v.SetDefault("sponsor.route_allowlist", []string{
		"Skilled Worker",
		"Global Business Mobility: Senior or Specialist Worker",
		"Global Business Mobility: UK Expansion Worker",
	})
	v.SetDefault("sponsor.min_name_len", 3)
	v.SetDefault("sponsor.max_non_alnum_ratio", 0.35)

	v.SetDefault("search.base_url", "https://serpapi.com")
	v.SetDefault("search.locale", "gb")
	v.SetDefault("search.result_count", 6)

	v.SetDefault("match.min_score", 72)
	v.SetDefault("match.locality_bonus", 8)
	v.SetDefault("match.active_bonus", 3)
	v.SetDefault("match.page_size", 12)

	v.SetDefault("signal.domestic_countries", []string{
		"UNITED KINGDOM", "UK", "ENGLAND", "SCOTLAND", "WALES", "NORTHERN IRELAND", "GREAT BRITAIN",
	})
	v.SetDefault("signal.domestic_nationalities", []string{
		"BRITISH", "ENGLISH", "SCOTTISH", "WELSH", "NORTHERN IRISH", "IRISH",
	})
	v.SetDefault("signal.priority_countries", []string{
		"US", "USA", "UNITED STATES", "CANADA", "UAE", "UNITED ARAB EMIRATES", "INDIA", "AUSTRALIA",
		"GERMANY", "FRANCE", "NETHERLANDS", "SPAIN", "ITALY", "IRELAND", "SWEDEN", "DENMARK", "NORWAY",
		"FINLAND", "BELGIUM", "SWITZERLAND", "AUSTRIA", "POLAND", "CZECHIA", "PORTUGAL", "GREECE",
		"ROMANIA", "BULGARIA", "HUNGARY",
	})
	v.SetDefault("signal.mailbox_phrases", []string{
		"PO BOX", "P.O. BOX", "REGUS", "WEWORK", "VIRTUAL OFFICE", "MAIL BOXES ETC",
	})
	v.SetDefault("signal.subsidiary_markers", []string{
		"(UK", " UK ", " EUROPE ", " INTERNATIONAL ", " GLOBAL ", " HOLDINGS ", " GROUP ",
	})

	v.SetDefault("score.hot_threshold", 70)
	v.SetDefault("score.medium_threshold", 45)
	v.SetDefault("score.route_weights", map[string]int{
		"UK Expansion Worker":         25,
		"Senior or Specialist Worker": 18,
		"Skilled Worker":              12,
	})
	v.SetDefault("score.boost_keywords", []string{
		"62", "63", "70", "71", "72", "73", "74", "64", "65", "66", "46", "47", "28", "29", "30", "32",
	})
	v.SetDefault("score.penalty_keywords", []string{"87", "88", "49", "56", "55"})
	v.SetDefault("score.max_rationale", 7)

	v.SetDefault("enrich.budget_cap", 80)
	v.SetDefault("enrich.search_interval_secs", 1.2)
	v.SetDefault("enrich.verify_min_score", 7)
	v.SetDefault("enrich.plausible_min_score", 6)
	v.SetDefault("enrich.cache_days", 60)
	v.SetDefault("enrich.max_candidates", 3)
	v.SetDefault("enrich.max_contact_links", 6)
	v.SetDefault("enrich.fetch_timeout_secs", 20)
	v.SetDefault("enrich.deny_domains", []string{
		"companieshouse.gov.uk", "gov.uk", "linkedin.com", "facebook.com", "yell.com", "endole.co.uk",
		"opencorporates.com", "find-and-update.company-information.service.gov.uk", "bloomberg.com",
		"dnb.com", "zoominfo.com", "crunchbase.com",
	})
	v.SetDefault("enrich.role_prefixes", []string{
		"immigration", "globalmobility", "mobility", "hr", "people", "talent",
		"recruitment", "legal", "admin", "office", "info", "contact", "sales", "enquiries", "hello",
	})

	v.SetDefault("pipeline.lookback_days", 30)
	v.SetDefault("pipeline.max_output_leads", 25)
	v.SetDefault("pipeline.min_fresh_leads", 8)
	v.SetDefault("pipeline.max_companies_to_check", 140)
	v.SetDefault("pipeline.max_results_total", 800)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
