package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceDotenv  ValueSource = "dotenv"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Int parses the value, returning def when it is unset.
func (v ResolvedValue) Int(def int) (int, error) {
	if strings.TrimSpace(v.Value) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a number", v.From, v.Value)
	}
	return n, nil
}

// List splits a comma-separated value, dropping empty items. An unset value
// returns nil so callers can tell "not configured" from "configured empty".
func (v ResolvedValue) List() []string {
	if v.Source == "" || v.Source == SourceUnknown {
		return nil
	}
	out := []string{}
	for _, item := range strings.Split(v.Value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type ResolveOptions struct {
	ConfigPath  string
	EnvFile     string
	CLIDBPath   string
	CLIDBDriver string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`
	EnvFile    string `json:"env_file,omitempty"`

	DBDriver    ResolvedValue `json:"db_driver"`
	DBPath      ResolvedValue `json:"db_path"`
	PostgresDSN ResolvedValue `json:"postgres_dsn"`

	CalendarID         ResolvedValue `json:"calendar_id"`
	GoogleAccessToken  ResolvedValue `json:"google_access_token"`
	GoogleTokenFile    ResolvedValue `json:"google_token_file"`
	GoogleClientID     ResolvedValue `json:"google_client_id"`
	GoogleClientSecret ResolvedValue `json:"google_client_secret"`

	IMAPServer   ResolvedValue `json:"imap_server"`
	IMAPUser     ResolvedValue `json:"imap_user"`
	IMAPPassword ResolvedValue `json:"imap_password"`
	IMAPMailbox  ResolvedValue `json:"imap_mailbox"`

	GmailAccount ResolvedValue `json:"gmail_account"`
	GmailQuery   ResolvedValue `json:"gmail_query"`
	GogPath      ResolvedValue `json:"gog_path"`

	PageSize        ResolvedValue `json:"page_size"`
	MaxResults      ResolvedValue `json:"max_results"`
	BookingPrefix   ResolvedValue `json:"booking_prefix"`
	SourceTag       ResolvedValue `json:"source_tag"`
	IncludeKeywords ResolvedValue `json:"include_keywords"`
	ExcludeKeywords ResolvedValue `json:"exclude_keywords"`

	WindowDays        ResolvedValue `json:"window_days"`
	TieBreak          ResolvedValue `json:"tie_break"`
	IdentifierPattern ResolvedValue `json:"identifier_pattern"`

	CompanyDomains ResolvedValue `json:"company_domains"`

	AMQPURL      ResolvedValue `json:"amqp_url"`
	AMQPExchange ResolvedValue `json:"amqp_exchange"`

	SampleCap ResolvedValue `json:"sample_cap"`
	LogFormat ResolvedValue `json:"log_format"`
}

type fileConfig struct {
	Store struct {
		Driver      string `yaml:"driver"`
		Path        string `yaml:"path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"store"`
	Google struct {
		CalendarID   string `yaml:"calendar_id"`
		AccessToken  string `yaml:"access_token"`
		TokenFile    string `yaml:"token_file"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"google"`
	IMAP struct {
		Server   string `yaml:"server"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Mailbox  string `yaml:"mailbox"`
	} `yaml:"imap"`
	Gmail struct {
		Account string `yaml:"account"`
		Query   string `yaml:"query"`
		GogPath string `yaml:"gog_path"`
	} `yaml:"gmail"`
	Import struct {
		PageSize        int      `yaml:"page_size"`
		MaxResults      int      `yaml:"max_results"`
		BookingPrefix   string   `yaml:"booking_prefix"`
		SourceTag       string   `yaml:"source_tag"`
		IncludeKeywords []string `yaml:"include_keywords"`
		ExcludeKeywords []string `yaml:"exclude_keywords"`
	} `yaml:"import"`
	Match struct {
		WindowDays        int    `yaml:"window_days"`
		TieBreak          string `yaml:"tie_break"`
		IdentifierPattern string `yaml:"identifier_pattern"`
	} `yaml:"match"`
	CompanyDomains []string `yaml:"company_domains"`
	Review         struct {
		AMQPURL  string `yaml:"amqp_url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"review"`
	Report struct {
		SampleCap int `yaml:"sample_cap"`
	} `yaml:"report"`
	LogFormat string `yaml:"log_format"`
}

// binding ties one resolved value to its file value and environment keys.
// Later env keys win over earlier ones.
type binding struct {
	dst  *ResolvedValue
	file string
	env  []string
}

func (r *ResolvedConfig) bindings(cfg *fileConfig) []binding {
	if cfg == nil {
		cfg = &fileConfig{}
	}
	return []binding{
		{&r.DBDriver, cfg.Store.Driver, []string{"BOOKRECON_DB_DRIVER"}},
		{&r.DBPath, cfg.Store.Path, []string{"BOOKRECON_DB", "BOOKRECON_DB_PATH"}},
		{&r.PostgresDSN, cfg.Store.PostgresDSN, []string{"DATABASE_URL", "BOOKRECON_POSTGRES_DSN"}},

		{&r.CalendarID, cfg.Google.CalendarID, []string{"BOOKRECON_CALENDAR_ID"}},
		{&r.GoogleAccessToken, cfg.Google.AccessToken, []string{"GOOGLE_ACCESS_TOKEN", "BOOKRECON_GOOGLE_ACCESS_TOKEN"}},
		{&r.GoogleTokenFile, cfg.Google.TokenFile, []string{"BOOKRECON_GOOGLE_TOKEN_FILE"}},
		{&r.GoogleClientID, cfg.Google.ClientID, []string{"BOOKRECON_GOOGLE_CLIENT_ID"}},
		{&r.GoogleClientSecret, cfg.Google.ClientSecret, []string{"BOOKRECON_GOOGLE_CLIENT_SECRET"}},

		{&r.IMAPServer, cfg.IMAP.Server, []string{"BOOKRECON_IMAP_SERVER"}},
		{&r.IMAPUser, cfg.IMAP.User, []string{"BOOKRECON_IMAP_USER"}},
		{&r.IMAPPassword, cfg.IMAP.Password, []string{"BOOKRECON_IMAP_PASSWORD"}},
		{&r.IMAPMailbox, cfg.IMAP.Mailbox, []string{"BOOKRECON_IMAP_MAILBOX"}},

		{&r.GmailAccount, cfg.Gmail.Account, []string{"BOOKRECON_GMAIL_ACCOUNT"}},
		{&r.GmailQuery, cfg.Gmail.Query, []string{"BOOKRECON_GMAIL_QUERY"}},
		{&r.GogPath, cfg.Gmail.GogPath, []string{"BOOKRECON_GOG_PATH"}},

		{&r.PageSize, intString(cfg.Import.PageSize), []string{"BOOKRECON_PAGE_SIZE"}},
		{&r.MaxResults, intString(cfg.Import.MaxResults), []string{"BOOKRECON_MAX_RESULTS"}},
		{&r.BookingPrefix, cfg.Import.BookingPrefix, []string{"BOOKRECON_BOOKING_PREFIX"}},
		{&r.SourceTag, cfg.Import.SourceTag, []string{"BOOKRECON_SOURCE_TAG"}},
		{&r.IncludeKeywords, strings.Join(cfg.Import.IncludeKeywords, ","), []string{"BOOKRECON_INCLUDE_KEYWORDS"}},
		{&r.ExcludeKeywords, strings.Join(cfg.Import.ExcludeKeywords, ","), []string{"BOOKRECON_EXCLUDE_KEYWORDS"}},

		{&r.WindowDays, intString(cfg.Match.WindowDays), []string{"BOOKRECON_MATCH_WINDOW_DAYS"}},
		{&r.TieBreak, cfg.Match.TieBreak, []string{"BOOKRECON_MATCH_TIE_BREAK"}},
		{&r.IdentifierPattern, cfg.Match.IdentifierPattern, []string{"BOOKRECON_IDENTIFIER_PATTERN"}},

		{&r.CompanyDomains, strings.Join(cfg.CompanyDomains, ","), []string{"BOOKRECON_COMPANY_DOMAINS"}},

		{&r.AMQPURL, cfg.Review.AMQPURL, []string{"BOOKRECON_AMQP_URL"}},
		{&r.AMQPExchange, cfg.Review.Exchange, []string{"BOOKRECON_AMQP_EXCHANGE"}},

		{&r.SampleCap, intString(cfg.Report.SampleCap), []string{"BOOKRECON_REPORT_SAMPLE"}},
		{&r.LogFormat, cfg.LogFormat, []string{"BOOKRECON_LOG_FORMAT"}},
	}
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bookrecon", "config.yaml")
}

// ResolveConfig layers the config file, the .env file, the process
// environment and CLI flags, in increasing precedence.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}
	envFile := strings.TrimSpace(opts.EnvFile)
	if envFile == "" {
		envFile = ".env"
	}

	out := ResolvedConfig{
		ConfigPath: path,
		DBDriver:   ResolvedValue{Value: DriverSQLite, Source: SourceDefault, From: "built-in default"},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	dotenv, err := loadDotenv(envFile)
	if err != nil {
		return out, err
	}
	if dotenv != nil {
		out.EnvFile = envFile
	}

	bindings := out.bindings(cfg)
	if cfg != nil {
		for _, b := range bindings {
			apply(b.dst, b.file, SourceConfig, path)
		}
	}
	for _, b := range bindings {
		for _, key := range b.env {
			apply(b.dst, dotenv[key], SourceDotenv, envFile+":"+key)
		}
	}
	for _, b := range bindings {
		for _, key := range b.env {
			applyEnv(b.dst, key)
		}
	}

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.DBDriver, opts.CLIDBDriver, SourceCLI, "--db-driver")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.GoogleTokenFile.Value != "" {
		out.GoogleTokenFile.Value = expandUserPath(out.GoogleTokenFile.Value)
	}
	out.DBDriver.Value = strings.ToLower(out.DBDriver.Value)

	return out, nil
}

// Validate checks values that must parse or belong to a fixed set.
func (r ResolvedConfig) Validate() error {
	switch r.DBDriver.Value {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(r.PostgresDSN.Value) == "" {
			return fmt.Errorf("db driver postgres needs a DSN (store.postgres_dsn or BOOKRECON_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("%s: unknown db driver %q (want sqlite or postgres)", r.DBDriver.From, r.DBDriver.Value)
	}
	for _, v := range []ResolvedValue{r.PageSize, r.MaxResults, r.WindowDays, r.SampleCap} {
		n, err := v.Int(0)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%s: %d must not be negative", v.From, n)
		}
	}
	switch strings.ToLower(r.TieBreak.Value) {
	case "", "nearest", "earliest":
	default:
		return fmt.Errorf("%s: unknown tie-break %q (want nearest or earliest)", r.TieBreak.From, r.TieBreak.Value)
	}
	return nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// loadDotenv reads KEY=value pairs without touching the process environment,
// so each value keeps its own source.
func loadDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return vals, nil
}

func intString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
