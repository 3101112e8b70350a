// Package config resolves settings from the config file, environment, and
// CLI flags, in that order of increasing precedence. Every resolved value
// remembers where it came from, so `groupmind config` can explain itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-level overrides into resolution.
type ResolveOptions struct {
	ConfigPath       string
	CLIDBPath        string
	CLIEmbed         string
	CLIConversation  string
	CLIPriorityUser  string
	CLIRetentionDays string
	CLIRulesPath     string
	CLIRetentionCron string
}

// ResolvedConfig is the merged view of all configuration sources.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath              ResolvedValue `json:"db_path"`
	EmbedProvider       ResolvedValue `json:"embed_provider"`
	EmbedEndpoint       ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey         ResolvedValue `json:"embed_api_key"`
	DefaultConversation ResolvedValue `json:"default_conversation"`
	PriorityUserID      ResolvedValue `json:"priority_user_id"`
	RetentionDays       ResolvedValue `json:"retention_days"`
	RetentionSchedule   ResolvedValue `json:"retention_schedule"`
	RulesPath           ResolvedValue `json:"rules_path"`
}

type fileConfig struct {
	DBPath              string `yaml:"db_path"`
	DefaultConversation string `yaml:"default_conversation"`
	PriorityUserID      string `yaml:"priority_user_id"`
	RulesPath           string `yaml:"rules_path"`
	Embed               struct {
		Provider string `yaml:"provider"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embed"`
	Retention struct {
		Days     int    `yaml:"days"`
		Schedule string `yaml:"schedule"`
	} `yaml:"retention"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".groupmind", "config.yaml")
}

// ResolveConfig merges file, environment, and CLI sources.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		apply(&out.DefaultConversation, cfg.DefaultConversation, SourceConfig, path)
		apply(&out.PriorityUserID, cfg.PriorityUserID, SourceConfig, path)
		apply(&out.RulesPath, cfg.RulesPath, SourceConfig, path)
		apply(&out.RetentionSchedule, cfg.Retention.Schedule, SourceConfig, path)
		if cfg.Retention.Days > 0 {
			apply(&out.RetentionDays, strconv.Itoa(cfg.Retention.Days), SourceConfig, path)
		}
	}

	applyEnv(&out.DBPath, "GROUPMIND_DB")
	applyEnv(&out.EmbedProvider, "GROUPMIND_EMBED")
	applyEnv(&out.EmbedEndpoint, "GROUPMIND_EMBED_ENDPOINT")
	applyEnv(&out.EmbedAPIKey, "GROUPMIND_EMBED_API_KEY")
	applyEnv(&out.DefaultConversation, "GROUPMIND_CONVERSATION")
	applyEnv(&out.PriorityUserID, "GROUPMIND_PRIORITY_USER")
	applyEnv(&out.RetentionDays, "GROUPMIND_RETENTION_DAYS")
	applyEnv(&out.RetentionSchedule, "GROUPMIND_RETENTION_SCHEDULE")
	applyEnv(&out.RulesPath, "GROUPMIND_RULES")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DefaultConversation, opts.CLIConversation, SourceCLI, "--conversation")
	apply(&out.PriorityUserID, opts.CLIPriorityUser, SourceCLI, "--priority-user")
	apply(&out.RetentionDays, opts.CLIRetentionDays, SourceCLI, "--retention-days")
	apply(&out.RetentionSchedule, opts.CLIRetentionCron, SourceCLI, "--retention-schedule")
	apply(&out.RulesPath, opts.CLIRulesPath, SourceCLI, "--rules")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.RulesPath.Value != "" {
		out.RulesPath.Value = expandUserPath(out.RulesPath.Value)
	}

	if _, err := out.RetentionDaysInt(); err != nil {
		return out, err
	}

	return out, nil
}

// RetentionDaysInt parses the resolved retention window. Zero means "not
// configured"; callers fall back to the retention package's default.
func (r ResolvedConfig) RetentionDaysInt() (int, error) {
	v := strings.TrimSpace(r.RetentionDays.Value)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid retention days %q (from %s)", v, r.RetentionDays.From)
	}
	return n, nil
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

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
