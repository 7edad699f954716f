// Package config provides application configuration: environment variables
// for paths and credentials, plus a YAML study definition for everything an
// experimenter tunes between deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Addr       string
	Mode       string // "dev" or "prod"
	DBPath     string
	CorpusPath string
	StudyPath  string

	OpenAIKey     string
	OpenAIBaseURL string

	Study Study
}

// Study is the experimenter-facing definition loaded from YAML.
type Study struct {
	Conditions []Condition `yaml:"conditions"`

	Conversation struct {
		MinMinutes int `yaml:"min_minutes"`
		MaxMinutes int `yaml:"max_minutes"`
	} `yaml:"conversation"`

	Retrieval struct {
		TopK        int      `yaml:"top_k"`
		AnchorTerms []string `yaml:"anchor_terms"`
	} `yaml:"retrieval"`

	Generation struct {
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"generation"`

	Age struct {
		Min int `yaml:"min"`
		Max int `yaml:"max"`
	} `yaml:"age"`
}

// Condition is one experimental arm: the assistant persona shown to
// participants assigned to it. Assignment priority follows declaration order.
type Condition struct {
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`
	Welcome string `yaml:"welcome"`
}

// MinDuration returns the minimum conversation duration.
func (s *Study) MinDuration() time.Duration {
	return time.Duration(s.Conversation.MinMinutes) * time.Minute
}

// MaxDuration returns the maximum conversation duration.
func (s *Study) MaxDuration() time.Duration {
	return time.Duration(s.Conversation.MaxMinutes) * time.Minute
}

// Condition looks up an arm by key, falling back to the first one so a stale
// assignment label can never leave a session without a persona.
func (s *Study) Condition(key string) Condition {
	for _, c := range s.Conditions {
		if c.Key == key {
			return c
		}
	}
	return s.Conditions[0]
}

// ConditionKeys returns arm keys in declaration (priority) order.
func (s *Study) ConditionKeys() []string {
	keys := make([]string, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		keys = append(keys, c.Key)
	}
	return keys
}

// Load reads configuration from environment variables and the study file.
// Any missing credential or data file is fatal: the server must refuse to
// run with a silently broken retrieval or persistence path.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:          getEnv("CONVERSBOT_ADDR", ":8080"),
		Mode:          getEnv("CONVERSBOT_MODE", "dev"),
		DBPath:        getEnv("CONVERSBOT_DB_PATH", "./data/study.db"),
		CorpusPath:    getEnv("CONVERSBOT_CORPUS_PATH", "./data/corpus.json"),
		StudyPath:     getEnv("CONVERSBOT_STUDY_PATH", "./config/study.yaml"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
	}

	study, err := loadStudy(cfg.StudyPath)
	if err != nil {
		return nil, fmt.Errorf("load study definition: %w", err)
	}
	cfg.Study = *study

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadStudy(path string) (*Study, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	study := defaultStudy()
	if err := yaml.Unmarshal(raw, study); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return study, nil
}

func defaultStudy() *Study {
	s := &Study{}
	s.Conversation.MinMinutes = 3
	s.Conversation.MaxMinutes = 10
	s.Retrieval.TopK = 4
	s.Generation.Model = "gpt-3.5-turbo"
	s.Generation.Temperature = 0.4
	s.Age.Min = 18
	s.Age.Max = 60
	return s
}

// Validate checks that the configuration can actually serve sessions.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CONVERSBOT_ADDR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("CONVERSBOT_DB_PATH cannot be empty")
	}
	if c.CorpusPath == "" {
		return fmt.Errorf("CONVERSBOT_CORPUS_PATH cannot be empty")
	}
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return c.Study.Validate()
}

// Validate checks the study definition for values that would make the phase
// predicates or the timer gate meaningless.
func (s *Study) Validate() error {
	if len(s.Conditions) == 0 {
		return fmt.Errorf("study must define at least one condition")
	}
	seen := map[string]bool{}
	for _, cond := range s.Conditions {
		if cond.Key == "" {
			return fmt.Errorf("condition key cannot be empty")
		}
		if seen[cond.Key] {
			return fmt.Errorf("duplicate condition key %q", cond.Key)
		}
		seen[cond.Key] = true
		if cond.Persona == "" || cond.Welcome == "" {
			return fmt.Errorf("condition %q must define persona and welcome text", cond.Key)
		}
	}
	if s.Conversation.MinMinutes <= 0 || s.Conversation.MaxMinutes <= s.Conversation.MinMinutes {
		return fmt.Errorf("conversation window must satisfy 0 < min < max, got min=%d max=%d",
			s.Conversation.MinMinutes, s.Conversation.MaxMinutes)
	}
	if s.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be > 0")
	}
	if s.Generation.Model == "" {
		return fmt.Errorf("generation model cannot be empty")
	}
	if s.Age.Min <= 0 || s.Age.Max <= s.Age.Min {
		return fmt.Errorf("age bounds must satisfy 0 < min < max, got min=%d max=%d", s.Age.Min, s.Age.Max)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
