package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"

	"github.com/convokehq/convoke/pkg/engine"
)

// wizardAnswers collects everything the init wizard asks for. Numeric fields
// stay strings until marshaling because huh inputs edit text.
type wizardAnswers struct {
	Kind         string
	Model        string
	APIKey       string //nolint:gosec // env var reference, not a secret
	BaseURL      string
	RPM          string
	Retries      string
	RetryDelay   string
	CacheBackend string
	CacheDir     string
	CachePath    string
	RedisAddr    string
	RedisTTL     string
	MaxTokens    string
}

type providerDefault struct {
	APIKey string //nolint:gosec // env var reference template, not a secret
	Model  string
}

//nolint:gosec // env var reference templates, not hardcoded secrets
var providerDefaults = map[string]providerDefault{
	"anthropic": {APIKey: "${ANTHROPIC_API_KEY}", Model: "claude-3-5-haiku-latest"},
	"google":    {APIKey: "${GEMINI_API_KEY}", Model: "gemini-2.5-flash"},
	"openai":    {APIKey: "${OPENAI_API_KEY}", Model: "gpt-4o-mini"},
	"ollama":    {Model: "llama3"},
}

func runInit(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}

	w, err := runWizard()
	if err != nil {
		return err
	}

	data, err := buildConfigYAML(w)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config file, not a secret
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	if name := envVarName(w.APIKey); name != "" {
		fmt.Printf("Put the API key in .env (loaded at startup):\n  %s=...\n", name)
	}
	fmt.Println("Run 'convoke' to start chatting.")

	return nil
}

func runWizard() (wizardAnswers, error) {
	var w wizardAnswers

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Provider kind").
			Options(
				huh.NewOption("Anthropic", "anthropic"),
				huh.NewOption("Google", "google"),
				huh.NewOption("OpenAI", "openai"),
				huh.NewOption("Ollama", "ollama"),
			).
			Value(&w.Kind),
	)).Run(); err != nil {
		return w, err
	}

	defaults := providerDefaults[w.Kind]
	w.Model = defaults.Model
	w.APIKey = defaults.APIKey

	fields := []huh.Field{
		huh.NewInput().Title("Model").Value(&w.Model),
	}
	if w.Kind != "ollama" {
		fields = append(fields, huh.NewInput().Title("API key env var").Value(&w.APIKey))
	}
	fields = append(fields, huh.NewInput().Title("Base URL (empty = provider default)").Value(&w.BaseURL))

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return w, err
	}

	var configRL bool
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Configure rate limiting and retries?").Value(&configRL),
	)).Run(); err != nil {
		return w, err
	}

	if configRL {
		w.RPM = "0"
		w.Retries = "3"
		w.RetryDelay = "1s"

		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Requests per minute (0 = no limit)").Value(&w.RPM).Validate(validateNonNegativeInt),
			huh.NewInput().Title("Retry attempts on transient errors").Value(&w.Retries).Validate(validateNonNegativeInt),
			huh.NewInput().Title("Retry delay (e.g. 1s, 500ms)").Value(&w.RetryDelay).Validate(validateDuration),
		)).Run(); err != nil {
			return w, err
		}
	}

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Response cache").
			Options(
				huh.NewOption("Off", engine.CacheOff),
				huh.NewOption("File", engine.CacheFile),
				huh.NewOption("SQLite", engine.CacheSQLite),
				huh.NewOption("Redis", engine.CacheRedis),
			).
			Value(&w.CacheBackend),
	)).Run(); err != nil {
		return w, err
	}

	switch w.CacheBackend {
	case engine.CacheFile:
		w.CacheDir = ".convoke-cache"
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Cache directory").Value(&w.CacheDir),
		)).Run(); err != nil {
			return w, err
		}
	case engine.CacheSQLite:
		w.CachePath = "convoke-cache.db"
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Cache database path").Value(&w.CachePath),
		)).Run(); err != nil {
			return w, err
		}
	case engine.CacheRedis:
		w.RedisAddr = "localhost:6379"
		w.RedisTTL = "24h"
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Redis address").Value(&w.RedisAddr),
			huh.NewInput().Title("Entry TTL (e.g. 24h, empty = no expiry)").Value(&w.RedisTTL).Validate(validateDuration),
		)).Run(); err != nil {
			return w, err
		}
	}

	if err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Default max output tokens (empty = built-in default)").
			Value(&w.MaxTokens).
			Validate(validateOptionalNonNegativeInt),
	)).Run(); err != nil {
		return w, err
	}

	return w, nil
}

// envVarName extracts the variable name from a ${VAR} reference, or returns
// an empty string when value is not one.
func envVarName(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return value[2 : len(value)-1]
	}
	return ""
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}

	return nil
}

func validateOptionalNonNegativeInt(s string) error {
	if s == "" {
		return nil
	}

	return validateNonNegativeInt(s)
}

func validateDuration(s string) error {
	if s == "" {
		return nil
	}

	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a valid duration (e.g. 1s, 500ms)")
	}

	return nil
}

// YAML output types. omitempty keeps the generated file down to the keys the
// wizard actually set.

type configYAML struct {
	Providers        []providerYAML `yaml:"providers"`
	Models           []modelYAML    `yaml:"models,omitempty"`
	Cache            *cacheYAML     `yaml:"cache,omitempty"`
	DefaultMaxTokens int            `yaml:"default_max_tokens,omitempty"`
}

type providerYAML struct {
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key,omitempty"` //nolint:gosec // env var reference, not a secret
	BaseURL string `yaml:"base_url,omitempty"`
}

type modelYAML struct {
	Model      string `yaml:"model"`
	RPM        int    `yaml:"rpm,omitempty"`
	Retries    int    `yaml:"retries,omitempty"`
	RetryDelay string `yaml:"retry_delay,omitempty"`
}

type cacheYAML struct {
	Backend string     `yaml:"backend"`
	Dir     string     `yaml:"dir,omitempty"`
	Path    string     `yaml:"path,omitempty"`
	Redis   *redisYAML `yaml:"redis,omitempty"`
}

type redisYAML struct {
	Addr string `yaml:"addr"`
	TTL  string `yaml:"ttl,omitempty"`
}

func buildConfigYAML(w wizardAnswers) ([]byte, error) {
	yc := configYAML{
		Providers: []providerYAML{{Kind: w.Kind, APIKey: w.APIKey, BaseURL: w.BaseURL}},
	}

	rpm, _ := strconv.Atoi(w.RPM)
	retries, _ := strconv.Atoi(w.Retries)
	if rpm > 0 || retries > 0 {
		m := modelYAML{Model: w.Kind + ":" + w.Model, RPM: rpm, Retries: retries}
		if retries > 0 {
			m.RetryDelay = w.RetryDelay
		}
		yc.Models = append(yc.Models, m)
	}

	switch w.CacheBackend {
	case "", engine.CacheOff:
	case engine.CacheFile:
		yc.Cache = &cacheYAML{Backend: engine.CacheFile, Dir: w.CacheDir}
	case engine.CacheSQLite:
		yc.Cache = &cacheYAML{Backend: engine.CacheSQLite, Path: w.CachePath}
	case engine.CacheRedis:
		yc.Cache = &cacheYAML{Backend: engine.CacheRedis, Redis: &redisYAML{Addr: w.RedisAddr, TTL: w.RedisTTL}}
	}

	if w.MaxTokens != "" {
		yc.DefaultMaxTokens, _ = strconv.Atoi(w.MaxTokens)
	}

	return yaml.Marshal(yc)
}
