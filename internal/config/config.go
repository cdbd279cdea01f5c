// Package config builds the immutable process configuration. It is
// constructed once in main and passed to every component; nothing reads
// the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Duration decodes YAML values like "15s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// CallbackAuth selects how inbound exam-result callbacks authenticate.
// Exactly one scheme is active per deployment.
type CallbackAuth struct {
	Scheme      string `yaml:"scheme"` // none, bearer, api-token, key-secret, custom
	Token       string `yaml:"token"`
	TokenHeader string `yaml:"tokenHeader"`
	Key         string `yaml:"key"`
	Secret      string `yaml:"secret"`
	Header      string `yaml:"header"`
	HeaderValue string `yaml:"headerValue"`
}

type Platform struct {
	BaseURL     string   `yaml:"baseUrl"`
	APIToken    string   `yaml:"apiToken"`
	Timeout     Duration `yaml:"timeout"`
	RatePerSec  float64  `yaml:"ratePerSec"`
	RateBurst   int      `yaml:"rateBurst"`
	IncludeHTML bool     `yaml:"includeHtml"` // ask for markup content on result pulls
}

type Config struct {
	ListenAddr   string       `yaml:"listenAddr"`
	DatabaseURL  string       `yaml:"databaseUrl"`
	RedisURL     string       `yaml:"redisUrl"`
	BlobDir      string       `yaml:"blobDir"`
	StoreTimeout Duration     `yaml:"storeTimeout"`
	SweepAfter   Duration     `yaml:"sweepAfter"` // re-drive appointments stuck pending longer than this; 0 disables
	Callback     CallbackAuth `yaml:"callback"`
	Platform     Platform     `yaml:"platform"`
	AuthMode     string       `yaml:"authMode"` // operator API: dev or hmac
	AuthSecret   string       `yaml:"authSecret"`
}

// Load reads the optional YAML file named by CONFIG_FILE, then overlays
// environment variables. Missing file is only an error when explicitly
// requested.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:   ":8080",
		BlobDir:      "data/blobs",
		StoreTimeout: Duration(10 * time.Second),
		Callback:     CallbackAuth{Scheme: "bearer"},
		Platform: Platform{
			Timeout:    Duration(15 * time.Second),
			RatePerSec: 10,
			RateBurst:  5,
		},
		AuthMode: "dev",
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config parse: %w", err)
		}
	}
	overlayEnv(&cfg)
	if cfg.Callback.Scheme == "" {
		cfg.Callback.Scheme = "none"
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	set := func(k string, dst *string) {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	set("DATABASE_URL", &cfg.DatabaseURL)
	set("REDIS_URL", &cfg.RedisURL)
	set("BLOB_DIR", &cfg.BlobDir)
	set("CALLBACK_AUTH_SCHEME", &cfg.Callback.Scheme)
	set("CALLBACK_AUTH_TOKEN", &cfg.Callback.Token)
	set("CALLBACK_TOKEN_HEADER", &cfg.Callback.TokenHeader)
	set("CALLBACK_AUTH_KEY", &cfg.Callback.Key)
	set("CALLBACK_AUTH_SECRET", &cfg.Callback.Secret)
	set("CALLBACK_AUTH_HEADER", &cfg.Callback.Header)
	set("CALLBACK_AUTH_HEADER_VALUE", &cfg.Callback.HeaderValue)
	set("PLATFORM_BASE_URL", &cfg.Platform.BaseURL)
	set("PLATFORM_API_TOKEN", &cfg.Platform.APIToken)
	set("AUTH_MODE", &cfg.AuthMode)
	set("AUTH_HMAC_SECRET", &cfg.AuthSecret)
	if v := os.Getenv("PLATFORM_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Platform.Timeout = Duration(time.Duration(n) * time.Second)
		}
	}
	if v := os.Getenv("SWEEP_AFTER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SweepAfter = Duration(time.Duration(n) * time.Second)
		}
	}
	if v := os.Getenv("PLATFORM_INCLUDE_HTML"); v == "true" || v == "1" {
		cfg.Platform.IncludeHTML = true
	}
}
