package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service. Every component
// receives its own section at construction; nothing reads the environment
// after Load returns.
type Config struct {
	Server     ServerConfig              `json:"server"`
	Auth       AuthConfig                `json:"auth"`
	Google     GoogleConfig              `json:"google"`
	Cloudinary CloudinaryConfig          `json:"cloudinary"`
	Inference  InferenceConfig           `json:"inference"`
	Databases  map[string]DatabaseConfig `json:"databases"`
	Redis      RedisConfig               `json:"redis"`
	Presets    PresetsConfig             `json:"presets"`
}

type ServerConfig struct {
	Address string `json:"address"`
	// BaseURL is the externally visible origin, used for OAuth redirects
	// and the inference referer header.
	BaseURL string `json:"base_url"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies identity tokens (HS256).
	JWTSecret string `json:"jwt_secret"`
	// TokenTTLMinutes bounds identity token lifetime. Defaults to 24h.
	TokenTTLMinutes int `json:"token_ttl_minutes"`
}

type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type CloudinaryConfig struct {
	CloudName string `json:"cloud_name"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	// Folder is the logical folder all uploads land in.
	Folder string `json:"folder"`
}

type InferenceConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type PresetsConfig struct {
	// Images lists the preselected sample image URLs offered to users.
	Images []string `json:"images"`
	// LocalDir, when set, is served under /cat_photos so preset URLs can
	// point back at this server.
	LocalDir string `json:"local_dir"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret must be configured")
	}
	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if dir := cfg.Presets.LocalDir; dir != "" && !filepath.IsAbs(dir) {
		cfg.Presets.LocalDir = filepath.Join(filepath.Dir(absPath), dir)
	}

	return &cfg, nil
}
