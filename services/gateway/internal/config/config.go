package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                         string `yaml:"port"`
	LogLevel                     string `yaml:"logLevel"`
	AuthServiceURL               string `yaml:"authServiceURL"`
	AuthJWKSURL                  string `yaml:"authJwksURL"`
	IntelServiceURL              string `yaml:"intelServiceURL"`
	JWTIssuer                    string `yaml:"jwtIssuer"`
	JWTAudience                  string `yaml:"jwtAudience"`
	JWTLeeway                    string `yaml:"jwtLeeway"`
	RedisAddr                    string `yaml:"redisAddr"`
	RedisPassword                string `yaml:"redisPassword"`
	InternalJWTPrivateKeyPath    string `yaml:"internalJwtPrivateKeyPath"`
	InternalJWTKeyID             string `yaml:"internalJwtKeyId"`
	OTPRequestRateLimitPerMinute int    `yaml:"otpRequestRateLimitPerMinute"`
	OTPVerifyRateLimitPerMinute  int    `yaml:"otpVerifyRateLimitPerMinute"`
	RefreshRateLimitPerMinute    int    `yaml:"refreshRateLimitPerMinute"`
	MaxProxyBodyBytes            int64  `yaml:"maxProxyBodyBytes"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("GATEWAY_AUTH_SERVICE_URL"); v != "" {
		cfg.AuthServiceURL = v
	}
	if v := os.Getenv("GATEWAY_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("GATEWAY_INTEL_SERVICE_URL"); v != "" {
		cfg.IntelServiceURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("INTERNAL_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.InternalJWTPrivateKeyPath = v
	}
	if v := os.Getenv("INTERNAL_JWT_KEY_ID"); v != "" {
		cfg.InternalJWTKeyID = v
	}
	if v := os.Getenv("GATEWAY_OTP_REQUEST_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OTPRequestRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("GATEWAY_OTP_VERIFY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OTPVerifyRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("GATEWAY_REFRESH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("GATEWAY_MAX_PROXY_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxProxyBodyBytes = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.AuthServiceURL == "" {
		return errors.New("config: authServiceURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or GATEWAY_AUTH_JWKS_URL)")
	}
	if cfg.IntelServiceURL == "" {
		return errors.New("config: intelServiceURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if strings.TrimSpace(cfg.InternalJWTPrivateKeyPath) == "" {
		return errors.New("config: internalJwtPrivateKeyPath is required for service tokens")
	}
	if cfg.OTPRequestRateLimitPerMinute < 0 || cfg.OTPVerifyRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
