package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for knobs not overridden by the environment.
const (
	DefaultPort                 = 8080
	DefaultLogLevel             = "info"
	DefaultFailureThreshold     = 3
	DefaultResetTimeout         = 60 * time.Second
	DefaultMonitoringWindow     = 5 * time.Minute
	DefaultAdapterCallTimeout   = 5 * time.Second
	DefaultBroadcastInterval    = time.Second
	DefaultPaymentRateLimit     = 60
	DefaultPaymentRateWindow    = time.Minute
	DefaultTransactionPageLimit = 100
	DefaultLogTailLimit         = 200
)

// AdapterCredentials carries the per-type credential bags handed to the
// adapter registry at construction.
type AdapterCredentials struct {
	StripeAPIKey         string
	PaypalClientID       string
	SquareAppID          string
	AdyenMerchantAccount string
	AdyenAPIKey          string
}

// Config is the process configuration, read once at startup.
type Config struct {
	Port     int
	LogLevel string

	FailureThreshold int
	ResetTimeout     time.Duration
	// MonitoringWindow is parsed and carried but not consulted by the
	// breaker: failures are counted consecutively, not within a window.
	MonitoringWindow time.Duration

	AllowedOrigins    []string
	PriorityOracleURL string

	AdapterCallTimeout time.Duration
	BroadcastInterval  time.Duration

	PaymentRateLimit  int
	PaymentRateWindow time.Duration

	StoreBackend string
	BoltPath     string

	Credentials AdapterCredentials
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               DefaultPort,
		LogLevel:           DefaultLogLevel,
		FailureThreshold:   DefaultFailureThreshold,
		ResetTimeout:       DefaultResetTimeout,
		MonitoringWindow:   DefaultMonitoringWindow,
		AdapterCallTimeout: DefaultAdapterCallTimeout,
		BroadcastInterval:  DefaultBroadcastInterval,
		PaymentRateLimit:   DefaultPaymentRateLimit,
		PaymentRateWindow:  DefaultPaymentRateWindow,
		StoreBackend:       "memory",
		BoltPath:           "cascade.db",
		Credentials: AdapterCredentials{
			StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
			PaypalClientID:       os.Getenv("PAYPAL_CLIENT_ID"),
			SquareAppID:          os.Getenv("SQUARE_APP_ID"),
			AdyenMerchantAccount: os.Getenv("ADYEN_MERCHANT_ACCOUNT"),
			AdyenAPIKey:          os.Getenv("ADYEN_API_KEY"),
		},
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = p
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = v
		default:
			return nil, fmt.Errorf("invalid LOG_LEVEL %q", v)
		}
	}

	if v := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid CIRCUIT_BREAKER_FAILURE_THRESHOLD %q", v)
		}
		cfg.FailureThreshold = n
	}

	var err error
	if cfg.ResetTimeout, err = millisEnv("CIRCUIT_BREAKER_RESET_TIMEOUT", cfg.ResetTimeout); err != nil {
		return nil, err
	}
	if cfg.MonitoringWindow, err = millisEnv("CIRCUIT_BREAKER_MONITORING_WINDOW", cfg.MonitoringWindow); err != nil {
		return nil, err
	}
	if cfg.AdapterCallTimeout, err = millisEnv("ADAPTER_CALL_TIMEOUT", cfg.AdapterCallTimeout); err != nil {
		return nil, err
	}
	if cfg.BroadcastInterval, err = millisEnv("BROADCAST_INTERVAL", cfg.BroadcastInterval); err != nil {
		return nil, err
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	cfg.PriorityOracleURL = os.Getenv("PRIORITY_ORACLE_URL")

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		switch v {
		case "memory", "bolt":
			cfg.StoreBackend = v
		default:
			return nil, fmt.Errorf("invalid STORE_BACKEND %q", v)
		}
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}

	return cfg, nil
}

// millisEnv parses an environment variable holding a millisecond count.
func millisEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
