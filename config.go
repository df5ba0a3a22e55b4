package gateward

import (
	"errors"
	"time"

	"github.com/gateward/gateward/internal"
)

// Config defines a public type used by gateward APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Verification VerificationConfig
	Challenge    ChallengeConfig
	Settings     SettingsConfig
	Limiter      LimiterConfig
	Store        StoreConfig
	Receipt      ReceiptConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig defines a public type used by gateward APIs.
//
// DefaultTimeout and DefaultReminderLead apply when a tenant has no stored
// settings. MaxAttempts bounds wrong-answer submissions per session; a
// session that exhausts the bound is archived as expired. Zero disables the
// bound.
type VerificationConfig struct {
	DefaultTimeout      time.Duration
	DefaultReminderLead time.Duration
	MaxAttempts         int
	SecretLength        int
}

// ChallengeConfig defines a public type used by gateward APIs.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	Width      int
	Height     int
	CharPreset string
}

// SettingsConfig defines a public type used by gateward APIs.
//
// CacheTTL bounds how long per-tenant settings are served from the read
// cache; zero disables caching. MinTimeout and MinReminderLead are the lower
// bounds enforced on configuration writes.
type SettingsConfig struct {
	CacheTTL        time.Duration
	MinTimeout      time.Duration
	MinReminderLead time.Duration
}

// LimiterConfig defines a public type used by gateward APIs.
//
// LimiterConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LimiterConfig struct {
	EnableStartThrottle  bool
	EnableAnswerThrottle bool
	EnableIPThrottle     bool
	MaxStartRequests     int
	StartWindow          time.Duration
	MaxAnswerRequests    int
	AnswerWindow         time.Duration
}

// StoreConfig defines a public type used by gateward APIs.
//
// RetentionTTL is how long terminal sessions are kept as immutable archive
// records. MaxRetries bounds the backoff retry loop applied to critical-path
// store operations when the backend is unreachable.
type StoreConfig struct {
	RedisPrefix    string
	RetentionTTL   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// ReceiptConfig defines a public type used by gateward APIs.
//
// When enabled, a successful verification returns a signed HS256 receipt
// that downstream services can verify without a store round-trip.
type ReceiptConfig struct {
	Enabled    bool
	SigningKey []byte
	TTL        time.Duration
	Issuer     string
}

// AuditConfig defines a public type used by gateward APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by gateward APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Verification: VerificationConfig{
			DefaultTimeout:      300 * time.Second,
			DefaultReminderLead: 60 * time.Second,
			MaxAttempts:         5,
			SecretLength:        6,
		},
		Challenge: ChallengeConfig{
			Width:      200,
			Height:     80,
			CharPreset: internal.AnswerAlphabet,
		},
		Settings: SettingsConfig{
			CacheTTL:        30 * time.Second,
			MinTimeout:      60 * time.Second,
			MinReminderLead: 30 * time.Second,
		},
		Limiter: LimiterConfig{
			EnableStartThrottle:  true,
			EnableAnswerThrottle: true,
			EnableIPThrottle:     false,
			MaxStartRequests:     5,
			StartWindow:          time.Minute,
			MaxAnswerRequests:    15,
			AnswerWindow:         time.Minute,
		},
		Store: StoreConfig{
			RedisPrefix:    "gwv",
			RetentionTTL:   24 * time.Hour,
			MaxRetries:     3,
			RetryBaseDelay: 50 * time.Millisecond,
		},
		Receipt: ReceiptConfig{
			Enabled: false,
			TTL:     time.Hour,
			Issuer:  "gateward",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Receipt.SigningKey = cloneBytes(cfg.Receipt.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Verification
	if c.Verification.DefaultTimeout < c.Settings.MinTimeout {
		return errors.New("Verification DefaultTimeout must be >= Settings MinTimeout")
	}
	if c.Verification.DefaultReminderLead < c.Settings.MinReminderLead {
		return errors.New("Verification DefaultReminderLead must be >= Settings MinReminderLead")
	}
	if c.Verification.DefaultReminderLead >= c.Verification.DefaultTimeout {
		return errors.New("Verification DefaultReminderLead must be < DefaultTimeout")
	}
	if c.Verification.MaxAttempts < 0 {
		return errors.New("Verification MaxAttempts must be >= 0")
	}
	if c.Verification.SecretLength < 4 || c.Verification.SecretLength > 12 {
		return errors.New("Verification SecretLength must be between 4 and 12")
	}

	// Challenge
	if c.Challenge.Width <= 0 || c.Challenge.Height <= 0 {
		return errors.New("Challenge dimensions must be > 0")
	}
	if len(c.Challenge.CharPreset) < 10 {
		return errors.New("Challenge CharPreset must contain at least 10 characters")
	}

	// Settings
	if c.Settings.MinTimeout <= 0 {
		return errors.New("Settings MinTimeout must be > 0")
	}
	if c.Settings.MinReminderLead <= 0 {
		return errors.New("Settings MinReminderLead must be > 0")
	}
	if c.Settings.CacheTTL < 0 {
		return errors.New("Settings CacheTTL must be >= 0")
	}

	// Limiter
	if c.Limiter.EnableStartThrottle {
		if c.Limiter.MaxStartRequests <= 0 {
			return errors.New("Limiter MaxStartRequests must be > 0 when start throttle is enabled")
		}
		if c.Limiter.StartWindow <= 0 {
			return errors.New("Limiter StartWindow must be > 0 when start throttle is enabled")
		}
	}
	if c.Limiter.EnableAnswerThrottle {
		if c.Limiter.MaxAnswerRequests <= 0 {
			return errors.New("Limiter MaxAnswerRequests must be > 0 when answer throttle is enabled")
		}
		if c.Limiter.AnswerWindow <= 0 {
			return errors.New("Limiter AnswerWindow must be > 0 when answer throttle is enabled")
		}
	}

	// Store
	if c.Store.RedisPrefix == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}
	if c.Store.RetentionTTL <= 0 {
		return errors.New("Store RetentionTTL must be > 0")
	}
	if c.Store.MaxRetries < 0 {
		return errors.New("Store MaxRetries must be >= 0")
	}
	if c.Store.RetryBaseDelay <= 0 {
		return errors.New("Store RetryBaseDelay must be > 0")
	}

	// Receipt
	if c.Receipt.Enabled {
		if len(c.Receipt.SigningKey) < 32 {
			return errors.New("Receipt SigningKey must be at least 32 bytes")
		}
		if c.Receipt.TTL <= 0 {
			return errors.New("Receipt TTL must be > 0")
		}
		if c.Receipt.Issuer == "" {
			return errors.New("Receipt Issuer must not be empty")
		}
	}

	return nil
}
