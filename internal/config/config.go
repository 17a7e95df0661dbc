package config // package config loads application configuration from environment variables

import (
    "errors"
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// minProdSecret is the shortest signing secret accepted when APP_ENV=prod.
const minProdSecret = 32

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
    Env             string        // application environment (e.g. "dev", "prod")
    Port            string        // HTTP port to listen on
    DBUser          string        // database username
    DBPass          string        // database password (optional)
    DBHost          string        // database host address
    DBPort          string        // database port number
    DBName          string        // database name
    AutoMigrate     bool          // create the users table on start
    JWTSecret       string        // secret used to sign session tokens
    JWTIssuer       string        // iss claim
    TokenTTL        time.Duration // session token lifetime; 0 disables exp
    FrontendURL     string        // base URL for post-login redirects
    StoreTimeout    time.Duration // bound on each credential store call
    DeliveryTimeout time.Duration // bound on each code dispatch

    Redis     RedisConfig
    RateLimit RateLimitConfig
    OTP       OTPConfig
    Google    GoogleConfig
    SMTP      SMTPConfig
    Notify    NotifyConfig
}

// OTPConfig selects the one-time code cache.
type OTPConfig struct {
    Backend    string        // "redis" or "memory"
    TTL        time.Duration // lifetime of an issued code
    Prefix     string        // redis key prefix
    MaxEntries int64         // memory backend capacity
    MaxAttempts int          // wrong codes tolerated before the code is burned
}

// GoogleConfig holds the OAuth client. The flow is disabled when ClientID is empty.
type GoogleConfig struct {
    ClientID     string
    ClientSecret string
    CallbackURL  string
    StateSecret  string
}

func (g GoogleConfig) Enabled() bool { return g.ClientID != "" }

// SMTPConfig is the outbound mail relay.
type SMTPConfig struct {
    Host     string
    Port     int
    Username string
    Password string
    From     string
    FromName string
}

func (s SMTPConfig) Enabled() bool { return s.Host != "" }

// NotifyConfig selects how one-time codes leave the API process.
type NotifyConfig struct {
    Backend    string // "smtp", "queue" or "log"
    AMQPURL    string // broker for the queue backend and domain events
    RevealCode bool   // log backend prints codes; never honoured in prod
}

// Load reads .env (if present) and the environment. Every missing required
// variable and every invalid value is reported in a single error.
func Load() (Config, error) {
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return Config{}, fmt.Errorf("load .env: %w", err)
    }
    l := &loader{}
    cfg := Config{
        Env:             l.must("APP_ENV"),
        Port:            l.must("APP_PORT"),
        DBUser:          l.must("DB_USER"),
        DBPass:          os.Getenv("DB_PASS"), // empty allowed
        DBHost:          l.must("DB_HOST"),
        DBPort:          l.must("DB_PORT"),
        DBName:          l.must("DB_NAME"),
        AutoMigrate:     envBool("DB_AUTO_MIGRATE", true),
        JWTSecret:       l.must("JWT_SECRET"),
        JWTIssuer:       envStr("JWT_ISSUER", "crowdfund-auth"),
        TokenTTL:        l.duration("TOKEN_TTL", 168*time.Hour),
        FrontendURL:     strings.TrimRight(envStr("FRONTEND_URL", "http://localhost:3000"), "/"),
        StoreTimeout:    l.duration("STORE_TIMEOUT", 5*time.Second),
        DeliveryTimeout: l.duration("DELIVERY_TIMEOUT", 10*time.Second),

        Redis:     LoadRedisConfig(),
        RateLimit: LoadRateLimitConfig(),
        OTP: OTPConfig{
            Backend:    strings.ToLower(envStr("OTP_BACKEND", "redis")),
            TTL:        l.duration("OTP_TTL", 10*time.Minute),
            Prefix:     envStr("OTP_PREFIX", "otp"),
            MaxEntries: int64(envInt("OTP_MAX_ENTRIES", 100_000)),
            MaxAttempts: l.integer("OTP_MAX_ATTEMPTS", 5),
        },
        Google: GoogleConfig{
            ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
            ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
            CallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
            StateSecret:  os.Getenv("OAUTH_STATE_SECRET"),
        },
        SMTP: SMTPConfig{
            Host:     os.Getenv("SMTP_HOST"),
            Port:     l.integer("SMTP_PORT", 587),
            Username: os.Getenv("SMTP_USER"),
            Password: os.Getenv("SMTP_PASS"),
            From:     os.Getenv("SMTP_FROM"),
            FromName: envStr("SMTP_FROM_NAME", "Crowdfund"),
        },
        Notify: NotifyConfig{
            Backend:    strings.ToLower(envStr("NOTIFY_BACKEND", "log")),
            AMQPURL:    firstEnv("RABBITMQ_URL", "AMQP_URL"),
            RevealCode: envBool("NOTIFY_LOG_REVEAL_CODE", false),
        },
    }
    cfg.validate(l)
    if err := l.err(); err != nil {
        return Config{}, err
    }
    return cfg, nil
}

// IsProd reports whether APP_ENV is "prod".
func (c Config) IsProd() bool { return c.Env == "prod" }

func (c *Config) validate(l *loader) {
    if c.IsProd() && c.JWTSecret != "" && len(c.JWTSecret) < minProdSecret {
        l.invalid("JWT_SECRET", fmt.Sprintf("must be at least %d bytes in prod", minProdSecret))
    }
    switch c.OTP.Backend {
    case "redis", "memory":
    default:
        l.invalid("OTP_BACKEND", "want redis or memory")
    }
    if c.OTP.TTL <= 0 {
        l.invalid("OTP_TTL", "must be positive")
    }
    if c.OTP.MaxAttempts <= 0 {
        l.invalid("OTP_MAX_ATTEMPTS", "must be positive")
    }
    switch c.Notify.Backend {
    case "smtp":
        if !c.SMTP.Enabled() || c.SMTP.From == "" {
            l.invalid("NOTIFY_BACKEND", "smtp requires SMTP_HOST and SMTP_FROM")
        }
    case "queue":
        if c.Notify.AMQPURL == "" {
            l.invalid("NOTIFY_BACKEND", "queue requires RABBITMQ_URL")
        }
        // the worker revokes undeliverable codes through the shared cache
        if c.OTP.Backend != "redis" {
            l.invalid("NOTIFY_BACKEND", "queue requires OTP_BACKEND=redis")
        }
    case "log":
        if c.IsProd() {
            c.Notify.RevealCode = false
        }
    default:
        l.invalid("NOTIFY_BACKEND", "want smtp, queue or log")
    }
    if c.Google.Enabled() {
        if c.Google.ClientSecret == "" || c.Google.CallbackURL == "" {
            l.invalid("GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET and GOOGLE_CALLBACK_URL are required with it")
        }
        if c.Google.StateSecret == "" {
            c.Google.StateSecret = c.JWTSecret
        }
    }
}

// loader collects problems instead of exiting on the first one.
type loader struct {
    missing []string
    bad     []string
}

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || strings.TrimSpace(v) == "" {
        l.missing = append(l.missing, key)
    }
    return v
}

func (l *loader) integer(key string, def int) int {
    s := os.Getenv(key)
    if s == "" {
        return def
    }
    n, err := strconv.Atoi(s)
    if err != nil {
        l.invalid(key, fmt.Sprintf("invalid int %q", s))
        return def
    }
    return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
    s := os.Getenv(key)
    if s == "" {
        return def
    }
    d, err := time.ParseDuration(s)
    if err != nil {
        l.invalid(key, fmt.Sprintf("invalid duration %q", s))
        return def
    }
    return d
}

func (l *loader) invalid(key, why string) {
    l.bad = append(l.bad, key+": "+why)
}

func (l *loader) err() error {
    var errs []error
    if len(l.missing) > 0 {
        errs = append(errs, fmt.Errorf("missing required env vars: %s", strings.Join(l.missing, ", ")))
    }
    for _, b := range l.bad {
        errs = append(errs, errors.New(b))
    }
    return errors.Join(errs...)
}

func firstEnv(keys ...string) string {
    for _, k := range keys {
        if v := os.Getenv(k); v != "" {
            return v
        }
    }
    return ""
}
