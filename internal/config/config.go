package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the call-session API process.
// All values must come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Booking BookingAPIConfig
	Room    RoomConfig
	Call    CallPolicyConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// CallTokenTTL bounds the lifetime of a room-scoped call access token.
	CallTokenTTL time.Duration
}

// BookingAPIConfig points at the external bookings service.
// Bookings are read-only to this process; they are created and completed
// by the payment subsystem.
type BookingAPIConfig struct {
	BaseURL string

	// FetchTimeout bounds booking lookups so a hung request cannot leave a
	// session stuck in the loading phase.
	FetchTimeout time.Duration
}

type RoomConfig struct {
	// Provider selects the room adapter. Currently: daily, fake.
	Provider string

	APIBaseURL string
	APIKey     string

	// EventSinkURL is the external call-events collector. Optional; when empty
	// events are only written to local storage.
	EventSinkURL string
}

// CallPolicyConfig carries the timing rules of the call-session state machine.
type CallPolicyConfig struct {
	// JoinWindow is how long before the scheduled start a call becomes joinable.
	JoinWindow time.Duration

	// Grace extends access past scheduled end before the room is considered closed.
	Grace time.Duration

	// RedirectDelay is the pause between the ended phase and the post-call redirect.
	RedirectDelay time.Duration

	// ProviderErrorLimit is the number of consecutive mid-call provider errors
	// tolerated before the session is force-ended.
	ProviderErrorLimit int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.CallTokenTTL = mustDuration("CALL_TOKEN_TTL")

	c.Booking.BaseURL = strings.TrimSpace(os.Getenv("BOOKING_API_URL"))
	c.Booking.FetchTimeout = mustDuration("BOOKING_FETCH_TIMEOUT")

	c.Room.Provider = strings.TrimSpace(os.Getenv("ROOM_PROVIDER"))
	c.Room.APIBaseURL = strings.TrimSpace(os.Getenv("ROOM_API_URL"))
	c.Room.APIKey = os.Getenv("ROOM_API_KEY")
	c.Room.EventSinkURL = strings.TrimSpace(os.Getenv("CALL_EVENT_SINK_URL"))

	c.Call.JoinWindow = mustDuration("CALL_JOIN_WINDOW")
	c.Call.Grace = mustDuration("CALL_GRACE")
	c.Call.RedirectDelay = mustDuration("CALL_REDIRECT_DELAY")
	c.Call.ProviderErrorLimit = optionalInt("CALL_PROVIDER_ERROR_LIMIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.CallTokenTTL <= 0 {
		// Call tokens only need to cover the join step; keep them short.
		c.Auth.CallTokenTTL = 10 * time.Minute
	}

	if c.Booking.BaseURL == "" {
		errs = append(errs, errors.New("BOOKING_API_URL is required"))
	}
	if c.Booking.FetchTimeout <= 0 {
		c.Booking.FetchTimeout = 10 * time.Second
	}

	if c.Room.Provider == "" {
		c.Room.Provider = "daily"
	}
	if c.Room.Provider != "daily" && c.Room.Provider != "fake" {
		errs = append(errs, fmt.Errorf("ROOM_PROVIDER must be one of daily, fake, got %q", c.Room.Provider))
	}
	if c.Room.Provider == "daily" {
		if c.Room.APIBaseURL == "" {
			errs = append(errs, errors.New("ROOM_API_URL is required for the daily provider"))
		}
		if c.Room.APIKey == "" {
			errs = append(errs, errors.New("ROOM_API_KEY is required for the daily provider"))
		}
	}

	if c.Call.JoinWindow <= 0 {
		// The call page opens 15 minutes before the scheduled start.
		c.Call.JoinWindow = 15 * time.Minute
	}
	if c.Call.Grace <= 0 {
		c.Call.Grace = 5 * time.Minute
	}
	if c.Call.RedirectDelay <= 0 {
		c.Call.RedirectDelay = 3 * time.Second
	}
	if c.Call.ProviderErrorLimit <= 0 {
		c.Call.ProviderErrorLimit = 3
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
