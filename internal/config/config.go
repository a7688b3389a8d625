package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	HTTPAddr string

	JWTSecret      string
	JWTIssuer      string
	AuthServiceURL string
	AuthTimeout    time.Duration

	RedisURL    string
	RoomTTL     time.Duration
	DatabaseURL string

	BoardSizeDefault int
	BoardSizeMin     int
	BoardSizeMax     int
	TurnTimeLimit    time.Duration
	EnforceTurnClock bool
	HistoryLimit     int

	MoveRejectionEvents bool
	ChatMaxLength       int

	WSPingInterval   time.Duration
	WSSendBuffer     int
	WSAllowedOrigins []string

	MessagesDir  string
	AIRandomSeed int64
	// AISeeded is true when AI_RANDOM_SEED was given explicitly.
	AISeeded bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("AUTH_SERVICE_URL", "")
	v.SetDefault("AUTH_TIMEOUT_MS", 3000)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ROOM_TTL_HOURS", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BOARD_SIZE_DEFAULT", 3)
	v.SetDefault("BOARD_SIZE_MIN", 3)
	v.SetDefault("BOARD_SIZE_MAX", 7)
	v.SetDefault("TURN_TIME_LIMIT_SEC", 60)
	v.SetDefault("ENFORCE_TURN_CLOCK", false)
	v.SetDefault("HISTORY_LIMIT", 20)
	v.SetDefault("MOVE_REJECTION_EVENTS", false)
	v.SetDefault("CHAT_MAX_LENGTH", 500)
	v.SetDefault("WS_PING_INTERVAL_SEC", 25)
	v.SetDefault("WS_SEND_BUFFER", 32)
	v.SetDefault("WS_ALLOWED_ORIGINS", "")
	v.SetDefault("MESSAGES_DIR", "")
	v.SetDefault("AI_RANDOM_SEED", "")
	v.SetDefault("CONFIG_FILE", "")
}

// Load reads defaults, then an optional YAML file named by CONFIG_FILE, then
// the environment. Environment values win over the file.
func Load() (*AppConfig, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:            strings.TrimSpace(v.GetString("HTTP_ADDR")),
		JWTSecret:           strings.TrimSpace(v.GetString("JWT_SECRET")),
		JWTIssuer:           strings.TrimSpace(v.GetString("JWT_ISSUER")),
		AuthServiceURL:      strings.TrimSpace(v.GetString("AUTH_SERVICE_URL")),
		AuthTimeout:         time.Duration(v.GetInt("AUTH_TIMEOUT_MS")) * time.Millisecond,
		RedisURL:            strings.TrimSpace(v.GetString("REDIS_URL")),
		RoomTTL:             time.Duration(v.GetInt("ROOM_TTL_HOURS")) * time.Hour,
		DatabaseURL:         strings.TrimSpace(v.GetString("DATABASE_URL")),
		BoardSizeDefault:    v.GetInt("BOARD_SIZE_DEFAULT"),
		BoardSizeMin:        v.GetInt("BOARD_SIZE_MIN"),
		BoardSizeMax:        v.GetInt("BOARD_SIZE_MAX"),
		TurnTimeLimit:       time.Duration(v.GetInt("TURN_TIME_LIMIT_SEC")) * time.Second,
		EnforceTurnClock:    v.GetBool("ENFORCE_TURN_CLOCK"),
		HistoryLimit:        v.GetInt("HISTORY_LIMIT"),
		MoveRejectionEvents: v.GetBool("MOVE_REJECTION_EVENTS"),
		ChatMaxLength:       v.GetInt("CHAT_MAX_LENGTH"),
		WSPingInterval:      time.Duration(v.GetInt("WS_PING_INTERVAL_SEC")) * time.Second,
		WSSendBuffer:        v.GetInt("WS_SEND_BUFFER"),
		WSAllowedOrigins:    splitList(v.Get("WS_ALLOWED_ORIGINS")),
		MessagesDir:         strings.TrimSpace(v.GetString("MESSAGES_DIR")),
	}
	if seed := strings.TrimSpace(v.GetString("AI_RANDOM_SEED")); seed != "" {
		n := v.GetInt64("AI_RANDOM_SEED")
		if n == 0 && seed != "0" {
			return nil, fmt.Errorf("AI_RANDOM_SEED must be an integer, got %q", seed)
		}
		cfg.AIRandomSeed = n
		cfg.AISeeded = true
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	var errs []error
	if c.JWTSecret == "" && c.AuthServiceURL == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or AUTH_SERVICE_URL is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.BoardSizeMin < 3 || c.BoardSizeMax > 10 || c.BoardSizeMin > c.BoardSizeMax {
		errs = append(errs, fmt.Errorf("board size bounds [%d,%d] must satisfy 3 <= min <= max <= 10", c.BoardSizeMin, c.BoardSizeMax))
	} else if c.BoardSizeDefault < c.BoardSizeMin || c.BoardSizeDefault > c.BoardSizeMax {
		errs = append(errs, fmt.Errorf("BOARD_SIZE_DEFAULT %d outside [%d,%d]", c.BoardSizeDefault, c.BoardSizeMin, c.BoardSizeMax))
	}
	if c.TurnTimeLimit <= 0 {
		errs = append(errs, errors.New("TURN_TIME_LIMIT_SEC must be positive"))
	}
	if c.RoomTTL < 0 {
		errs = append(errs, errors.New("ROOM_TTL_HOURS must not be negative"))
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.ChatMaxLength <= 0 {
		c.ChatMaxLength = 500
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 3 * time.Second
	}
	if c.WSPingInterval <= 0 {
		c.WSPingInterval = 25 * time.Second
	}
	if c.WSSendBuffer <= 0 {
		c.WSSendBuffer = 32
	}
	return errors.Join(errs...)
}

// splitList accepts a comma separated string (env) or a YAML sequence.
func splitList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
