package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "JWT_SECRET", "JWT_ISSUER", "AUTH_SERVICE_URL", "AUTH_TIMEOUT_MS",
		"REDIS_URL", "ROOM_TTL_HOURS", "DATABASE_URL", "BOARD_SIZE_DEFAULT", "BOARD_SIZE_MIN",
		"BOARD_SIZE_MAX", "TURN_TIME_LIMIT_SEC", "ENFORCE_TURN_CLOCK", "HISTORY_LIMIT",
		"MOVE_REJECTION_EVENTS", "CHAT_MAX_LENGTH", "WS_PING_INTERVAL_SEC", "WS_SEND_BUFFER",
		"WS_ALLOWED_ORIGINS", "MESSAGES_DIR", "AI_RANDOM_SEED", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.BoardSizeDefault != 3 || cfg.BoardSizeMax != 7 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.TurnTimeLimit != 60*time.Second || cfg.AuthTimeout != 3*time.Second || cfg.RoomTTL != 0 {
		t.Fatalf("durations = %v %v %v", cfg.TurnTimeLimit, cfg.AuthTimeout, cfg.RoomTTL)
	}
	if cfg.MoveRejectionEvents || cfg.EnforceTurnClock || cfg.AISeeded {
		t.Fatalf("flags should default off: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_SERVICE_URL", "http://auth:4000")
	t.Setenv("BOARD_SIZE_MAX", "5")
	t.Setenv("BOARD_SIZE_DEFAULT", "4")
	t.Setenv("MOVE_REJECTION_EVENTS", "true")
	t.Setenv("WS_ALLOWED_ORIGINS", "example.com, *.example.org ,")
	t.Setenv("AI_RANDOM_SEED", "42")
	t.Setenv("ROOM_TTL_HOURS", "24")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthServiceURL != "http://auth:4000" || cfg.BoardSizeMax != 5 || cfg.BoardSizeDefault != 4 {
		t.Fatalf("env values = %+v", cfg)
	}
	if !cfg.MoveRejectionEvents || cfg.RoomTTL != 24*time.Hour {
		t.Fatalf("flags = %+v", cfg)
	}
	if len(cfg.WSAllowedOrigins) != 2 || cfg.WSAllowedOrigins[1] != "*.example.org" {
		t.Fatalf("origins = %q", cfg.WSAllowedOrigins)
	}
	if !cfg.AISeeded || cfg.AIRandomSeed != 42 {
		t.Fatalf("seed = %d/%v", cfg.AIRandomSeed, cfg.AISeeded)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ttt.yaml")
	body := "jwt_secret: from-file\nhttp_addr: \":9000\"\nchat_max_length: 80\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9100")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "from-file" || cfg.ChatMaxLength != 80 {
		t.Fatalf("file values = %+v", cfg)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("env should override file, got %q", cfg.HTTPAddr)
	}
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected credential config error, got %v", err)
	}

	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BOARD_SIZE_MIN", "6")
	t.Setenv("BOARD_SIZE_MAX", "4")
	if _, err := Load(); err == nil {
		t.Fatalf("expected board bounds error")
	}

	t.Setenv("BOARD_SIZE_MIN", "3")
	t.Setenv("BOARD_SIZE_MAX", "5")
	t.Setenv("BOARD_SIZE_DEFAULT", "9")
	if _, err := Load(); err == nil {
		t.Fatalf("expected default size error")
	}

	t.Setenv("BOARD_SIZE_DEFAULT", "3")
	t.Setenv("AI_RANDOM_SEED", "abc")
	if _, err := Load(); err == nil {
		t.Fatalf("expected seed parse error")
	}

	t.Setenv("AI_RANDOM_SEED", "")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing config file error")
	}
}
