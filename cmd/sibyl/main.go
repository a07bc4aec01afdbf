// ABOUTME: Entry point for the sibyl answer-engine server
// ABOUTME: Provides serve, init, token, and health commands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/sibyl-sh/sibyl/internal/agents"
	"github.com/sibyl-sh/sibyl/internal/auth"
	"github.com/sibyl-sh/sibyl/internal/config"
	"github.com/sibyl-sh/sibyl/internal/engine"
	"github.com/sibyl-sh/sibyl/internal/gateway"
	"github.com/sibyl-sh/sibyl/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _ _           _
 ___(_) |__  _   _| |
/ __| | '_ \| | | | |
\__ \ | |_) | |_| | |
|___/_|_.__/ \__, |_|
             |___/
`

// getConfigPath returns the path to the sibyl config file.
// Priority: SIBYL_CONFIG env var > XDG_CONFIG_HOME/sibyl/sibyl.yaml > ~/.config/sibyl/sibyl.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SIBYL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "sibyl.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sibyl", "sibyl.yaml")
}

// getDataPath returns the path to the sibyl data directory.
// Priority: XDG_DATA_HOME/sibyl > ~/.local/share/sibyl
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "sibyl")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sibyl <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve               Start the answer-engine server")
		fmt.Println("  init                Create a config file with a fresh JWT secret")
		fmt.Println("  token --user USER   Generate an API token for a user")
		fmt.Println("  health              Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Model:   %s\n", modelName(cfg))
	fmt.Println()

	logger.Info("starting sibyl",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	prompts, err := agents.LoadPrompts(cfg.Agents.PromptsPath)
	if err != nil {
		st.Close()
		return fmt.Errorf("loading prompts: %w", err)
	}

	var search *agents.SearchClient
	if cfg.Search.APIKey != "" {
		search = agents.NewSearchClient(agents.SearchConfig{
			Endpoint: cfg.Search.BaseURL,
			APIKey:   cfg.Search.APIKey,
			Timeout:  cfg.Search.Timeout,
		})
	} else {
		logger.Warn("search.api_key not set, research runs without web search")
	}

	llm := agents.NewAnthropic(agents.AnthropicConfig{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: int64(cfg.LLM.MaxTokens),
	}, prompts, search, logger)

	eng := engine.New(engine.Config{
		SpecificAPI: cfg.Engine.SpecificAPI,
		MaxAttempts: cfg.Engine.MaxAttempts,
	}, engine.Agents{
		TaskManager: llm,
		Inquirer:    llm,
		Researcher:  llm,
		Writer:      llm,
		Suggester:   llm,
	}, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	gw := gateway.New(cfg, eng, st, verifier, logger)
	return gw.Run(ctx)
}

func modelName(cfg *config.Config) string {
	if cfg.LLM.Model != "" {
		return cfg.LLM.Model
	}
	return agents.DefaultModel
}

// runInit writes a starter config with a random JWT secret.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "sibyl.db")

	green := color.New(color.FgGreen)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# sibyl configuration
# Generated by sibyl init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

engine:
  specific_api: false
  max_attempts: 3

llm:
  api_key: "${ANTHROPIC_API_KEY}"
  model: "%s"
  max_tokens: 2500

search:
  api_key: "${TAVILY_API_KEY}"
  base_url: "https://api.tavily.com/search"
  timeout: "15s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, agents.DefaultModel)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("  Set ANTHROPIC_API_KEY (and optionally TAVILY_API_KEY) before running `sibyl serve`.")
	return nil
}

// runToken generates a signed JWT for a user so clients can authenticate.
func runToken() error {
	var userID string
	expiresIn := 90 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if userID == "" {
		userID = uuid.New().String()
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(userID, expiresIn)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for user %s\n\n", userID)
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
