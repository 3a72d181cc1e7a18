// ABOUTME: Entry point for the bizhub portal server and its operator commands
// ABOUTME: Dispatches serve, init, bootstrap, grant, routes, login, whoami, resolve and health

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/bizhub/internal/config"
	"github.com/2389/bizhub/internal/portal"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _     _     _           _
 | |__ (_)___| |__  _   _| |__
 | '_ \| |_  / '_ \| | | | '_ \
 | |_) | |/ /| | | | |_| | |_) |
 |_.__/|_/___|_| |_|\__,_|_.__/
`

// getConfigPath returns the path to the portal config file.
// Priority: BIZHUB_CONFIG env var > XDG_CONFIG_HOME/bizhub/portal.yaml > ~/.config/bizhub/portal.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BIZHUB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "portal.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "bizhub", "portal.yaml")
}

// getDataPath returns the bizhub data directory.
// Priority: XDG_DATA_HOME/bizhub > ~/.local/share/bizhub
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "bizhub")
}

func usage() {
	fmt.Println("Usage: bizhub <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the portal")
	fmt.Println("  init                               Write a starter config file")
	fmt.Println("  bootstrap --name USER --password P Create the owner account")
	fmt.Println("  grant ROLE FEATURE                 Grant a feature to a role")
	fmt.Println("  routes [--manifest]                Print the route table")
	fmt.Println("  login --username USER              Sign this terminal in")
	fmt.Println("  logout                             Sign this terminal out")
	fmt.Println("  whoami                             Show the signed-in user and features")
	fmt.Println("  resolve PATH                       Dry-run a navigation")
	fmt.Println("  health                             Check portal health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(getConfigPath(), getDataPath())
	case "bootstrap":
		err = runBootstrap(ctx, getConfigPath(), getDataPath(), args)
	case "grant":
		err = runGrant(ctx, getConfigPath(), args)
	case "routes":
		err = runRoutes(getConfigPath(), args, os.Stdout)
	case "login":
		err = runLogin(ctx, getConfigPath(), getDataPath(), args)
	case "logout":
		err = runLogout(ctx, getConfigPath(), getDataPath())
	case "whoami":
		err = runWhoami(ctx, getConfigPath(), getDataPath(), os.Stdout)
	case "resolve":
		err = runResolve(ctx, getConfigPath(), getDataPath(), args, os.Stdout)
	case "health":
		err = runHealth(ctx, getConfigPath())
	case "help", "-h", "--help":
		usage()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Session.Backend)
	green.Print("    ▶ ")
	if cfg.API.BaseURL == "" {
		fmt.Printf("API:       built-in (/api)\n")
	} else {
		fmt.Printf("API:       %s\n", cfg.API.BaseURL)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting bizhub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"session_backend", cfg.Session.Backend,
	)

	p, err := portal.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating portal: %w", err)
	}
	return p.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{state: &colorState{}, level: level})
}

// colorState is shared by a handler and everything derived from it, so
// one lock covers all writes.
type colorState struct {
	mu sync.Mutex
}

// colorHandler writes one colorized line per record to stdout.
type colorHandler struct {
	state  *colorState
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	line := h.format(r)
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	_, err := fmt.Print(line)
	return err
}

func (h *colorHandler) format(r slog.Record) string {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	write := func(key string, v slog.Value) {
		buf.WriteString(color.HiBlackString(" " + key + "="))
		buf.WriteString(v.String())
	}
	for _, a := range h.attrs {
		write(a.Key, a.Value)
	}
	prefix := h.groupPrefix()
	r.Attrs(func(a slog.Attr) bool {
		write(prefix+a.Key, a.Value)
		return true
	})

	buf.WriteString("\n")
	return buf.String()
}

// groupPrefix qualifies keys with the groups opened so far.
func (h *colorHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	prefix := h.groupPrefix()
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{state: h.state, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{state: h.state, level: h.level, attrs: h.attrs, groups: newGroups}
}
