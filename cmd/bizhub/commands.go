// ABOUTME: Operator commands: config and owner setup, grants, route listing and health
// ABOUTME: They open the store or config directly and never need a running portal

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/bizhub/internal/auth"
	"github.com/2389/bizhub/internal/config"
	"github.com/2389/bizhub/internal/portal"
	"github.com/2389/bizhub/internal/routes"
	"github.com/2389/bizhub/internal/store"
)

// parseFlags splits args into flag values and positionals. known maps each
// accepted flag (with its leading dashes) to whether it takes a value.
// Both "--flag value" and "--flag=value" are accepted.
func parseFlags(args []string, known map[string]bool) (map[string]string, []string, error) {
	flags := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		takesValue, ok := known[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown flag: %s", name)
		}
		switch {
		case !takesValue && hasValue:
			return nil, nil, fmt.Errorf("%s does not take a value", name)
		case !takesValue:
			flags[name] = "true"
		case hasValue:
			flags[name] = value
		default:
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("%s requires a value", name)
			}
			flags[name] = args[i+1]
			i++
		}
	}
	return flags, positional, nil
}

// firstOf returns the first non-empty value among the given flag names.
func firstOf(flags map[string]string, names ...string) string {
	for _, n := range names {
		if v := flags[n]; v != "" {
			return v
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeConfig renders the starter config with a fresh JWT secret.
func writeConfig(path, dbPath string) error {
	secret, err := generateSecret()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	content := fmt.Sprintf(config.Template, dbPath, secret)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit(configPath, dataPath string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("bizhub configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", configPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataPath, "bizhub.db"))

	if err := writeConfig(outputFile, dbPath); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  bizhub bootstrap --name admin --password ...")
	fmt.Println("  bizhub serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// runBootstrap performs first-time setup:
// 1. Creates the config file with a random JWT secret (if not exists)
// 2. Creates the database and the owner account
//
// bizhub bootstrap --name admin --password secret [--display "Ana Lima"]
func runBootstrap(ctx context.Context, configPath, dataPath string, args []string) error {
	flags, positional, err := parseFlags(args, map[string]bool{
		"--name": true, "-n": true,
		"--password": true, "-p": true,
		"--display": true,
	})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	username := strings.TrimSpace(firstOf(flags, "--name", "-n"))
	password := firstOf(flags, "--password", "-p")
	display := strings.TrimSpace(flags["--display"])
	if username == "" {
		return errors.New("--name flag is required")
	}
	if password == "" {
		return errors.New("--password flag is required")
	}
	if len(display) > 100 {
		return errors.New("display name exceeds maximum length of 100 characters")
	}
	if display == "" {
		display = username
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeConfig(configPath, filepath.Join(dataPath, "bizhub.db")); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", count)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  display,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if err := s.AddRole(ctx, user.ID, store.RoleOwner); err != nil {
		return fmt.Errorf("granting owner role: %w", err)
	}
	green.Printf("  ✓ Created owner: %s\n", username)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner")
	cyan.Println("  -----")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Name:     %s\n", user.DisplayName)
	fmt.Printf("  Roles:    owner\n")
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    bizhub serve                       # start the portal")
	fmt.Printf("    bizhub login --username %s   # sign this terminal in\n", username)
	fmt.Println()
	return nil
}

// runGrant adds or, with --revoke, removes a role's feature grant.
// A running portal picks the change up within one permission TTL.
func runGrant(ctx context.Context, configPath string, args []string) error {
	flags, positional, err := parseFlags(args, map[string]bool{"--revoke": false})
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return errors.New("usage: bizhub grant [--revoke] ROLE FEATURE")
	}
	role, feature := store.RoleName(positional[0]), positional[1]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	green := color.New(color.FgGreen)
	if flags["--revoke"] != "" {
		if err := s.RevokeFeature(ctx, role, feature); err != nil {
			return fmt.Errorf("revoking %s from %s: %w", feature, role, err)
		}
		green.Printf("  ✓ Revoked %s from %s\n", feature, role)
		return nil
	}
	if err := s.GrantFeature(ctx, role, feature); err != nil {
		return fmt.Errorf("granting %s to %s: %w", feature, role, err)
	}
	green.Printf("  ✓ Granted %s to %s\n", feature, role)
	return nil
}

// loadRoutes reads the configured table, falling back to the built-in one
// when no config file exists yet.
func loadRoutes(configPath string) (*routes.Registry, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return routes.DefaultTable(routes.WithLogger(discardLogger()))
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return portal.LoadRoutes(cfg, discardLogger())
}

// runRoutes prints the route table, or with --manifest a TOML manifest
// that can be edited and pointed at by routes.manifest.
func runRoutes(configPath string, args []string, out io.Writer) error {
	flags, positional, err := parseFlags(args, map[string]bool{"--manifest": false})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	reg, err := loadRoutes(configPath)
	if err != nil {
		return err
	}
	if flags["--manifest"] != "" {
		return routes.WriteManifest(out, reg.Entries())
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PATTERN\tMODULE\tACCESS\tLAYOUT\tPRELOAD")
	fmt.Fprintln(w, "  -------\t------\t------\t------\t-------")
	for _, e := range reg.Entries() {
		access := "public"
		switch {
		case e.Feature != "":
			access = e.Feature
		case e.Protected:
			access = "signed-in"
		}
		preload := ""
		if e.Preload {
			preload = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", e.Pattern, e.Module, access, e.Layout, preload)
	}
	return w.Flush()
}

// portalURL is where the CLI reaches a running portal.
func portalURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.HTTPS {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, portalURL(cfg)+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
