// ABOUTME: Terminal session commands: login, logout, whoami and navigation dry runs
// ABOUTME: The terminal is one application instance whose slot lives in the data directory

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/bizhub/internal/client"
	"github.com/2389/bizhub/internal/config"
	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/permission"
	"github.com/2389/bizhub/internal/pipeline"
	"github.com/2389/bizhub/internal/session"
	"github.com/2389/bizhub/internal/views"
)

const cliSessionFile = "cli-session.json"

// apiBaseURL is the configured remote API, or the built-in one of a running portal.
func apiBaseURL(cfg *config.Config) string {
	if cfg.API.BaseURL != "" {
		return cfg.API.BaseURL
	}
	return portalURL(cfg) + "/api"
}

// terminal is the CLI's own application instance.
type terminal struct {
	api     *client.Client
	session *session.Store
	access  *permission.Oracle
}

// openTerminal restores the terminal's session from its slot file.
func openTerminal(ctx context.Context, cfg *config.Config, dataPath string) *terminal {
	api := client.New(apiBaseURL(cfg))
	repo := session.NewFileRepository(filepath.Join(dataPath, cliSessionFile))
	sess := session.NewStore(repo, api, session.WithLogger(discardLogger()))
	access := permission.NewOracle(api, sess,
		permission.WithTTL(cfg.Permissions.TTL),
		permission.WithLookupTimeout(cfg.Permissions.LookupTimeout),
		permission.WithAuthFailure(sess.Expire),
		permission.WithLogger(discardLogger()),
	)
	sess.SetInvalidator(access)

	rctx, cancel := context.WithTimeout(ctx, cfg.Session.RestoreTimeout)
	defer cancel()
	sess.Restore(rctx)
	return &terminal{api: api, session: sess, access: access}
}

func readPassword(in io.Reader) (string, error) {
	fmt.Print("Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(ctx context.Context, configPath, dataPath string, args []string) error {
	flags, positional, err := parseFlags(args, map[string]bool{
		"--username": true, "-u": true,
		"--password": true, "-p": true,
	})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}
	username := firstOf(flags, "--username", "-u")
	if username == "" {
		return errors.New("--username flag is required")
	}
	password := firstOf(flags, "--password", "-p")
	if password == "" {
		if password, err = readPassword(os.Stdin); err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	t := openTerminal(ctx, cfg, dataPath)
	if t.session.Session().IsAuthenticated {
		if err := t.session.Logout(ctx); err != nil {
			return fmt.Errorf("signing out previous user: %w", err)
		}
	}

	sess, err := t.session.Login(ctx, session.Credentials{Username: username, Password: password})
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return errors.New("invalid username or password")
		}
		return fmt.Errorf("login failed: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Signed in as %s (%s)\n", sess.Identity.DisplayName, sess.Identity.Username)
	return nil
}

func runLogout(ctx context.Context, configPath, dataPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	t := openTerminal(ctx, cfg, dataPath)
	if !t.session.Session().IsAuthenticated {
		fmt.Println("  Not signed in.")
		return nil
	}
	if err := t.session.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	color.New(color.FgGreen).Println("  ✓ Signed out")
	return nil
}

func runWhoami(ctx context.Context, configPath, dataPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	t := openTerminal(ctx, cfg, dataPath)
	sess := t.session.Session()
	if !sess.IsAuthenticated {
		return errors.New("not signed in (run bizhub login)")
	}

	features, err := t.api.UserFeatures(ctx, sess.Token)
	if err != nil {
		return fmt.Errorf("listing features: %w", err)
	}
	sort.Strings(features)

	fmt.Fprintf(out, "  ID:       %s\n", sess.Identity.ID)
	fmt.Fprintf(out, "  Username: %s\n", sess.Identity.Username)
	fmt.Fprintf(out, "  Name:     %s\n", sess.Identity.DisplayName)
	fmt.Fprintf(out, "  Roles:    %s\n", strings.Join(sess.Identity.Roles, ", "))
	fmt.Fprintf(out, "  Features: %s\n", strings.Join(features, ", "))
	return nil
}

// runResolve runs one navigation through the pipeline as the terminal's
// user and reports the outcome without serving anything.
func runResolve(ctx context.Context, configPath, dataPath string, args []string, out io.Writer) error {
	_, positional, err := parseFlags(args, nil)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: bizhub resolve PATH")
	}
	target, err := url.Parse(positional[0])
	if err != nil || !strings.HasPrefix(target.Path, "/") {
		return fmt.Errorf("invalid path %q", positional[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	reg, err := loadRoutes(configPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	catalogOpts := []views.Option{views.WithDirectory(s), views.WithLogger(discardLogger())}
	if cfg.Loader.ContentDir != "" {
		catalogOpts = append(catalogOpts, views.WithContentDir(cfg.Loader.ContentDir))
	}
	ld := loader.New(views.NewCatalog(catalogOpts...), loader.WithTimeout(cfg.Loader.LoadTimeout))
	layouts, err := layout.NewSelector(discardLogger())
	if err != nil {
		return fmt.Errorf("parsing layouts: %w", err)
	}
	pipe := pipeline.New(reg, ld, layouts,
		pipeline.WithSuspenseTimeout(cfg.Loader.LoadTimeout),
		pipeline.WithLogger(discardLogger()),
	)

	t := openTerminal(ctx, cfg, dataPath)
	if t.session.Session().IsAuthenticated {
		if err := t.access.Prefetch(ctx); err != nil {
			fmt.Fprintf(out, "  warning: permission prefetch failed: %v\n", err)
		}
	}

	res := pipe.Resolve(ctx, pipeline.NavigationRequest{Path: target.Path, Query: target.Query()}, t.session, t.access)
	printOutcome(out, t.session.Session(), res)
	return nil
}

func printOutcome(out io.Writer, sess session.Session, res pipeline.Outcome) {
	viewer := "anonymous"
	if sess.IsAuthenticated {
		viewer = sess.Identity.Username
	}
	fmt.Fprintf(out, "  Path:     %s\n", res.Path)
	fmt.Fprintf(out, "  Viewer:   %s\n", viewer)
	fmt.Fprintf(out, "  Outcome:  %s (%d)\n", res.Kind, res.Status)
	if res.Entry != nil {
		fmt.Fprintf(out, "  Route:    %s -> %s\n", res.Entry.Pattern, res.Entry.Module)
		if res.Entry.Feature != "" {
			fmt.Fprintf(out, "  Feature:  %s\n", res.Entry.Feature)
		}
	}
	if len(res.Params) > 0 {
		keys := make([]string, 0, len(res.Params))
		for k := range res.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + res.Params[k]
		}
		fmt.Fprintf(out, "  Params:   %s\n", strings.Join(pairs, " "))
	}
	if res.Kind == pipeline.Redirect {
		fmt.Fprintf(out, "  Location: %s\n", res.Location)
		return
	}
	fmt.Fprintf(out, "  Layout:   %s\n", res.Layout)
	if res.Content.Title != "" {
		fmt.Fprintf(out, "  Title:    %s\n", res.Content.Title)
	}
	if res.Err != nil {
		fmt.Fprintf(out, "  Error:    %v\n", res.Err)
	}
}
