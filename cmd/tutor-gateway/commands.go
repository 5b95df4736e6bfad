// ABOUTME: Setup subcommands: init, learner add/list, and token issuance
// ABOUTME: They open the SQLite store directly and need no running gateway

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/tutor-gateway/internal/auth"
	"github.com/2389/tutor-gateway/internal/config"
	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/store"
)

const jwtSecretEnv = "TUTOR_JWT_SECRET"

// getDataPath returns the tutor-gateway data directory.
// Priority: XDG_DATA_HOME/tutor-gateway > ~/.local/share/tutor-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "tutor-gateway")
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// runInit writes the starter config and a .env beside it holding the JWT
// secret the config references. An existing secret is kept.
func runInit(args []string, out io.Writer) error {
	fs, configFlag := newFlagSet("init")
	dbPath := fs.String("db", filepath.Join(getDataPath(), "tutor.db"), "SQLite database path")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := getConfigPath(*configFlag)

	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := strings.Replace(config.DefaultYAML, `"./tutor-gateway.db"`, fmt.Sprintf("%q", *dbPath), 1)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	env, err := godotenv.Read(envPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", envPath, err)
		}
		env = map[string]string{}
	}
	if len(env[jwtSecretEnv]) < config.MinJWTSecretLength {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		env[jwtSecretEnv] = secret
		if err := godotenv.Write(env, envPath); err != nil {
			return fmt.Errorf("writing %s: %w", envPath, err)
		}
		if err := os.Chmod(envPath, 0o600); err != nil {
			return fmt.Errorf("restricting %s: %w", envPath, err)
		}
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Config:  %s\n", configPath)
	green.Fprintf(out, "  ✓ Secrets: %s\n", envPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Next:")
	fmt.Fprintln(out, "    tutor-gateway learner add --id alice --grade 5")
	fmt.Fprintln(out, "    tutor-gateway token --user alice")
	fmt.Fprintln(out, "    tutor-gateway serve")
	return nil
}

// splitList parses a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func openStore(configPath string) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runLearner(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: tutor-gateway learner <add|list> [flags]")
	}
	switch args[0] {
	case "add":
		return runLearnerAdd(ctx, args[1:], out)
	case "list":
		return runLearnerList(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown learner command: %s", args[0])
	}
}

func runLearnerAdd(ctx context.Context, args []string, out io.Writer) error {
	fs, configFlag := newFlagSet("learner add")
	id := fs.String("id", "", "learner id (token subject)")
	name := fs.String("name", "", "display name")
	grade := fs.Int("grade", 0, "grade level")
	language := fs.String("language", "en", "preferred language")
	styles := fs.String("styles", "", "comma separated learning styles")
	access := fs.String("accessibility", "", "comma separated accessibility needs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	profile := &domain.UserProfile{
		UserID:         strings.TrimSpace(*id),
		DisplayName:    strings.TrimSpace(*name),
		GradeLevel:     *grade,
		Language:       strings.TrimSpace(*language),
		LearningStyles: splitList(*styles),
		Accessibility:  splitList(*access),
	}
	if profile.UserID == "" {
		return errors.New("--id is required")
	}
	if profile.GradeLevel < 0 {
		return errors.New("--grade must not be negative")
	}

	_, s, err := openStore(getConfigPath(*configFlag))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.CreateLearner(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("learner %q already exists", profile.UserID)
		}
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ Added learner %s\n", profile.UserID)
	return nil
}

func runLearnerList(ctx context.Context, args []string, out io.Writer) error {
	fs, configFlag := newFlagSet("learner list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, s, err := openStore(getConfigPath(*configFlag))
	if err != nil {
		return err
	}
	defer s.Close()

	learners, err := s.ListLearners(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGRADE\tLANGUAGE\tSTYLES")
	for _, l := range learners {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", l.UserID, l.DisplayName, l.GradeLevel, l.Language, strings.Join(l.LearningStyles, ","))
	}
	return tw.Flush()
}

// runToken issues a bearer token for an existing learner.
func runToken(ctx context.Context, args []string, out io.Writer) error {
	fs, configFlag := newFlagSet("token")
	user := fs.String("user", "", "learner id")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}

	cfg, s, err := openStore(getConfigPath(*configFlag))
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetLearner(ctx, *user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("learner %q not found (add it with: tutor-gateway learner add --id %s)", *user, *user)
		}
		return err
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}
	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(*user, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).UTC().Format(time.RFC3339))
	return nil
}
