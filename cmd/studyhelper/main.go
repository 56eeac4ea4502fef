package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/studyhelper/internal/backend"
	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/llm"
	"github.com/pavelanni/studyhelper/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studyhelper",
		Short:        "Turn a photo of study material into a summary, a quiz and a tutor",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			loadDotenv()
		},
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		analyzeCmd(),
		quizCmd(),
		chatCmd(),
		exportCmd(),
		documentsCmd(),
		downloadsCmd(),
		hashPasswordCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// loadDotenv reads .env into the environment. Variables already set win.
func loadDotenv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env", "error", err)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", backend.DefaultBaseURL, "Study helper backend base URL")
	f.Duration("timeout", backend.DefaultTimeout, "Backend request timeout")
	f.String("db", "studyhelper.db", "SQLite database for recent documents and downloads (empty disables it)")
	f.StringP("lang", "l", "en", "Language for messages (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addChatFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("chat-backend", "service", "Who answers chat questions (service, llm)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("tutor-style", "standard", "Tutor style for the llm chat backend (concise, standard, socratic)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("STUDYHELPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("studyhelper")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/studyhelper")
	v.AddConfigPath("/etc/studyhelper")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// env is what every command shares: configuration, the backend client and
// the optional local database.
type env struct {
	v      *viper.Viper
	client *backend.Client
	db     *store.Store

	tutorCache *llm.Tutor
}

func newEnv(cmd *cobra.Command) (*env, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	e := &env{
		v: v,
		client: backend.New(backend.Config{
			BaseURL: v.GetString("api-url"),
			Timeout: v.GetDuration("timeout"),
		}),
	}
	if path := v.GetString("db"); path != "" {
		db, err := store.New(path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		e.db = db
	}
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// documentID returns the --document flag, falling back to the last document
// remembered in the database.
func (e *env) documentID(cmd *cobra.Command) (string, error) {
	if id := strings.TrimSpace(e.v.GetString("document")); id != "" {
		return id, nil
	}
	if e.db != nil {
		id, err := e.db.LastDocumentID(cmd.Context())
		if err != nil {
			return "", fmt.Errorf("read last document: %w", err)
		}
		if id != "" {
			return id, nil
		}
	}
	return "", errors.New("no document: pass --document or analyze an image first")
}
