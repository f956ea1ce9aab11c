package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/app"
	"github.com/woedy/snelroi-chat/internal/config"
	"github.com/woedy/snelroi-chat/internal/credentials"
	"github.com/woedy/snelroi-chat/internal/logging"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	apiURL := flag.String("url", "", "Override the API base URL (e.g. http://localhost:8000/api)")
	token := flag.String("token", "", "Bearer token (skips the credential store)")
	conversation := flag.Int64("conversation", 0, "Join an existing conversation instead of opening your own")
	role := flag.String("role", "", "Local role: customer or admin")
	noNotify := flag.Bool("no-notifications", false, "Do not open the notification stream")
	style := flag.String("style", "dark", "Markdown style for agent replies: dark, light or notty")
	flag.Parse()

	if err := run(options{
		configPath:     *configPath,
		configRequired: flagSet("config"),
		apiURL:         *apiURL,
		token:          *token,
		conversation:   *conversation,
		role:           *role,
		notifications:  !*noNotify,
		style:          *style,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath     string
	configRequired bool
	apiURL         string
	token          string
	conversation   int64
	role           string
	notifications  bool
	style          string
}

func run(o options) error {
	_ = godotenv.Load()

	cfg, err := config.Load(o.configPath, o.configRequired)
	if err != nil {
		return err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.token != "" {
		cfg.Credentials.Token = o.token
	}
	if o.role != "" {
		cfg.Realtime.Role = o.role
	}

	// The terminal belongs to the UI, so logs always go to a file.
	log, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	tokens, closeTokens, err := tokenSource(cfg.Credentials)
	if err != nil {
		return err
	}
	defer closeTokens()

	api := support.NewClient(cfg.API.BaseURL, tokens, cfg.API.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	conv, err := loadConversation(ctx, api, o.conversation)
	cancel()
	if err != nil {
		return err
	}
	log.Info("conversation loaded", zap.Int64("conversation", conv.ID), zap.Int("messages", len(conv.Messages)))

	rtOpts := realtime.Options{
		APIBaseURL:        cfg.API.BaseURL,
		Tokens:            tokens,
		Role:              realtime.Role(cfg.Realtime.Role),
		BaseDelay:         cfg.Realtime.BaseDelay,
		MaxAttempts:       cfg.Realtime.MaxAttempts,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		TypingQuietPeriod: cfg.Realtime.TypingQuietPeriod,
		WriteTimeout:      cfg.Realtime.WriteTimeout,
		Logger:            log,
	}
	chat := realtime.New(rtOpts)

	var notify app.Session
	if o.notifications {
		notify = realtime.NewNotifications(rtOpts)
	}

	m := app.New(app.Options{
		Chat:          chat,
		Notifications: notify,
		API:           api,
		Conversation:  *conv,
		MaxAttempts:   cfg.Realtime.MaxAttempts,
		MarkdownStyle: o.style,
		Logger:        log,
	})
	defer m.Shutdown()

	start := time.Now()
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return errors.Wrap(err, "run ui")
	}
	log.Info("session ended", zap.Duration("duration", time.Since(start)))
	return nil
}

// tokenSource prefers an explicit token and falls back to the credential
// store's legacy keys.
func tokenSource(c config.CredentialsConfig) (credentials.Source, func(), error) {
	if c.Token != "" {
		return credentials.Static(c.Token), func() {}, nil
	}
	store, err := credentials.OpenSQLite(c.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return credentials.NewResolver(store, c.Keys...), func() { store.Close() }, nil
}

func loadConversation(ctx context.Context, api *support.Client, id int64) (*support.Conversation, error) {
	if id > 0 {
		conv, err := api.GetConversation(ctx, id)
		return conv, errors.Wrapf(err, "load conversation %d", id)
	}
	conv, err := api.GetOrCreateConversation(ctx)
	return conv, errors.Wrap(err, "open support conversation")
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
