package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threadbot/internal/completion"
	"threadbot/internal/config"
	"threadbot/internal/conversation"
	"threadbot/internal/export"
	"threadbot/internal/feeds"
	"threadbot/internal/fetch"
	"threadbot/internal/handlers"
	"threadbot/internal/logger"
	"threadbot/internal/prompt"
	"threadbot/internal/responder"
	sentryutil "threadbot/internal/sentry"
	"threadbot/internal/session"
	"threadbot/internal/stats"
	"threadbot/internal/telegram"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:   "threadbot",
	Short: "Telegram content strategist backed by a hosted LLM",
	Long: `threadbot turns topics into X thread ideas, refines drafts in a preset
tone or the user's own style, and summarizes news, market and web research.

Run without arguments to start the bot.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
		logger.SetLevel(config.Cfg.LogLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var checkEnvCmd = &cobra.Command{
	Use:   "check-env",
	Short: "Verify configuration and the prompt catalog, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkEnv(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, checkEnvCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func checkEnv(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	cfgErr := config.Cfg.Validate()
	if cfgErr != nil {
		fmt.Fprintf(out, "configuration:\n%v\n", cfgErr)
	} else {
		fmt.Fprintln(out, "configuration: ok")
	}

	cat, catErr := loadCatalog()
	if catErr != nil {
		fmt.Fprintf(out, "prompt catalog: %v\n", catErr)
	} else {
		fmt.Fprintf(out, "prompt catalog: ok (%d tones, %d refinements, news: %v)\n",
			len(cat.Tones), len(cat.Refinements), cat.Categories())
	}
	return errors.Join(cfgErr, catErr)
}

func loadCatalog() (*prompt.Catalog, error) {
	if config.Cfg.PromptsDir != "" {
		return prompt.Load(config.Cfg.PromptsDir)
	}
	return prompt.Default()
}

func newStore() (session.Store, func(context.Context) (int, error), func() error, error) {
	switch config.Cfg.SessionStore {
	case "sqlite":
		s, err := session.NewSQLiteStore(config.Cfg.SessionDBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Count, s.Close, nil
	default:
		s := session.NewMemoryStore(config.Cfg.SessionIdleTTL)
		count := func(context.Context) (int, error) { return s.Len(), nil }
		return s, count, s.Close, nil
	}
}

func newProvider(ctx context.Context) (completion.Provider, error) {
	c := config.Cfg
	switch c.CompletionProvider {
	case "gemini":
		return completion.NewGeminiProvider(ctx, c.GeminiAPIKey, c.GeminiModel, c.CompletionMaxTokens, c.CompletionTemperature)
	case "static":
		return &completion.StaticProvider{Reply: "gm. This is an offline reply; set COMPLETION_PROVIDER to reach a model."}, nil
	default:
		return completion.NewHTTPProvider(completion.HTTPConfig{
			URL:         c.CompletionURL,
			APIKey:      c.CompletionAPIKey,
			Model:       c.CompletionModel,
			MaxTokens:   c.CompletionMaxTokens,
			Temperature: c.CompletionTemperature,
			Timeout:     c.CompletionTimeout,
		}), nil
	}
}

func runBot(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	sentryutil.Init()
	defer sentryutil.Flush()

	cat, err := loadCatalog()
	if err != nil {
		return fmt.Errorf("prompt catalog: %w", err)
	}
	holder := prompt.NewHolder(cat)

	store, countSessions, closeStore, err := newStore()
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("session store close failed", map[string]interface{}{"error": err})
		}
	}()

	provider, err := newProvider(ctx)
	if err != nil {
		return fmt.Errorf("completion provider: %w", err)
	}

	counter := stats.Load(cfg.StatsFile)
	cache := fetch.New(fetch.Options{UserAgent: cfg.UserAgent})
	breaker := fetch.NewBreaker(3, 5*time.Minute)

	controller := conversation.New(conversation.Deps{
		Store:           store,
		Catalog:         holder,
		Completer:       completion.NewClient(provider, counter),
		News:            feeds.NewRSS(cache, breaker, cfg.FeedCharBudget),
		Market:          feeds.NewMarket(cache, cfg.CoinGeckoURL, cfg.FeedCharBudget),
		Research:        feeds.NewSearch(cache, cfg.SearchURL, cfg.FeedCharBudget),
		Export:          export.Render,
		Stats:           counter,
		FilterProfanity: cfg.ProfanityFilter,
	})

	userLimiter := handlers.PerMinute(cfg.UserRatePerMin, cfg.UserRateBurst)
	defer userLimiter.Close()

	api, err := telegram.Dial(ctx, &http.Client{Timeout: cfg.TelegramPollTimeout + 30*time.Second}, cfg.TelegramAPIURL, cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	var out *responder.Responder
	bot := telegram.NewBot(api, func(ctx context.Context, chatID int64, text string) {
		ev := conversation.ParseEvent(chatID, text)
		logger.Debug("event", map[string]interface{}{
			"chat_id": chatID, "command": ev.Command, "request_id": telegram.RequestID(ctx),
		})
		controller.HandleEvent(ctx, ev, conversation.Emitter(ctx, out, chatID))
	}, telegram.Options{
		PollTimeout:    cfg.TelegramPollTimeout,
		MaxConcurrency: cfg.BotMaxConcurrency,
		QueueSize:      cfg.BotQueueSize,
		Limiter:        userLimiter,
		LimitedText:    cat.Text("rate_limited"),
		FailureText:    cat.Text("internal_error"),
	})
	out = responder.New(bot)
	out.Notice = cat.Text("delivery_error")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })
	g.Go(func() error { return counter.Run(ctx) })

	if cfg.PromptsDir != "" && cfg.PromptsWatch {
		g.Go(func() error { return prompt.Watch(ctx, cfg.PromptsDir, holder) })
	}

	if cfg.StatusAddr != "" {
		status := &handlers.Status{
			Started:  time.Now(),
			Backend:  cfg.SessionStore,
			Counter:  counter,
			Cache:    cache,
			Breaker:  breaker,
			Sessions: countSessions,
			Limiter:  handlers.NewRateLimiter(cfg.StatusRateRPS, cfg.StatusBurst, time.Second),
		}
		defer status.Limiter.Close()
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           status.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status server starting", map[string]interface{}{"addr": cfg.StatusAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("threadbot starting", map[string]interface{}{
		"provider": cfg.CompletionProvider, "sessions": cfg.SessionStore, "status": cfg.StatusAddr != "",
	})
	err = g.Wait()
	logger.Info("threadbot stopped", map[string]interface{}{"error": err})
	return err
}
