// Command sphinx-bot runs the Twitch community bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the ledger (Postgres with migrations, or in-memory).
//   - Serves the EventSub webhook, /healthz, /readyz and /metrics.
//   - Joins Twitch chat and answers commands when chat credentials are set.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/sphinx-bot/attendance"
	"github.com/onnwee/sphinx-bot/chat"
	"github.com/onnwee/sphinx-bot/config"
	"github.com/onnwee/sphinx-bot/content"
	"github.com/onnwee/sphinx-bot/db"
	"github.com/onnwee/sphinx-bot/eventsub"
	"github.com/onnwee/sphinx-bot/ledger"
	"github.com/onnwee/sphinx-bot/quiz"
	"github.com/onnwee/sphinx-bot/rewards"
	"github.com/onnwee/sphinx-bot/server"
	"github.com/onnwee/sphinx-bot/telemetry"
	"github.com/onnwee/sphinx-bot/twitchapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger, closer := telemetry.NewLogger(telemetry.LogOptions{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	slog.SetDefault(logger)
	defer func() { _ = closer.Close() }()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("sphinx-bot", version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bank, err := loadContent(cfg.ContentFile)
	if err != nil {
		return err
	}

	checkHelixCredentials(ctx, cfg)

	// The bot is both the command transport and the announcer; without chat
	// credentials announcements are dropped.
	var bot *chat.Bot
	var announcer interface{ Say(channel, message string) }
	if err := cfg.ValidateChatReady(); err == nil {
		bot = chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel, nil)
		announcer = bot
	} else {
		slog.Info("chat disabled", slog.Any("reason", err), slog.String("component", "chat"))
	}

	rewardSvc := rewards.NewService(store.Gold, store.Coins, bank, rewards.WithWisdomCost(cfg.WisdomCost))
	engine := attendance.NewEngine(store.Attendance)
	quizzes := quiz.NewManager(rewardSvc, announcer, cfg.TwitchChannel, quiz.WithReward(cfg.QuizReward))
	defer quizzes.Close()

	verifier, err := eventsub.NewVerifier(cfg.EventSubSecret)
	if err != nil {
		return err
	}
	guard := eventsub.NewReplayGuard(openSeenStore(ctx, cfg), cfg.EventSubMaxAge)
	dispatcher := &eventsub.Dispatcher{
		Gold:        rewardSvc,
		Attendance:  engine,
		Announcer:   announcer,
		Channel:     cfg.TwitchChannel,
		RewardTitle: cfg.AttendanceRewardName,
	}

	var chatStatus server.ChatStatus
	if bot != nil {
		bot.SetHandler(chat.NewRouter(chat.RouterConfig{
			Attendance:   engine,
			Rewards:      rewardSvc,
			Quiz:         quizzes,
			Bank:         bank,
			Cooldown:     chat.NewCooldown(cfg.CommandCooldown),
			QuizDuration: cfg.QuizDuration,
		}))
		chatStatus = bot
		go func() {
			if err := bot.Run(ctx); err != nil {
				slog.Error("chat bot exited with error", slog.Any("err", err), slog.String("component", "chat"))
			}
		}()
	}

	startPprof()

	handlers := server.NewHandlers(verifier, guard, dispatcher, store, chatStatus)
	errc := make(chan error, 1)
	go func() { errc <- server.Start(ctx, handlers, cfg.HTTPAddr) }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return <-errc
	case err := <-errc:
		return err
	}
}

// openLedger connects the configured backend. A Postgres ledger that cannot
// be reached is fatal; the bot never silently falls back to memory.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Store, func(), error) {
	if cfg.LedgerBackend == config.BackendMemory {
		slog.Warn("using in-memory ledger; balances are lost on restart", slog.String("component", "ledger"))
		return ledger.NewMemoryStore(), func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate ledger schema: %w", err)
		}
	}
	return ledger.NewPostgresStore(database), closeDB, nil
}

// openSeenStore shares replay state through Redis when configured so several
// replicas reject the same redelivery.
func openSeenStore(ctx context.Context, cfg *config.Config) eventsub.SeenStore {
	if cfg.RedisAddr == "" {
		return eventsub.NewMemorySeen()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-process replay cache",
			slog.String("addr", cfg.RedisAddr), slog.Any("err", err), slog.String("component", "eventsub"))
		_ = client.Close()
		return eventsub.NewMemorySeen()
	}
	return eventsub.NewRedisSeen(client, "")
}

func loadContent(path string) (*content.Bank, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}

// checkHelixCredentials fetches an app token once so bad client credentials
// show up at startup. It never blocks the bot from running.
func checkHelixCredentials(ctx context.Context, cfg *config.Config) {
	if cfg.ValidateHelixReady() != nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	tok, err := (&twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}).Get(tctx)
	if err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		return
	}
	if len(tok) > 6 {
		slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
	}
}

// startPprof exposes /debug/pprof on PPROF_ADDR when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
