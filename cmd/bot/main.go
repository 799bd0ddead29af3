package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/handlers"
	"github.com/faithtrack-bot-go/internal/i18n"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/faithtrack-bot-go/internal/services/cache"
	dynamicconfig "github.com/faithtrack-bot-go/internal/services/config"
	"github.com/faithtrack-bot-go/internal/services/moderation"
	"github.com/faithtrack-bot-go/internal/services/notification"
	"github.com/faithtrack-bot-go/internal/services/ratelimit"
	"github.com/faithtrack-bot-go/internal/services/search"
	"github.com/faithtrack-bot-go/internal/services/storage"
	"github.com/faithtrack-bot-go/internal/services/supabase"
	"github.com/faithtrack-bot-go/pkg/logger"
	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// throttleIdle is how long an API client's token bucket is kept unused
const throttleIdle = 10 * time.Minute

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting FaithTrack...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	pol, err := policy.New(cfg.FailurePolicy, log, m)
	if err != nil {
		log.WithError(err).Fatal("Invalid failure policy")
	}

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	// Supabase is optional; without it search returns nothing and
	// persisted tiers fall back to local ones
	var supabaseClient *supabase.Client
	if cfg.Supabase.Enabled() {
		supabaseClient, err = supabase.NewClient(cfg.Supabase, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize Supabase client")
		}
		log.WithField("url", cfg.Supabase.URL).Info("Supabase client initialized")
	}

	// Initialize rate limiter
	limitStore, closeStore := rateLimitStore(cfg, storageManager, supabaseClient, log)
	defer closeStore()
	limiter := ratelimit.NewLimiter(cfg.RateLimit, limitStore, pol, log, m, nil)

	// Initialize moderation
	moderator, err := moderation.NewModerator(cfg.Moderation, moderationLogStore(cfg, supabaseClient), pol, log, m, nil)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize moderation")
	}

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize bot
	var bot *tgbotapi.BotAPI
	if cfg.Bot.Enabled {
		bot, err = tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			log.WithError(err).Fatal("Failed to create bot")
		}
		bot.Debug = cfg.Logging.Level == "debug"
		log.WithField("username", bot.Self.UserName).Info("Bot authorized")
	}

	// Initialize notifications
	var notifier notification.Notifier = notification.NewLogNotifier(log)
	if bot != nil {
		notifier = notification.NewTelegramNotifier(bot, notifier)
	}
	scheduler, err := notification.NewScheduler(cfg.Notifications, storageManager, notifier, localizer, pol, log, m, nil)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize notifications")
	}

	// Initialize search
	var rpc search.RPCClient
	if supabaseClient != nil {
		rpc = supabaseClient
	}
	searchService := search.NewService(rpc, cache.NewCache(cfg.Search.CacheTTL, cfg.Search.CacheSize, log), cfg.Search.Limit, pol, log, m)

	api := handlers.NewAPI(cfg, limiter, moderator, scheduler, searchService, m, log)

	// Rules added through the API outlive restarts when Redis is available
	if redisClient := storageManager.GetRedisClient(); redisClient != nil {
		dynamicConfig := dynamicconfig.NewDynamicConfigService(redisClient, log)
		if _, err := dynamicConfig.Load(ctx, moderator); err != nil {
			log.WithError(err).Warn("Failed to load dynamic moderation rules")
		}
		dynamicConfig.RegisterConfigChangeListener(func(rules []models.ModerationRule) {
			log.WithField("stored_rules", len(rules)).Info("Dynamic moderation rules changed")
		})
		api.PersistRules(dynamicConfig)
	}
	router := api.Router()

	// Setup update channel
	var updates tgbotapi.UpdatesChannel
	if bot != nil {
		updates = setupUpdates(bot, cfg, router, log)
	}

	var wg sync.WaitGroup

	// Periodic jobs
	jobs := cron.New()
	sweepEvery := cfg.RateLimit.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	if _, err := jobs.AddFunc("@every "+sweepEvery.String(), func() {
		removed := limiter.Sweep()
		pruned := api.RateLimit().Throttle().Prune(throttleIdle)
		if err := limiter.PurgeStore(ctx); err != nil {
			log.WithError(err).Warn("Failed to purge expired rate limits")
		}
		log.WithFields(logrus.Fields{
			"rate_limit_entries": removed,
			"api_clients":        pruned,
		}).Debug("Periodic cleanup finished")
	}); err != nil {
		log.WithError(err).Fatal("Failed to schedule cleanup")
	}
	jobs.Start()

	// Notification scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			log.WithError(err).Error("Notification scheduler stopped")
		}
	}()

	// HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Main bot loop
	if updates != nil {
		commandHandler := handlers.NewCommandHandler(bot, cfg, storageManager, limiter, scheduler, searchService, localizer, m, log)
		messageHandler := handlers.NewMessageHandler(cfg, bot, storageManager, limiter, moderator, localizer, m, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update, ok := <-updates:
					if !ok {
						return
					}
					handleUpdate(ctx, update, commandHandler, messageHandler, log)
				}
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down HTTP server")
	}
	<-jobs.Stop().Done()

	if bot != nil {
		if cfg.Bot.Webhook.Enabled {
			if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
				log.WithError(err).Error("Failed to delete webhook")
			}
		} else {
			bot.StopReceivingUpdates()
		}
	}

	// Cancel context to stop all goroutines
	cancel()
	wg.Wait()

	log.Info("FaithTrack stopped")
}

func handleUpdate(ctx context.Context, update tgbotapi.Update, commands *handlers.CommandHandler, messages *handlers.MessageHandler, log *logrus.Logger) {
	if update.Message == nil {
		return
	}

	if update.Message.IsCommand() {
		if err := commands.HandleCommand(ctx, update.Message); err != nil {
			log.WithError(err).Error("Failed to handle command")
		}
		return
	}

	if err := messages.HandleMessage(ctx, &update); err != nil {
		log.WithError(err).Error("Failed to handle message")
	}
}

// setupUpdates starts long polling, or mounts the webhook on router
func setupUpdates(bot *tgbotapi.BotAPI, cfg *config.Config, router *mux.Router, log *logrus.Logger) tgbotapi.UpdatesChannel {
	if !cfg.Bot.Webhook.Enabled {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout
		log.Info("Using long polling")
		return bot.GetUpdatesChan(u)
	}

	webhookURL := fmt.Sprintf("%s/webhook/%s", strings.TrimSuffix(cfg.Bot.Webhook.URL, "/"), bot.Token)
	webhook, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to create webhook")
	}
	if _, err := bot.Request(webhook); err != nil {
		log.WithError(err).Fatal("Failed to set webhook")
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	// the token stays out of the route template so it never reaches metric labels
	router.HandleFunc("/webhook/{token}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["token"] != bot.Token {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		update, err := bot.HandleUpdate(r)
		if err != nil {
			log.WithError(err).Warn("Invalid webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		updates <- *update
	}).Methods(http.MethodPost)

	log.WithField("url", cfg.Bot.Webhook.URL).Info("Webhook set")
	return updates
}

// rateLimitStore picks the persisted tier behind the limiter's memory tier.
// The returned func releases anything opened here.
func rateLimitStore(cfg *config.Config, manager *storage.Manager, client *supabase.Client, log *logrus.Logger) (ratelimit.Store, func()) {
	noop := func() {}

	switch cfg.RateLimit.Store {
	case "redis":
		if rc := manager.GetRedisClient(); rc != nil {
			log.Info("Rate limits persisted in shared Redis")
			return ratelimit.NewRedisStore(rc), noop
		}
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		log.WithField("addr", cfg.Storage.Redis.Addr).Info("Rate limits persisted in Redis")
		return ratelimit.NewRedisStore(rc), func() { rc.Close() }
	case "supabase":
		log.Info("Rate limits persisted in Supabase")
		return ratelimit.NewSupabaseStore(client), noop
	default:
		log.Info("Rate limits kept in memory only")
		return nil, noop
	}
}

func moderationLogStore(cfg *config.Config, client *supabase.Client) moderation.LogStore {
	switch cfg.Moderation.LogStore {
	case "supabase":
		return moderation.NewSupabaseLogStore(client)
	case "memory":
		return moderation.NewMemoryLogStore(0)
	default:
		return nil
	}
}
