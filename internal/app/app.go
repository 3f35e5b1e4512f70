package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ykvlv/companion-bot/internal/config"
	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/llm"
	"github.com/ykvlv/companion-bot/internal/notify"
	"github.com/ykvlv/companion-bot/internal/persist"
	"github.com/ykvlv/companion-bot/internal/presence"
	"github.com/ykvlv/companion-bot/internal/scheduler"
	"github.com/ykvlv/companion-bot/internal/store"
	"github.com/ykvlv/companion-bot/internal/telegram"
)

const storeTimeout = 15 * time.Second

type App struct {
	cfg     config.Config
	log     *zap.Logger
	loc     *time.Location
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	loc, err := domain.LoadZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, loc: loc, bot: bot, httpSrv: srv}, nil
}

// OpenStore opens the configured row store backend.
func OpenStore(ctx context.Context, cfg config.Config) (store.RowStore, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgrest":
		return store.NewPostgREST(cfg.SupabaseURL, cfg.SupabaseKey, storeTimeout), nil
	case "memory":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// buildService wires the notification engine over rows. sender, presence and
// completion are optional for maintenance commands that never fire jobs.
func buildService(cfg config.Config, log *zap.Logger, loc *time.Location, rows store.RowStore,
	sender notify.Sender, pres notify.PresenceSource, completion notify.Completion) (*notify.Service, *scheduler.Scheduler, error) {
	reset, err := cfg.ResetTime()
	if err != nil {
		return nil, nil, err
	}
	clock := domain.ZoneClock{Loc: loc}
	jobs := scheduler.New(log.Named("scheduler"), clock.Now, cfg.HandlerTimeout)
	repo := persist.New(rows, loc, log.Named("persist"))
	svc := notify.New(log.Named("notify"), clock, repo, jobs, sender, pres, completion, notify.Options{
		Slots:          []domain.ChatSlot(cfg.RandomChatSlots),
		ResetTime:      reset,
		ReloadInterval: cfg.ReloadInterval,
	})
	return svc, jobs, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting companion-bot",
		zap.String("store", a.cfg.StoreBackend),
		zap.String("tz", a.loc.String()),
		zap.String("http", a.cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := OpenStore(ctx, a.cfg)
	if err != nil {
		a.log.Error("open store failed", zap.Error(err))
		return err
	}
	defer func() { _ = rows.Close() }()
	a.log.Info("store ready", zap.String("backend", a.cfg.StoreBackend))

	var pres notify.PresenceSource = presence.Nop{}
	var tracker *presence.Tracker
	if a.cfg.DiscordToken != "" {
		tracker, err = presence.NewTracker(a.cfg.DiscordToken, a.cfg.DiscordGuildID, a.log.Named("presence"))
		if err == nil {
			err = tracker.Open()
		}
		if err != nil {
			a.log.Warn("presence unavailable, sleep checks stay quiet", zap.Error(err))
			tracker = nil
		} else {
			pres = tracker
			defer func() { _ = tracker.Close() }()
		}
	}

	var (
		completion notify.Completion
		replier    telegram.Replier
	)
	if a.cfg.GeminiAPIKey != "" {
		c, err := llm.New(ctx, llm.Config{APIKey: a.cfg.GeminiAPIKey, Model: a.cfg.GeminiModel}, a.log.Named("llm"))
		if err != nil {
			a.log.Warn("completion unavailable, chat disabled", zap.Error(err))
		} else {
			completion, replier = c, c
		}
	}

	svc, jobs, err := buildService(a.cfg, a.log, a.loc, rows, telegram.NewSender(a.bot), pres, completion)
	if err != nil {
		return err
	}
	router := telegram.NewRouter(a.bot, a.log.Named("telegram"), svc, replier)

	svc.Start(ctx)
	if tracker != nil {
		tracker.OnResume(func() {
			if err := svc.Resync(ctx); err != nil {
				a.log.Error("resync after resume failed", zap.Error(err))
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		jobs.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shCtx); err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updCh := a.bot.GetUpdatesChan(u)
		for {
			select {
			case <-gctx.Done():
				a.log.Info("shutdown signal received")
				a.bot.StopReceivingUpdates()
				return nil
			case upd, ok := <-updCh:
				if !ok {
					return nil
				}
				a.handle(gctx, router, upd)
			}
		}
	})

	return g.Wait()
}

// handle processes one update with its own deadline and recovers handler panics.
func (a *App) handle(ctx context.Context, router *telegram.Router, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.HandlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("update handler panicked", zap.Int("update_id", upd.UpdateID), zap.Any("panic", r))
		}
	}()
	router.HandleUpdate(ctx, upd)
}

// Dedupe collapses duplicate reminders in the configured store and reports how
// many were deleted.
func Dedupe(ctx context.Context, cfg config.Config, log *zap.Logger) (int, error) {
	loc, err := domain.LoadZone(cfg.Timezone)
	if err != nil {
		return 0, err
	}
	rows, err := OpenStore(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	svc, _, err := buildService(cfg, log, loc, rows, nil, nil, nil)
	if err != nil {
		return 0, err
	}
	return svc.DedupeReminders(ctx)
}

// Plan returns the stored random-chat plan markers.
func Plan(ctx context.Context, cfg config.Config, log *zap.Logger) ([]domain.PlanMarker, error) {
	loc, err := domain.LoadZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	rows, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return persist.New(rows, loc, log.Named("persist")).LoadPlanMarkers(ctx)
}
