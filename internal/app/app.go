// Package app wires configuration into the store, event sink, gateway and
// services shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/controller"
	"github.com/unclebandit/campaign-dispatcher/internal/db"
	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/handler"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/repository/memory"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

// Lock keys. The dispatcher and scheduler hold separate locks so a long
// dispatch tick never delays due campaigns.
const (
	DispatcherLockKey = "campaign-dispatcher:dispatcher"
	SchedulerLockKey  = "campaign-dispatcher:scheduler"
)

// App holds every dependency of the running process.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	DB       *sql.DB
	Redis    *redis.Client
	Store    *repository.Store
	Events   queue.Queue
	Gateway  gateway.Gateway
	Registry *gateway.Registry
	Spintax  *spintax.Engine

	Campaigns  *service.CampaignService
	Expander   *service.Expander
	Scheduler  *service.Scheduler
	Dispatcher *service.Dispatcher
	AutoReply  *service.AutoReplyService
	Inbound    *service.InboundService

	closers []func() error
}

// New builds the application from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openRedis(ctx)
	if err := a.openEvents(); err != nil {
		a.Close()
		return nil, err
	}
	a.openGateway()
	a.wireServices()

	if err := a.Registry.Sync(ctx); err != nil {
		log.Warn("Initial channel sync failed", zap.Error(err))
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Store.Driver == "memory" {
		mem := memory.NewDB()
		a.Store = memory.NewStore(mem)
		// a single connected channel so the in-process engine has somewhere to send
		ch := &model.Channel{Name: "default", Status: model.ChannelConnected}
		if err := a.Store.Channels.CreateChannel(ctx, ch); err != nil {
			return err
		}
		a.Log.Info("Using in-memory store", zap.Int("defaultChannelID", ch.ID))
		return nil
	}

	conn, err := db.Open(ctx, a.Config.Store, a.Log)
	if err != nil {
		return err
	}
	a.DB = conn
	a.Store = repository.NewPostgresStore(conn)
	a.closers = append(a.closers, conn.Close)
	return nil
}

// openRedis connects when REDIS_URL is set. Without Redis the locks fall
// back to Postgres advisory locks, or process local locks in memory mode.
func (a *App) openRedis(ctx context.Context) {
	url := a.Config.Redis.URL
	if url == "" {
		return
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Log.Warn("Redis unavailable, falling back to database locks", zap.Error(err))
		client.Close()
		return
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	a.Log.Info("Redis connected, distributed locking enabled")
}

func (a *App) openEvents() error {
	if a.Config.Events.AMQPURL == "" {
		a.Events = queue.NewInMemoryQueue(a.Log)
		return nil
	}
	q, err := queue.NewAMQPQueue(a.Config.Events.AMQPURL, a.Config.Events.Exchange, a.Log)
	if err != nil {
		return err
	}
	a.Events = q
	a.closers = append(a.closers, q.Close)
	return nil
}

func (a *App) openGateway() {
	gw := a.Config.Gateway
	switch gw.Driver {
	case "http":
		a.Gateway = gateway.NewHTTPGateway(gw.BaseURL, gw.APIKey, time.Duration(gw.TimeoutSeconds)*time.Second)
	default:
		a.Gateway = gateway.NewMockGateway(gw.MockFailRate, a.Log)
	}
	a.Registry = gateway.NewRegistry(a.Store.Channels)
}

func (a *App) newLock(key string) lock.Lock {
	return lock.New(a.Redis, a.DB, key, a.Config.Engine.LockTTL)
}

func (a *App) wireServices() {
	engine := a.Config.Engine
	seed := uint64(time.Now().UnixNano())
	a.Spintax = spintax.NewEngine(seed, seed>>1)

	a.Expander = &service.Expander{
		CampaignRepo: a.Store.Campaigns,
		ContactRepo:  a.Store.Contacts,
		Channels:     a.Store.Channels,
		Spintax:      a.Spintax,
		Queue:        a.Events,
		Log:          a.Log.Named("expander"),
	}
	a.Scheduler = &service.Scheduler{
		CampaignRepo: a.Store.Campaigns,
		Expander:     a.Expander,
		Lock:         a.newLock(SchedulerLockKey),
		Queue:        a.Events,
		Log:          a.Log.Named("scheduler"),
		Interval:     engine.SchedulerInterval,
	}
	a.Campaigns = &service.CampaignService{
		CampaignRepo: a.Store.Campaigns,
		ContactRepo:  a.Store.Contacts,
		MessageRepo:  a.Store.Messages,
		Scheduler:    a.Scheduler,
		Spintax:      a.Spintax,
		Queue:        a.Events,
		Log:          a.Log.Named("campaigns"),
	}
	a.Dispatcher = &service.Dispatcher{
		MessageRepo:        a.Store.Messages,
		CampaignRepo:       a.Store.Campaigns,
		Gateway:            a.Gateway,
		Registry:           a.Registry,
		Lock:               a.newLock(DispatcherLockKey),
		Queue:              a.Events,
		Log:                a.Log.Named("dispatcher"),
		Interval:           engine.DispatchInterval,
		InterMessageDelay:  engine.InterMessageDelay,
		DefaultRateLimit:   engine.DefaultRateLimit,
		LockTTL:            engine.LockTTL,
		ConcurrentChannels: engine.ConcurrentChannels,
	}
	a.AutoReply = &service.AutoReplyService{
		RuleRepo:    a.Store.Rules,
		MessageRepo: a.Store.Messages,
		ContactRepo: a.Store.Contacts,
		Analytics:   a.Store.Analytics,
		Spintax:     a.Spintax,
		Queue:       a.Events,
		Log:         a.Log.Named("autoreply"),
		Location:    a.Config.AutoReply.Location(),
	}
	a.Inbound = &service.InboundService{
		MessageRepo:  a.Store.Messages,
		CampaignRepo: a.Store.Campaigns,
		Analytics:    a.Store.Analytics,
		AutoReply:    a.AutoReply,
		Registry:     a.Registry,
		Queue:        a.Events,
		Log:          a.Log.Named("inbound"),
	}
}

// Router returns the HTTP API: campaigns, spintax tools, auto-reply rules
// and the gateway webhook.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	(&controller.CampaignController{CampaignService: a.Campaigns, Log: a.Log}).Routes(r)
	(&controller.SpintaxController{Engine: a.Spintax, Log: a.Log}).Routes(r)
	(&controller.AutoReplyController{AutoReplyService: a.AutoReply, Log: a.Log}).Routes(r)
	(&handler.GatewayHandler{Inbound: a.Inbound, Log: a.Log}).Routes(r)
	return r
}

// RunEngine runs the dispatch loop and the scheduler until ctx is done.
func (a *App) RunEngine(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Scheduler.Run(ctx)
	}()
	wg.Wait()
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if first != nil {
		return fmt.Errorf("close: %w", first)
	}
	return nil
}
