// Package cli 提供 dispatchd 的命令行与服务组装
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/paiban/dispatch/internal/config"
	"github.com/paiban/dispatch/internal/database"
	"github.com/paiban/dispatch/internal/events"
	"github.com/paiban/dispatch/internal/handler"
	"github.com/paiban/dispatch/internal/metrics"
	"github.com/paiban/dispatch/internal/middleware"
	"github.com/paiban/dispatch/internal/security"
	"github.com/paiban/dispatch/internal/store"
	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher"
	"github.com/paiban/dispatch/pkg/dispatcher/scoring"
	"github.com/paiban/dispatch/pkg/geo"
	"github.com/paiban/dispatch/pkg/ledger"
	"github.com/paiban/dispatch/pkg/logger"
	"github.com/paiban/dispatch/pkg/predictor"
	"github.com/paiban/dispatch/pkg/shift"
	"github.com/paiban/dispatch/pkg/transfer"
)

// generateInterval 滚动排班生成的间隔
const generateInterval = 6 * time.Hour

// devAuth 关闭认证时所有请求使用的调用方
var devAuth = dispatcher.AuthContext{Kind: dispatcher.CallerManual, Subject: "dev", Roles: []string{"admin"}}

// App 组装好的派单服务
type App struct {
	Config    *config.Config
	DB        *database.DB // 内存存储时为 nil
	Store     *store.Store
	Counters  *claim.Counters
	Claims    *claim.Registry
	Sessions  *claim.Sessions
	Predictor *predictor.Predictor
	Geo       *geo.Cache
	Metrics   *metrics.Collector
	Ledger    *ledger.Ledger
	Shifts    *shift.Manager
	Engine    *dispatcher.Engine
	Transfers *transfer.Workflow
	Limiter   *security.RateLimiter
	Tokens    *security.Tokens // 关闭认证时为 nil
	Bus       *events.JetStream
	Emitter   *events.Emitter

	consumer *events.Consumer
	wg       sync.WaitGroup
}

// NewApp 按配置组装全部组件，不启动后台任务
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	var err error
	if err = a.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		a.Bus, err = events.Connect(ctx, events.Options{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          cfg.App.Name,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Emitter = events.NewEmitter(a.Bus)
	} else {
		a.Emitter = events.NewEmitter(nil)
	}

	a.Metrics = metrics.New(nil, cfg.Metrics.Namespace)
	a.Counters = claim.NewCounters()
	a.Claims = claim.NewRegistry(cfg.Dispatcher.ClaimTTL, cfg.Dispatcher.ClaimRetryDelay)
	a.Limiter = security.NewRateLimiter(cfg.API.RateLimit, time.Minute)
	a.Sessions = claim.NewSessions(a.Limiter)
	a.Predictor = predictor.New(cfg.Predictor)
	a.Geo = geo.NewCache(nil, cfg.Geo.CacheSize)
	a.Ledger = ledger.New(a.Store.Assignments, a.Store.Journal, ledger.WithObserver(a.Predictor))

	a.Shifts, err = shift.NewManager(cfg.Shift, a.Store,
		shift.WithCapacity(a.Counters),
		shift.WithSizer(a.Predictor),
		shift.WithNotifier(shift.Notifiers{a.Emitter, a.Metrics}))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine, err = dispatcher.New(cfg.Dispatcher, dispatcher.Deps{
		Store:     a.Store,
		Shifts:    a.Shifts,
		Ledger:    a.Ledger,
		Counters:  a.Counters,
		Claims:    a.Claims,
		Scorer:    scoring.New(cfg.Scoring, a.Geo, a.Predictor),
		Optimizer: cfg.Optimizer,
		Geo:       a.Geo,
	},
		dispatcher.WithPublisher(a.Emitter),
		dispatcher.WithMetrics(a.Metrics),
		dispatcher.WithRouteOptions(geo.RouteOptions{
			MaxTwoOptStops: cfg.Geo.MaxTwoOptStops,
			MaxPasses:      cfg.Geo.MaxPasses,
		}),
		dispatcher.WithClusterRadius(cfg.Geo.ClusterKm),
		dispatcher.WithZoneGrid(geo.NewZoneGrid(cfg.Geo.ZoneCellKm)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Transfers = transfer.NewWorkflow(cfg.Transfer, a.Store.Transfers, a.Engine, a.Claims,
		transfer.WithJournal(a.Ledger),
		transfer.WithNotifier(transfer.Notifiers{a.Engine, a.Emitter, a.Metrics}))
	a.Engine.AttachTransfers(a.Transfers)

	if cfg.Auth.Enabled {
		a.Tokens, err = security.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.Bus != nil {
		a.consumer, err = events.NewConsumer(a.Bus.Stream(), events.ConsumerOptions{
			Stream:        cfg.NATS.Stream,
			Durable:       cfg.NATS.Consumer,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, events.NewEngineHandler(a.Engine))
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Database.IsMemory() {
		a.Store = store.NewMemory()
		logger.Info().Msg("使用内存存储")
		return nil
	}
	db, err := database.New(&a.Config.Database)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return err
	}
	a.DB = db
	a.Store = store.NewSQL(db)
	return nil
}

// Router 返回 HTTP 路由
func (a *App) Router() http.Handler {
	h := handler.New(handler.Deps{
		Engine:    a.Engine,
		Shifts:    a.Shifts,
		Ledger:    a.Ledger,
		Store:     a.Store,
		Predictor: a.Predictor,
		Sessions:  a.Sessions,
		Health:    a.health,
	})
	rc := handler.RouterConfig{
		Auth:     middleware.AuthConfig{Tokens: a.Tokens, Anonymous: devAuth},
		Limiter:  a.Limiter,
		Recorder: a.Metrics,
		Timeout:  a.Config.API.Timeout,
		Version:  Version,
	}
	if a.Config.API.CORS.Enabled {
		rc.CORSOrigins = a.Config.API.CORS.Origins
	}
	if a.Config.Metrics.Enabled {
		rc.Metrics = a.Metrics.Handler()
		rc.MetricsPath = a.Config.Metrics.Path
	}
	return h.Router(rc)
}

func (a *App) health(ctx context.Context) error {
	if a.DB != nil {
		return a.DB.Health(ctx)
	}
	return nil
}

// Start 恢复状态并启动后台任务：派单工作池、转派超时、入站消费者与滚动排班
func (a *App) Start(ctx context.Context) error {
	if err := a.Engine.Load(ctx); err != nil {
		return fmt.Errorf("恢复派单状态失败: %w", err)
	}
	a.Engine.Start(ctx)
	if err := a.Transfers.Resume(ctx); err != nil {
		return fmt.Errorf("恢复转派失败: %w", err)
	}
	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			return err
		}
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Limiter.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.generateLoop(ctx)
	}()
	return nil
}

func (a *App) generateLoop(ctx context.Context) {
	run := func() {
		res, err := a.Shifts.Generate(ctx, time.Now())
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("滚动排班生成失败")
			return
		}
		if res != nil && len(res.Shifts) > 0 {
			logger.Info().Int("shifts", len(res.Shifts)).Int("unstaffed", len(res.Unstaffed)).Msg("滚动排班已生成")
		}
	}
	run()
	ticker := time.NewTicker(generateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// Close 停止后台任务并释放连接。调用前应先取消传给 Start 的 ctx。
func (a *App) Close() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.Transfers != nil {
		a.Transfers.Stop()
	}
	a.wg.Wait()
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭 NATS 连接失败")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭数据库失败")
		}
	}
}
