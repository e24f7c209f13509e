// cmd/engine is the execution core: tick ingress, candle aggregation, MTF
// signal emission, delivery fan-out, entry validation, the partitioned trade
// actor, and the persist-before-publish event journal, wired together with
// graceful drain on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/config"
	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/broker/angelone"
	"github.com/jnani1972/AMZF-sub010/internal/broker/watchdog"
	"github.com/jnani1972/AMZF-sub010/internal/delivery"
	"github.com/jnani1972/AMZF-sub010/internal/eventlog"
	"github.com/jnani1972/AMZF-sub010/internal/logger"
	"github.com/jnani1972/AMZF-sub010/internal/marketcache"
	"github.com/jnani1972/AMZF-sub010/internal/marketdata/agg"
	"github.com/jnani1972/AMZF-sub010/internal/marketdata/bus"
	"github.com/jnani1972/AMZF-sub010/internal/marketdata/closedetector"
	"github.com/jnani1972/AMZF-sub010/internal/marketdata/tfagg"
	"github.com/jnani1972/AMZF-sub010/internal/metrics"
	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/mtfconfig"
	"github.com/jnani1972/AMZF-sub010/internal/orchestrator"
	"github.com/jnani1972/AMZF-sub010/internal/ringbuf"
	"github.com/jnani1972/AMZF-sub010/internal/session"
	sigsvc "github.com/jnani1972/AMZF-sub010/internal/signal"
	redisstore "github.com/jnani1972/AMZF-sub010/internal/store/redis"
	sqlitestore "github.com/jnani1972/AMZF-sub010/internal/store/sqlite"
	"github.com/jnani1972/AMZF-sub010/internal/trade"
	"github.com/jnani1972/AMZF-sub010/internal/validation"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	cfgPath := flag.String("config", "configs/engine.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[engine] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[engine] config: %v", err)
	}
	logger.Init("engine", slog.LevelInfo)
	log.Printf("[engine] starting (dry_run=%v)", cfg.DryRun)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health)
	metricsSrv.Start()

	// ---- Durable store ----
	os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755)
	st, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.Store.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite: %v", err)
	}
	defer st.Close()
	log.Println("[engine] sqlite ready")

	// ---- Hot publisher (optional) ----
	var hot *redisstore.BufferedPublisher
	if cfg.Redis.Addr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Printf("[engine] WARNING: redis unavailable: %v (continuing without hot side)", err)
		} else {
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				switch to {
				case redisstore.StateOpen:
					prom.RedisCircuitBreakerState.Set(1)
					prom.RedisCircuitBreakerTrips.Inc()
				case redisstore.StateHalfOpen:
					prom.RedisCircuitBreakerState.Set(2)
				default:
					prom.RedisCircuitBreakerState.Set(0)
				}
			}
			hot = redisstore.NewBufferedPublisher(ctx, pub, cb, 0)
			hot.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
			defer pub.Close()
			log.Println("[engine] redis hot publisher ready")
		}
	}

	// ---- Liveness probes ----
	if hot != nil {
		health.StartLivenessChecker(ctx, hot.Underlying().Client(), st.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, st.DB(), 10*time.Second)
	}

	// ---- Event journal ----
	elog, err := eventlog.New(ctx, st)
	if err != nil {
		log.Fatalf("[engine] eventlog: %v", err)
	}

	// ---- Market data cache ----
	mc := marketcache.New()
	priceFn := func(symbol string) (decimal.Decimal, bool) {
		q, ok := mc.Get(symbol)
		return q.Price, ok
	}

	// ---- Broker adapters ----
	instruments := angelone.NewInstrumentTable()
	if !cfg.DryRun {
		if err := instruments.Load(ctx); err != nil {
			log.Printf("[engine] WARNING: instrument master: %v", err)
		} else {
			log.Printf("[engine] instrument master loaded: %d symbols", instruments.Len())
		}
	}
	factory := func(ub *model.UserBroker) (broker.Adapter, error) {
		if cfg.DryRun || ub.BrokerID == "paper" {
			return broker.NewPaperAdapter(priceFn, 5), nil
		}
		switch ub.BrokerID {
		case "angelone":
			return angelone.New(ub, instruments), nil
		default:
			return nil, model.NewError(model.KindConfigInvalid, "UNKNOWN_BROKER", ub.BrokerID)
		}
	}
	adapters := broker.NewCache(factory)
	brokers := &cachedBrokers{cache: adapters, store: st}

	// ---- Signal pipeline ----
	dispatcher := &deliveryDispatcher{inner: delivery.NewService(st, st, elog)}
	signals := sigsvc.NewService(sigsvc.Config{
		MinStrength:    model.ConfluenceStrength(cfg.Analysis.MinStrength),
		TTL:            cfg.Analysis.SignalTTL,
		ExpiryInterval: cfg.Analysis.ExpiryInterval,
	}, st, elog, dispatcher)
	signals.OnSignalEmitted = func(*model.Signal) { prom.SignalsEmitted.Inc() }

	mtfCfg, err := mtfconfig.NewService(ctx, st, signals)
	if err != nil {
		log.Fatalf("[engine] mtf config: %v", err)
	}

	// ---- Trade actor ----
	actorCfg := trade.Config{
		Partitions:        cfg.Execution.Partitions,
		QueueDepth:        cfg.Execution.QueueDepth,
		StopLossPct:       decimal.NewFromFloat(cfg.Execution.StopLossPct),
		TargetR:           decimal.NewFromFloat(cfg.Execution.TargetR),
		MaxHoldingPeriod:  cfg.Execution.MaxHoldingPeriod,
		MaxPlaceAttempts:  cfg.Execution.MaxPlaceAttempts,
		RetryBackoff:      cfg.Execution.RetryBackoff,
		ReconcileInterval: cfg.Execution.ReconcileInterval,
	}
	actor := trade.New(actorCfg, st, brokers, elog, mtfCfg.Trailing)
	actor.OnStateChange = func(t *model.Trade) {
		prom.TradeTransitions.WithLabelValues(string(t.Status)).Inc()
	}
	if err := actor.Start(ctx); err != nil {
		log.Fatalf("[engine] trade actor: %v", err)
	}
	health.SetActorOK(true)
	go actor.RunReconciler(ctx)

	// ---- Orchestrator ----
	prefs := validation.Preferences{
		KellyFraction:   decimal.RequireFromString("0.2"),
		LotSize:         1,
		StopLossPct:     decimal.NewFromFloat(cfg.Execution.StopLossPct),
		TargetR:         decimal.NewFromFloat(cfg.Execution.TargetR),
		ProductType:     model.ProductDelivery,
		RebuyEnabled:    true,
		MaxPerSymbol:    3,
		PositionCapPct:  decimal.NewFromInt(2),
		PortfolioCapPct: decimal.NewFromInt(6),
		ExposureCapPct:  decimal.NewFromInt(80),
	}
	loader := orchestrator.NewContextLoader(st, brokers, prefs)
	orch := orchestrator.New(st, actor, elog, loader, priceFn, cfg.Execution.Workers)
	orch.Start(ctx)
	dispatcher.orch = orch
	go signals.RunExpiry(ctx)

	// ---- Token refresh watchdog ----
	wd := watchdog.New(st, adapters, cfg.Execution.WatchdogInterval)
	wd.OnReload = func(string) { prom.WatchdogReloads.Inc() }
	go wd.Run(ctx)

	// ---- Connect EXEC user-brokers ----
	connectExecBrokers(ctx, st, adapters)

	// ---- DATA feed ----
	feed, err := dataAdapter(ctx, cfg, st, adapters)
	if err != nil {
		log.Fatalf("[engine] data broker: %v", err)
	}
	symbols := cfg.Feed.Symbols
	if len(symbols) == 0 {
		symbols, err = st.AllWatchedSymbols(ctx)
		if err != nil {
			log.Fatalf("[engine] watchlist: %v", err)
		}
	}
	if len(symbols) == 0 {
		log.Println("[engine] WARNING: empty watchlist, no symbols subscribed")
	}

	// ---- Analysis runner + warm-up ----
	runner := sigsvc.NewRunner(signals, st, mtfCfg, priceFn, cfg.Analysis.Window)
	runner.WarmUp(ctx, symbols, feed, st, time.Now().UTC())

	// ---- Tick ingress: ws listener -> SPSC ring -> fan-out ----
	ring := ringbuf.New(cfg.Feed.RingSize)
	if len(symbols) > 0 {
		err = feed.SubscribeTicks(ctx, symbols, func(t model.Tick) {
			prom.TicksTotal.Inc()
			if !t.Valid() {
				prom.IngressRejects.Inc()
				return
			}
			ring.Push(t) // overflow is counted by the ring, never blocks
		})
		if err != nil {
			log.Printf("[engine] WARNING: tick subscribe: %v", err)
			health.SetFeedConnected(false)
		} else {
			health.SetFeedConnected(true)
		}
	}

	tickIn := make(chan model.Tick, cfg.Feed.BusBuffer)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			t, ok := ring.Pop()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			tickIn <- t
		}
	}()

	tickBus := bus.New[model.Tick](cfg.Feed.BusBuffer)
	hotTicks := tickBus.Subscribe()
	aggTicks := tickBus.Subscribe()
	go tickBus.Run(ctx, tickIn)

	// Latest-price consumer: cache, actor price updates, redis LTP keys,
	// post-close feed disconnect.
	go func() {
		var detector *closedetector.Detector
		var detectorClose time.Time
		for t := range hotTicks {
			mc.Update(t.Symbol, t.Price, t.TickTS)
			actor.SubmitPrice(t.Symbol, t.Price, t.TickTS)
			health.SetLastTickTime(t.TickTS)
			if hot != nil {
				// hot side only; the durable pipeline is unaffected
				hot.Underlying().PublishLTP(ctx, t.Symbol, t.Price, t.TickTS)
			}

			sc := session.SessionClose(t.TickTS)
			if detector == nil || !sc.Equal(detectorClose) {
				detector = closedetector.New(sc)
				detectorClose = sc
			}
			if detector.Observe(t.Price, t.TickTS) {
				log.Printf("[engine] session closed at %s, unsubscribing feed", detector.ClosingPrice())
				if err := feed.UnsubscribeTicks(ctx, symbols); err != nil {
					log.Printf("[engine] unsubscribe: %v", err)
				}
				health.SetFeedConnected(false)
				detector = nil
			}
		}
	}()

	// ---- Candle pipeline: 1m agg -> session resampler -> consumers ----
	oneMinCh := make(chan model.Candle, 256)
	oneMinAgg := agg.New()
	oneMinAgg.OnDroppedTick = func() { prom.LateTicks.Inc() }
	oneMinAgg.OnRejectedTick = func() { prom.IngressRejects.Inc() }
	go oneMinAgg.Run(ctx, aggTicks, oneMinCh)

	oneMinBus := bus.New[model.Candle](cfg.Feed.BusBuffer)
	resampleIn := oneMinBus.Subscribe()
	forwardIn := oneMinBus.Subscribe()
	go oneMinBus.Run(ctx, oneMinCh)

	closedCh := make(chan model.Candle, 512)
	resampler := tfagg.New([]model.Timeframe{model.TF25m, model.TF125m})
	resampler.OnStaleCandle = func() { prom.LateTicks.Inc() }
	go resampler.Run(ctx, resampleIn, closedCh)
	go func() {
		for c := range forwardIn {
			select {
			case closedCh <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	candleBus := bus.New[model.Candle](cfg.Feed.BusBuffer)
	writeCandles := candleBus.Subscribe()
	analyzeCandles := candleBus.Subscribe()
	hotCandles := candleBus.Subscribe()
	go candleBus.Run(ctx, closedCh)

	go st.RunCandleWriter(ctx, writeCandles)
	go runner.Run(ctx, analyzeCandles)
	go func() {
		for c := range hotCandles {
			prom.CandlesTotal.WithLabelValues(c.TF.String()).Inc()
			if hot != nil {
				if err := hot.PublishCandle(c); err != nil {
					log.Printf("[engine] publish candle %s: %v", c.Key(), err)
				}
			}
		}
	}()

	// ---- Mirror journal events to redis ----
	if hot != nil {
		evCh, cancelEv := elog.Subscribe(eventlog.Subscription{Admin: true}, 1024)
		defer cancelEv()
		go func() {
			for ev := range evCh {
				prom.EventsPublished.Inc()
				if err := hot.PublishEvent(ev); err != nil {
					log.Printf("[engine] publish event %s: %v", ev.Type, err)
				}
			}
		}()
	}

	log.Printf("[engine] running: %d symbols, %d partitions, %d workers",
		len(symbols), cfg.Execution.Partitions, cfg.Execution.Workers)

	// ---- Shutdown ----
	<-ctx.Done()
	log.Println("[engine] shutting down...")

	orch.Stop()
	if !actor.Drain(cfg.Execution.DrainTimeout) {
		log.Println("[engine] WARNING: actor drain timed out")
	}
	adapters.Drain(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[engine] bye")
}

// cachedBrokers adapts the adapter cache + user-broker table to the actor's
// and orchestrator's lookup contract.
type cachedBrokers struct {
	cache *broker.Cache
	store *sqlitestore.Store
}

func (b *cachedBrokers) AdapterFor(userBrokerID string) (broker.Adapter, error) {
	if a, ok := b.cache.Lookup(userBrokerID); ok {
		return a, nil
	}
	ub, err := b.store.GetUserBroker(context.Background(), userBrokerID)
	if err != nil {
		return nil, err
	}
	return b.cache.Get(ub)
}

// deliveryDispatcher fans out through the delivery service, then hands each
// created delivery to the orchestrator. orch is set after construction to
// break the wiring cycle signal -> delivery -> orchestrator -> actor.
type deliveryDispatcher struct {
	inner *delivery.Service
	orch  *orchestrator.Service
}

func (d *deliveryDispatcher) FanOut(ctx context.Context, sig *model.Signal) ([]model.Delivery, error) {
	ds, err := d.inner.FanOut(ctx, sig)
	if err != nil {
		return nil, err
	}
	if d.orch != nil {
		for i := range ds {
			d.orch.Enqueue(ds[i].ID)
		}
	}
	return ds, nil
}

func (d *deliveryDispatcher) ExpireForSignal(ctx context.Context, signalID uuid.UUID) (int, error) {
	return d.inner.ExpireForSignal(ctx, signalID)
}

// connectExecBrokers connects every active EXEC user-broker at startup so
// order placement does not pay the login cost on the first intent.
func connectExecBrokers(ctx context.Context, st *sqlitestore.Store, adapters *broker.Cache) {
	ubs, err := st.ActiveExecUserBrokers(ctx)
	if err != nil {
		log.Printf("[engine] WARNING: exec user-brokers: %v", err)
		return
	}
	for _, ub := range ubs {
		a, err := adapters.Get(ub)
		if err != nil {
			log.Printf("[engine] adapter %s: %v", ub.ID, err)
			continue
		}
		if a.IsConnected() {
			continue
		}
		res, err := a.Connect(ctx, ub.Credentials)
		if err != nil {
			log.Printf("[engine] connect %s: %v", ub.ID, err)
			continue
		}
		if err := st.SetUserBrokerConnected(ctx, ub.ID, res.Connected, res.SessionExpiry); err != nil {
			log.Printf("[engine] persist connection %s: %v", ub.ID, err)
		}
		if res.SessionID != "" {
			sess := &model.BrokerSession{
				UserBrokerID: ub.ID,
				SessionID:    res.SessionID,
				AccessToken:  res.AccessToken,
				FeedToken:    res.FeedToken,
				ExpiresAt:    res.SessionExpiry,
				UpdatedAt:    time.Now().UTC(),
			}
			if err := st.UpsertSession(ctx, sess); err != nil {
				log.Printf("[engine] persist session %s: %v", ub.ID, err)
			}
		}
		log.Printf("[engine] connected exec user-broker %s (%s)", ub.ID, ub.BrokerID)
	}
}

// dataAdapter resolves and connects the single DATA user-broker. In dry-run
// mode a paper feed stands in when none is configured.
func dataAdapter(ctx context.Context, cfg *config.Config, st *sqlitestore.Store, adapters *broker.Cache) (broker.Adapter, error) {
	ub, err := st.DataUserBroker(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		ub = &model.UserBroker{
			ID:       "data-default",
			UserID:   "system",
			BrokerID: "angelone",
			Role:     model.RoleData,
			Active:   true,
			Credentials: model.BrokerCredentials{
				APIKey:     cfg.Angel.APIKey,
				ClientCode: cfg.Angel.ClientCode,
				Password:   cfg.Angel.Password,
				TOTPSecret: cfg.Angel.TOTPSecret,
			},
		}
		if cfg.DryRun {
			ub.BrokerID = "paper"
		}
		if err := st.UpsertUserBroker(ctx, ub); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	a, err := adapters.Get(ub)
	if err != nil {
		return nil, err
	}
	if !a.IsConnected() {
		if _, err := a.Connect(ctx, ub.Credentials); err != nil {
			if cfg.DryRun {
				log.Printf("[engine] WARNING: data feed connect: %v", err)
				return a, nil
			}
			return nil, err
		}
	}
	return a, nil
}
