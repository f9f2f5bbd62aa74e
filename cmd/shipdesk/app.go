package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/crmkit/shipdesk/config"
	"github.com/crmkit/shipdesk/internal/api/shipping_api"
	"github.com/crmkit/shipdesk/internal/broker/kafka"
	"github.com/crmkit/shipdesk/internal/cache/rediscache"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta/fake"
	"github.com/crmkit/shipdesk/internal/services/directory"
	"github.com/crmkit/shipdesk/internal/services/sender"
	"github.com/crmkit/shipdesk/internal/services/waybills"
	"github.com/crmkit/shipdesk/internal/storage/pgship"
	"github.com/robfig/cron/v3"
)

const (
	defaultHTTPAddr = ":8080"

	defaultDirectorySyncSchedule = "0 4 * * *"
	defaultWaybillSyncSchedule   = "*/5 * * * *"

	defaultStatusTTL = 60 * time.Second
)

// storage is the union of the repository surfaces the services consume; the
// pgship storage satisfies all of them.
type storage interface {
	directory.Store
	sender.Store
	waybills.Store
}

type appFactories struct {
	newStorage     func(cfg *config.Config) (st storage, closeFn func(), err error)
	newCarrier     func(cfg *config.Config) (novaposhta.Caller, error)
	newCache       func(cfg *config.Config) waybills.StatusCache
	newProducer    func(cfg *config.Config) waybills.Producer
	newRateLimiter func(cfg *config.Config) waybills.RateLimiter

	onListen func(addr string)
}

func defaultAppFactories() appFactories {
	return appFactories{
		newStorage: func(cfg *config.Config) (storage, func(), error) {
			st, err := pgship.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCarrier: func(cfg *config.Config) (novaposhta.Caller, error) {
			// Demo mode has to be asked for. The in-memory carrier answers
			// every call with an empty success, and the scheduled directory
			// sync would treat that as "deactivate everything"; a missing
			// api_key is a configuration error instead.
			if cfg.Carrier.DemoMode {
				return fake.New(), nil
			}
			return novaposhta.New(cfg.Carrier.BaseURL, cfg.Carrier.APIKey, cfg.Carrier.Timeout())
		},
		newCache: func(cfg *config.Config) waybills.StatusCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(cfg.Redis.Addr())
		},
		newProducer: func(cfg *config.Config) waybills.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			return kafka.NewProducer([]string{cfg.Kafka.Addr()})
		},
		newRateLimiter: func(cfg *config.Config) waybills.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
	}
}

func RunShipdesk(ctx context.Context, cfg *config.Config, f appFactories, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	carrier, err := f.newCarrier(cfg)
	if err != nil {
		return err
	}

	dirSvc := directory.New(st, carrier, log)
	sndResolver := sender.New(cfg.Sender, st)

	topic := cfg.Kafka.OrderStatusUpdatedTopicName
	if topic == "" {
		topic = "order.status.updated"
	}
	statusTTL := time.Duration(cfg.Shipdesk.StatusTTLSeconds) * time.Second
	if statusTTL <= 0 {
		statusTTL = defaultStatusTTL
	}

	wbSvc := waybills.New(st, carrier, sndResolver).
		WithPaymentDefaults(cfg.Shipdesk.DefaultPayerType, cfg.Shipdesk.DefaultPaymentMethod).
		WithLogger(log)
	if cache := f.newCache(cfg); cache != nil {
		wbSvc.WithCache(cache, statusTTL)
	}
	if producer := f.newProducer(cfg); producer != nil {
		wbSvc.WithProducer(producer, topic)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		wbSvc.WithRateLimiter(rl, cfg.Shipdesk.CarrierRateLimitPerMinute)
	}

	sched, err := startScheduler(ctx, cfg, dirSvc, wbSvc, log)
	if err != nil {
		return err
	}
	defer sched.Stop()

	api := shipping_api.New(dirSvc, wbSvc, log)

	httpAddr := cfg.Shipdesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return err
	}
	if f.onListen != nil {
		f.onListen(lis.Addr().String())
	}
	log.Info("shipdesk listening", "addr", lis.Addr().String())

	srv := &http.Server{Handler: api.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

// startScheduler wires the two periodic jobs: the bulk directory refresh and
// the waybill status reconciliation. Jobs never overlap themselves thanks to
// cron.SkipIfStillRunning.
func startScheduler(ctx context.Context, cfg *config.Config, dirSvc *directory.Service, wbSvc *waybills.Service, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	dirSpec := cfg.Shipdesk.DirectorySyncSchedule
	if dirSpec == "" {
		dirSpec = defaultDirectorySyncSchedule
	}
	if _, err := c.AddFunc(dirSpec, func() {
		if err := dirSvc.Sync(ctx); err != nil {
			log.Error("scheduled directory sync failed", "error", err.Error())
		}
	}); err != nil {
		return nil, err
	}

	wbSpec := cfg.Shipdesk.WaybillSyncSchedule
	if wbSpec == "" {
		wbSpec = defaultWaybillSyncSchedule
	}
	if _, err := c.AddFunc(wbSpec, func() {
		res, err := wbSvc.SyncActiveWaybills(ctx, cfg.Shipdesk.WaybillSyncLimit)
		if err != nil {
			log.Error("scheduled waybill sync failed", "error", err.Error())
			return
		}
		log.Info("waybill sync finished",
			"checked", res.Checked, "updated", res.UpdatedOrders, "skipped", res.Skipped)
	}); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
