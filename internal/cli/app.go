package cli

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stockwatch/internal/config"
	"stockwatch/internal/coordinator"
	"stockwatch/internal/evaluator"
	"stockwatch/internal/fcm"
	"stockwatch/internal/models"
	"stockwatch/internal/notify"
	"stockwatch/internal/quote"
	"stockwatch/internal/resilience"
	"stockwatch/internal/store"
	"stockwatch/pkg/utils"
)

// runtime is the fully wired job.
type runtime struct {
	store       *store.SQLStore
	breaker     *resilience.CircuitBreaker
	coordinator *coordinator.Coordinator
}

func (r *runtime) Close() error {
	return r.store.Close()
}

func openStore(cfg *config.Config) (*store.SQLStore, error) {
	return store.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
}

// buildRuntime wires config into a coordinator. Missing push credentials are
// fatal here, before any condition is touched.
func buildRuntime(cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	if err := cfg.RequirePushCredentials(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tokens, err := fcm.NewTokenManager(fcm.TokenConfig{
		ClientEmail: cfg.Credentials.ClientEmail,
		PrivateKey:  cfg.Credentials.PrivateKey,
		TokenURI:    cfg.Push.TokenURI,
		Scope:       cfg.Push.Scope,
	}, &http.Client{Timeout: cfg.Job.PushTimeout}, time.Now, logger)
	if err != nil {
		return nil, err
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	sender := fcm.NewSender(tokens, cfg.SendURL(), &http.Client{Timeout: cfg.Job.PushTimeout}, logger)
	breaker := resilience.NewCircuitBreaker("push", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Push.FailureThreshold,
		SuccessThreshold: 1,
		Timeout:          cfg.Push.BreakerTimeout,
		Counts:           notify.CountsAgainstBreaker,
	}, logger)

	dispatcher := notify.NewDispatcher(db, db, sender, notify.Options{
		Title:       cfg.Push.Title,
		PushTimeout: cfg.Job.PushTimeout,
		Breaker:     breaker,
	}, logger)

	quotes := quote.NewClient(quote.Options{
		Timeout:    cfg.Job.QuoteTimeout,
		UserAgent:  cfg.Job.UserAgent,
		RatePerSec: cfg.Job.QuoteRatePerSec,
	}, logger)

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Job.QuoteRetries + 1

	eval := evaluator.New(db, quotes, dispatcher, evaluator.Options{
		QuoteTimeout: cfg.Job.QuoteTimeout,
		QuoteRetry:   retry,
		Location:     loc,
	}, logger)

	schedule := coordinator.NewSchedule(loc, map[models.Segment]coordinator.SegmentSchedule{
		models.SegmentDomestic: segmentSchedule(cfg.Segments.Domestic),
		models.SegmentForeign:  segmentSchedule(cfg.Segments.Foreign),
	})

	return &runtime{
		store:       db,
		breaker:     breaker,
		coordinator: coordinator.New(db, eval, schedule, cfg.Job.Workers, logger),
	}, nil
}

func segmentSchedule(s config.SegmentConfig) coordinator.SegmentSchedule {
	return coordinator.SegmentSchedule{
		RunHour:       s.RunHour,
		CalendarMIC:   s.CalendarMIC,
		CheckCalendar: s.CheckCalendar,
	}
}
