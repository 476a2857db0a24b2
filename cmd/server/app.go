package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/adapter/agent"
	"github.com/iho/transactai/internal/adapter/chain"
	"github.com/iho/transactai/internal/adapter/command"
	httpAdapter "github.com/iho/transactai/internal/adapter/http"
	"github.com/iho/transactai/internal/adapter/http/handler"
	"github.com/iho/transactai/internal/adapter/http/middleware"
	"github.com/iho/transactai/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/transactai/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/transactai/internal/adapter/repository/redis"
	"github.com/iho/transactai/internal/adapter/transport"
	"github.com/iho/transactai/internal/infrastructure/addressbook"
	"github.com/iho/transactai/internal/infrastructure/auth"
	"github.com/iho/transactai/internal/infrastructure/config"
	"github.com/iho/transactai/internal/infrastructure/idgen"
	applog "github.com/iho/transactai/internal/infrastructure/logger"
	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/infrastructure/postgres"
	"github.com/iho/transactai/internal/infrastructure/redis"
	"github.com/iho/transactai/internal/infrastructure/scheduler"
	"github.com/iho/transactai/internal/usecase"
)

const rateLimiterResetInterval = time.Hour

// ledgerStore is the storage backend behind the use cases.
type ledgerStore struct {
	txManager usecase.TransactionManager
	accounts  usecase.AccountRepository
	escrows   usecase.EscrowRepository
	deposits  usecase.DepositRepository
	ledger    usecase.LedgerRepository
	retrier   usecase.Retrier
	checkers  []handler.Checker
	close     func()
}

// app is the fully wired service.
type app struct {
	handler   http.Handler
	agent     *agent.Agent
	mailbox   *transport.Mailbox
	scheduler *scheduler.Scheduler
	sim       *chain.Simulated
	recon     *usecase.ReconciliationUseCase
	cfg       *config.Config
	logger    zerolog.Logger
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := openLedgerStore(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)
	checkers := store.checkers

	dedup, dedupJob, dedupCheckers, err := openDedupStore(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	checkers = append(checkers, dedupCheckers...)

	chainClient := newChainClient(cfg)
	if sim, ok := chainClient.(*chain.Simulated); ok {
		a.sim = sim
	}

	book, err := addressbook.Load(cfg.AgentBookPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("agents", book.Len()).Msg("address book loaded")

	payments := usecase.NewPaymentUseCase(store.txManager, store.accounts, m)
	escrowOpts := []usecase.EscrowOption{
		usecase.WithEscrowMaxTTL(cfg.EscrowMaxTTL),
		usecase.WithEscrowLogger(applog.Component(logger, "escrow")),
	}
	if store.retrier != nil {
		payments.WithRetrier(store.retrier)
		escrowOpts = append(escrowOpts, usecase.WithEscrowRetrier(store.retrier))
	}

	uc := command.UseCases{
		Accounts: usecase.NewAccountUseCase(store.txManager, store.accounts, m),
		Payments: payments,
		Escrows:  usecase.NewEscrowUseCase(store.txManager, store.accounts, store.escrows, idgen.NewULIDGenerator(), m, escrowOpts...),
		Deposits: usecase.NewDepositUseCase(store.txManager, store.accounts, store.deposits, chainClient,
			usecase.DepositConfig{
				PlatformWallet: cfg.PlatformWallet,
				Confirmations:  cfg.DepositMinConfirmations,
				ConfirmWait:    cfg.DepositConfirmWait,
			}, m, applog.Component(logger, "deposit")),
		Withdrawals: usecase.NewWithdrawalUseCase(store.txManager, store.accounts, store.ledger, chainClient,
			usecase.WithdrawalConfig{
				Denom:         cfg.ChainDenom,
				Confirmations: cfg.WithdrawConfirmations,
				ConfirmWait:   cfg.WithdrawConfirmWait,
			}, m, applog.Component(logger, "withdrawal")),
	}
	router := command.NewRouter(uc, m, logger)
	a.recon = usecase.NewReconciliationUseCase(store.ledger, m)

	a.mailbox = transport.NewMailbox(cfg.MailboxQueueSize, logger)
	a.closers = append(a.closers, a.mailbox.Close)
	sender := transport.NewMulti(m, logger,
		transport.Route{Name: "mailbox", Sender: a.mailbox},
		transport.Route{Name: "http", Sender: transport.NewHTTPSender(book, &http.Client{}, logger)},
		transport.Route{Name: "log", Sender: transport.NewLogSender(logger)},
	)

	a.agent = agent.New(agent.Config{
		Address:        cfg.AgentAddress,
		MaxInFlight:    cfg.AgentMaxInFlight,
		ProcessTimeout: cfg.AgentProcessTimeout,
		DedupTTL:       cfg.IdempotencyTTL,
	}, router, sender, dedup, m, logger)

	routerCfg := httpAdapter.RouterConfig{
		SubmitHandler:  handler.NewSubmitHandler(a.agent, logger),
		MailboxHandler: handler.NewMailboxHandler(a.mailbox),
		HealthHandler:  handler.NewHealthHandler(checkers...),
		LedgerHandler:  handler.NewLedgerHandler(a.recon, uc.Accounts, logger),
		MetricsHandler: newMetricsHandler(reg),
		Logger:         logger,
	}
	if cfg.AuthEnabled {
		routerCfg.TokenVerifier = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		routerCfg.Operators = []string{cfg.AgentAddress}
	}
	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		routerCfg.RateLimiter = limiter
	}
	if a.sim != nil {
		routerCfg.ChainHandler = handler.NewChainHandler(a.sim, cfg.PlatformWallet)
	}
	a.handler = httpAdapter.NewRouter(routerCfg)

	jobs := []scheduler.Job{
		{Name: "escrow_sweep", Interval: cfg.EscrowSweepInterval, Run: a.agent.Notifier(router.SweepExpired)},
		{Name: "deposit_recheck", Interval: cfg.DepositRecheckInterval, Run: a.agent.Notifier(router.RecheckDeposits)},
		{Name: "ledger_consistency", Interval: cfg.EscrowSweepInterval, Run: a.checkConsistency},
	}
	if dedupJob != nil {
		jobs = append(jobs, *dedupJob)
	}
	if limiter != nil {
		jobs = append(jobs, scheduler.Job{Name: "rate_limiter_reset", Interval: rateLimiterResetInterval, Run: func(context.Context) error {
			limiter.CleanupLimiters()
			return nil
		}})
	}
	a.scheduler = scheduler.New(logger, jobs...)

	return a, nil
}

// run serves background work until ctx is cancelled.
func (a *app) run(ctx context.Context) {
	if a.sim != nil {
		go a.sim.Run(ctx, a.cfg.ChainBlockInterval)
	}
	go func() {
		_ = a.scheduler.Start(ctx)
	}()
}

func (a *app) checkConsistency(ctx context.Context) error {
	return a.recon.CheckLedgerConsistency(ctx)
}

// shutdown stops accepting messages and waits for in-flight ones.
func (a *app) shutdown(ctx context.Context) error {
	err := a.agent.Shutdown(ctx)
	a.close()
	return err
}

// newMetricsHandler serves reg together with the default registry, which
// already holds the Go, process and HTTP middleware collectors.
func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{reg, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openLedgerStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*ledgerStore, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL:    cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			MinConns:       cfg.DatabaseMinConns,
			ConnectTimeout: cfg.DatabaseTimeout,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to postgres")
		return &ledgerStore{
			txManager: postgresRepo.NewTxManager(pool),
			accounts:  postgresRepo.NewAccountRepository(pool),
			escrows:   postgresRepo.NewEscrowRepository(pool),
			deposits:  postgresRepo.NewDepositRepository(pool),
			ledger:    postgresRepo.NewLedgerRepository(pool),
			retrier:   postgresRepo.NewRetrier(m, logger),
			checkers:  []handler.Checker{postgres.NewChecker(pool)},
			close:     pool.Close,
		}, nil
	case config.BackendMemory:
		store := memory.NewStore()
		logger.Warn().Msg("using in-memory ledger; balances are lost on restart")
		return &ledgerStore{
			txManager: memory.NewTxManager(store),
			accounts:  memory.NewAccountRepository(store),
			escrows:   memory.NewEscrowRepository(store),
			deposits:  memory.NewDepositRepository(store),
			ledger:    memory.NewLedgerRepository(store),
			close:     func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
}

// openDedupStore returns the inbound message dedup store and, for the
// in-process store, the job that purges expired keys.
func openDedupStore(ctx context.Context, cfg *config.Config, a *app) (usecase.IdempotencyStore, *scheduler.Job, []handler.Checker, error) {
	if cfg.RedisURL == "" {
		store := memory.NewIdempotencyStore()
		job := &scheduler.Job{Name: "dedup_purge", Interval: time.Minute, Run: func(context.Context) error {
			if n := store.Purge(); n > 0 {
				a.logger.Debug().Int("purged", n).Msg("expired dedup keys removed")
			}
			return nil
		}}
		return store, job, nil, nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("redis close failed")
		}
	})
	a.logger.Info().Msg("connected to redis")
	return redisRepo.NewIdempotencyStore(client), nil, []handler.Checker{redis.NewChecker(client)}, nil
}

func newChainClient(cfg *config.Config) usecase.ChainClient {
	if cfg.ChainMode == config.ChainSimulated {
		return chain.NewSimulated(cfg.PlatformWallet)
	}

	httpClient := &http.Client{Timeout: cfg.ChainTimeout}
	var signer *chain.SignerClient
	if cfg.ChainSignerURL != "" {
		signer = chain.NewSignerClient(cfg.ChainSignerURL, cfg.ChainSignerToken, httpClient)
	}
	return chain.NewClient(chain.NewLCDClient(cfg.ChainLCDURL, httpClient), signer)
}
