package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-ledger/config"
	httpHandler "marketplace-ledger/internal/adapter/http/handler"
	"marketplace-ledger/internal/adapter/messaging/kafka"
	"marketplace-ledger/internal/adapter/storage/memory"
	pgStorage "marketplace-ledger/internal/adapter/storage/postgres"
	redisStorage "marketplace-ledger/internal/adapter/storage/redis"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// repositories is the persistence backend chosen by storage.driver.
type repositories struct {
	wallets     ports.WalletRepository
	txns        ports.TransactionRepository
	withdrawals ports.WithdrawalRepository
	banks       ports.BankAccountRepository
	sequences   ports.InvoiceSequenceRepository
	invoices    ports.InvoiceRepository
	audit       ports.AuditRepository
	backups     ports.BackupRepository
	transactor  ports.DBTransactor
	health      ports.HealthChecker
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("MLG_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting Marketplace Ledger")

	ctx := context.Background()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	resetLock := redisStorage.NewResetLock(rdb)

	// Audit events go to Kafka only when enabled.
	var auditPublisher ports.AuditPublisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Kafka")
		}
		defer producer.Close()
		auditPublisher = kafka.NewAuditPublisher(producer, cfg.Kafka.AuditTopic)
	}

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	platformUserID := uuid.Nil
	if cfg.Ledger.PlatformUserID != "" {
		platformUserID, err = uuid.Parse(cfg.Ledger.PlatformUserID)
		if err != nil {
			log.Fatal().Err(err).Msg("ledger.platform_user_id must be a UUID")
		}
	} else {
		log.Warn().Msg("ledger.platform_user_id not set, subscription payments will be rejected")
	}
	invoiceLoc, err := cfg.Invoice.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load invoice timezone")
	}

	// Initialize business services
	auditSvc := service.NewAuditService(repos.audit, repos.transactor, auditPublisher, logger.WithComponent(log, "audit"))
	ledgerSvc := service.NewLedgerService(
		repos.wallets,
		repos.txns,
		idempotencyCache,
		repos.transactor,
		cfg.Ledger.HistoryPageSize,
		cfg.Ledger.IdempotencyTTL,
		logger.WithComponent(log, "ledger"),
	)
	notifier := service.NewWebhookNotifier(
		cfg.Notify.WebhookURL,
		cfg.Notify.Secret,
		sigSvc,
		&http.Client{Timeout: cfg.Notify.Timeout},
		logger.WithComponent(log, "notifier"),
	)
	withdrawalSvc := service.NewWithdrawalService(
		repos.withdrawals, repos.banks, ledgerSvc, auditSvc, notifier, repos.transactor, logger.WithComponent(log, "withdrawal"),
	)
	sequencer := service.NewInvoiceSequencer(
		repos.sequences, repos.invoices, auditSvc, repos.transactor,
		cfg.Invoice.DefaultPrefix, cfg.Invoice.DefaultNumberStart, logger.WithComponent(log, "invoice_sequencer"),
	)
	invoiceSvc := service.NewInvoiceService(
		repos.invoices, repos.txns, sequencer, auditSvc, repos.transactor,
		cfg.Invoice.SellerTaxID, invoiceLoc, logger.WithComponent(log, "invoice"),
	)
	bankSvc := service.NewBankAccountService(repos.banks, encSvc, auditSvc, repos.transactor, logger.WithComponent(log, "bank_account"))
	resetSvc := service.NewResetService(
		repos.wallets, repos.withdrawals, repos.backups, ledgerSvc, auditSvc, resetLock, repos.transactor,
		cfg.Reset.ConfirmationToken, cfg.Reset.LockTTL, logger.WithComponent(log, "reset"),
	)
	reportingSvc := service.NewReportingService(repos.withdrawals, repos.banks, repos.txns)
	confirmSvc := service.NewPaymentConfirmationService(ledgerSvc, invoiceSvc, platformUserID, logger.WithComponent(log, "payment_confirmation"))

	if cfg.HMAC.Secret == "" {
		log.Warn().Msg("hmac.secret not set, payment confirmations will be rejected")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		WithdrawalSvc:  withdrawalSvc,
		Sequencer:      sequencer,
		InvoiceSvc:     invoiceSvc,
		BankAccountSvc: bankSvc,
		ResetSvc:       resetSvc,
		ReportingSvc:   reportingSvc,
		ConfirmSvc:     confirmSvc,
		AuditSvc:       auditSvc,
		TokenSvc:       tokenSvc,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{repos.health, redisStorage.NewHealthCheck(rdb)},
		HMACAccessKey:  cfg.HMAC.AccessKey,
		HMACSecret:     cfg.HMAC.Secret,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// openRepositories connects the configured storage backend and applies
// migrations when asked to.
func openRepositories(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			wallets:     memory.NewWalletRepo(store),
			txns:        memory.NewTransactionRepo(store),
			withdrawals: memory.NewWithdrawalRepo(store),
			banks:       memory.NewBankAccountRepo(store),
			sequences:   memory.NewInvoiceSequenceRepo(store),
			invoices:    memory.NewInvoiceRepo(store),
			audit:       memory.NewAuditRepo(store),
			backups:     memory.NewBackupRepo(store),
			transactor:  store,
			health:      store,
			close:       func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	if cfg.Storage.MigrateOnStart {
		if err := pgStorage.RunMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &repositories{
		wallets:     pgStorage.NewWalletRepo(pool),
		txns:        pgStorage.NewTransactionRepo(pool),
		withdrawals: pgStorage.NewWithdrawalRepo(pool),
		banks:       pgStorage.NewBankAccountRepo(pool),
		sequences:   pgStorage.NewInvoiceSequenceRepo(pool),
		invoices:    pgStorage.NewInvoiceRepo(pool),
		audit:       pgStorage.NewAuditRepo(pool),
		backups:     pgStorage.NewBackupRepo(pool),
		transactor:  pgStorage.NewTransactor(pool),
		health:      pgStorage.NewHealthCheck(pool),
		close:       pool.Close,
	}, nil
}
