package handler

import (
	"marketplace-ledger/internal/adapter/http/middleware"
	redisStore "marketplace-ledger/internal/adapter/storage/redis"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	WithdrawalSvc  ports.WithdrawalService
	Sequencer      ports.InvoiceSequencer
	InvoiceSvc     ports.InvoiceService
	BankAccountSvc ports.BankAccountService
	ResetSvc       ports.ResetService
	ReportingSvc   ports.ReportingService
	ConfirmSvc     ports.PaymentConfirmationService
	AuditSvc       ports.AuditService // nil = denials are not audited
	TokenSvc       ports.TokenService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore           // nil = no replay protection
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	HMACAccessKey  string
	HMACSecret     string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.RequireJSON())
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenials(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	can := middleware.RequireCapability

	v1 := r.Group("/api/v1")

	// --- HMAC-authenticated routes (payment gateway) ---
	hmacAuth := middleware.HMACAuth(deps.HMACAccessKey, deps.HMACSecret, deps.SigSvc, deps.NonceStore, deps.Logger)
	integrationHandler := NewIntegrationHandler(deps.ConfirmSvc)
	integrations := v1.Group("/integrations", hmacAuth)
	{
		integrations.POST("/payments/confirm", rl("integrations"), integrationHandler.ConfirmPayment)
	}

	// --- JWT-authenticated routes ---
	api := v1.Group("", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	ledgerHandler := NewLedgerHandler(deps.LedgerSvc)
	wallet := api.Group("/wallet", rl("reads"))
	{
		wallet.GET("/balance", ledgerHandler.GetBalance)
		wallet.GET("/transactions", ledgerHandler.ListTransactions)
		wallet.GET("/transactions/:id", ledgerHandler.GetTransaction)
	}
	api.POST("/ledger/transactions", can(domain.CapLedgerPost), rl("ledger_post"), ledgerHandler.Post)

	withdrawalHandler := NewWithdrawalHandler(deps.WithdrawalSvc)
	withdrawals := api.Group("/withdrawals")
	{
		withdrawals.POST("", rl("withdrawals"), withdrawalHandler.Submit)
		withdrawals.GET("", rl("reads"), withdrawalHandler.ListMine)
		withdrawals.GET("/:id", rl("reads"), withdrawalHandler.Get)
		withdrawals.POST("/:id/cancel", rl("withdrawals"), withdrawalHandler.Cancel)

		review := withdrawals.Group("", can(domain.CapWithdrawalReview), rl("admin"))
		review.POST("/:id/approve", withdrawalHandler.Approve)
		review.POST("/:id/reject", withdrawalHandler.Reject)
		review.POST("/:id/processing", withdrawalHandler.MarkProcessing)
		review.POST("/:id/complete", withdrawalHandler.Complete)
	}

	bankHandler := NewBankAccountHandler(deps.BankAccountSvc)
	bankAccounts := api.Group("/bank-accounts")
	{
		bankAccounts.POST("", rl("bank_account"), bankHandler.Register)
		bankAccounts.GET("", rl("reads"), bankHandler.ListMine)
	}

	invoiceHandler := NewInvoiceHandler(deps.Sequencer, deps.InvoiceSvc)
	invoices := api.Group("/invoices", rl("invoices"))
	{
		invoices.POST("/create", can(domain.CapInvoiceIssue), invoiceHandler.Create)
		invoices.GET("/:id", can(domain.CapInvoiceIssue), invoiceHandler.Get)
		invoices.POST("/:id/void", can(domain.CapInvoiceManage), invoiceHandler.Void)
	}

	adminHandler := NewAdminHandler(deps.ResetSvc, deps.ReportingSvc, deps.AuditSvc)
	admin := api.Group("/admin", rl("admin"))
	{
		admin.POST("/invoices/set-prefix", can(domain.CapInvoiceManage), invoiceHandler.SetPrefix)
		admin.GET("/invoices", can(domain.CapInvoiceManage), invoiceHandler.List)
		admin.GET("/invoices/sequences/:year_month", can(domain.CapInvoiceManage), invoiceHandler.GetSequence)

		admin.POST("/bank-accounts/:id/verify", can(domain.CapBankAccountReview), bankHandler.Verify)
		admin.POST("/bank-accounts/:id/flag", can(domain.CapBankAccountReview), bankHandler.Flag)
		admin.DELETE("/bank-accounts/:id", can(domain.CapBankAccountDelete), bankHandler.Delete)

		admin.POST("/wallet-backup", can(domain.CapWalletBackup), adminHandler.Backup)
		admin.GET("/wallet-backup/:id", can(domain.CapWalletBackup), adminHandler.GetBackup)
		admin.POST("/wallet-reset", can(domain.CapWalletReset), rl("wallet_reset"), adminHandler.Reset)

		admin.GET("/withdrawals", can(domain.CapReportRead), adminHandler.ListWithdrawals)
		admin.GET("/ledger/stats", can(domain.CapReportRead), adminHandler.LedgerStats)
		if deps.AuditSvc != nil {
			admin.GET("/audit-logs", can(domain.CapAuditRead), adminHandler.ListAuditLogs)
		}
	}

	return r
}
