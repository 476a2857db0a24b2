package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Account metrics
	AccountsRegistered prometheus.Counter
	WalletsLinked      prometheus.Counter

	// Payment metrics
	PaymentsCompleted prometheus.Counter
	PaymentDuration   prometheus.Histogram

	// Escrow metrics
	EscrowsCreated  prometheus.Counter
	EscrowsSettled  *prometheus.CounterVec
	EscrowDuration  prometheus.Histogram
	EscrowSweepRuns prometheus.Counter

	// Deposit metrics
	Deposits        *prometheus.CounterVec
	DepositDuration prometheus.Histogram

	// Withdrawal metrics
	Withdrawals        *prometheus.CounterVec
	WithdrawalDuration prometheus.Histogram

	// Command metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	DuplicateMsgs   prometheus.Counter

	// Transport metrics
	OutboundSends *prometheus.CounterVec

	// Ledger metrics
	LedgerImbalance prometheus.Gauge
	StorageRetries  *prometheus.CounterVec
}

// New creates all Prometheus metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Account metrics
		AccountsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_accounts_registered_total",
			Help: "Total number of accounts registered",
		}),
		WalletsLinked: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_wallets_linked_total",
			Help: "Total number of wallets linked to accounts",
		}),

		// Payment metrics
		PaymentsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_payments_completed_total",
			Help: "Total number of internal payments",
		}),
		PaymentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transactai_payment_duration_seconds",
			Help:    "Duration of payment operations",
			Buckets: prometheus.DefBuckets,
		}),

		// Escrow metrics
		EscrowsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_escrows_created_total",
			Help: "Total number of escrows created",
		}),
		EscrowsSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_escrows_settled_total",
				Help: "Total number of escrows settled by final state",
			},
			[]string{"state"},
		),
		EscrowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transactai_escrow_duration_seconds",
			Help:    "Duration of escrow operations",
			Buckets: prometheus.DefBuckets,
		}),
		EscrowSweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_escrow_sweep_runs_total",
			Help: "Total number of escrow expiry sweeps",
		}),

		// Deposit metrics
		Deposits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_deposits_total",
				Help: "Total deposit submissions by outcome",
			},
			[]string{"status"},
		),
		DepositDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transactai_deposit_duration_seconds",
			Help:    "Duration of deposit reconciliation including chain lookups",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),

		// Withdrawal metrics
		Withdrawals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_withdrawals_total",
				Help: "Total withdrawals by outcome",
			},
			[]string{"status"},
		),
		WithdrawalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transactai_withdrawal_duration_seconds",
			Help:    "Duration of withdrawals including the payout call",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),

		// Command metrics
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_commands_total",
				Help: "Total commands handled by command and outcome",
			},
			[]string{"command", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transactai_command_duration_seconds",
				Help:    "Command handling duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		DuplicateMsgs: factory.NewCounter(prometheus.CounterOpts{
			Name: "transactai_duplicate_messages_total",
			Help: "Total inbound messages dropped as duplicates",
		}),

		// Transport metrics
		OutboundSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_outbound_sends_total",
				Help: "Total outbound envelopes by route and outcome",
			},
			[]string{"route", "status"},
		),

		// Ledger metrics
		LedgerImbalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transactai_ledger_imbalance",
			Help: "Liabilities minus on-chain backing at the last consistency check",
		}),
		StorageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactai_storage_retries_total",
				Help: "Ledger transactions retried after a transient conflict, by SQLSTATE and outcome",
			},
			[]string{"code", "outcome"},
		),
	}
}
