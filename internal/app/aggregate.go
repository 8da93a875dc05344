/**
 * @description
 * The Aggregator answers the global transaction summary. The normal path reads the
 * totals the store maintains on every commit; ScanSummary re-derives the same numbers
 * from the committed log so the two can be reconciled.
 *
 * @notes
 * - Deposits and withdrawals count money entering and leaving the bank. Transfers
 *   stay inside the bank and only show up in counts and the transfer volume.
 */

package app

import (
	"context"
	"fmt"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

type Aggregator struct {
	repo    store.Repository
	metrics *Metrics
	logger  *zap.Logger
}

func NewAggregator(repo store.Repository, metrics *Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "aggregator")),
	}
}

// TransactionSummary returns the totals as of the latest commit.
func (a *Aggregator) TransactionSummary(ctx context.Context) domain.Summary {
	return a.repo.Snapshot(ctx).Totals
}

// ScanSummary derives the summary from the snapshot's log alone.
func ScanSummary(snap store.Snapshot) domain.Summary {
	var s domain.Summary
	for _, tx := range snap.Transactions {
		s.Apply(tx)
	}
	return s
}

// ReconcileReport is the outcome of a reconciliation run.
type ReconcileReport struct {
	Transactions int            `json:"transactions"`
	Incremental  domain.Summary `json:"incremental"`
	Scanned      domain.Summary `json:"scanned"`
	Consistent   bool           `json:"consistent"`
}

// Reconcile compares the incremental totals with a full scan taken from the same
// snapshot and re-derives every account balance from the log.
func (a *Aggregator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	snap := a.repo.Snapshot(ctx)
	report := ReconcileReport{
		Transactions: len(snap.Transactions),
		Incremental:  snap.Totals,
		Scanned:      ScanSummary(snap),
	}
	report.Consistent = report.Incremental.Equal(report.Scanned)

	if !report.Consistent {
		a.metrics.driftDetected()
		a.logger.Error("summary drift detected",
			zap.Int("transactions", report.Transactions),
			zap.String("incremental_net", report.Incremental.NetCashFlow.StringFixed(2)),
			zap.String("scanned_net", report.Scanned.NetCashFlow.StringFixed(2)),
		)
		return report, fmt.Errorf("%w after %d transactions", ErrSummaryDrift, report.Transactions)
	}

	if err := a.repo.Verify(ctx); err != nil {
		report.Consistent = false
		a.logger.Error("balance verification failed", zap.Error(err))
		return report, err
	}

	a.logger.Info("ledger reconciled", zap.Int("transactions", report.Transactions))
	return report, nil
}
