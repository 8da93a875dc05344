/**
 * @description
 * This file contains the Poster, the only component that writes transactions to the
 * ledger. It turns a teller's request into one ledger leg (deposit, withdrawal) or
 * two linked legs (transfer), hands them to the store's single append path and
 * announces the committed posting on RabbitMQ.
 *
 * Key features:
 * - Validates amounts (positive, at most two decimal places), direction and
 *   counterparty before anything is locked.
 * - Optional per-teller rate limiting backed by Redis.
 * - Idempotent retries: the same idempotency key and request returns the original result.
 * - Publishing happens after commit; a failed publish is logged and never undoes the posting.
 *
 * @dependencies
 * - github.com/google/uuid: Event ids.
 * - github.com/shopspring/decimal: Amounts.
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store, pkg/rabbitmq.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	outcomeCommitted = "committed"
	outcomeReplayed  = "replayed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"

	postingRateLimitScope = "posting"
	publishTimeout        = 5 * time.Second
)

// PosterConfig holds the optional collaborators of a Poster.
type PosterConfig struct {
	EventsExchange     string
	RateLimiter        RateLimiter
	RateLimitPerMinute int
	Metrics            *Metrics
	Clock              func() time.Time
}

// Poster validates and commits postings.
type Poster struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	exchange      string
	limiter       RateLimiter
	limit         int
	metrics       *Metrics
	clock         func() time.Time
	logger        *zap.Logger
}

// NewPoster creates a Poster. producer may be nil, in which case nothing is published.
func NewPoster(repo store.Repository, producer rabbitmq.Publisher, logger *zap.Logger, cfg PosterConfig) *Poster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	exchange := strings.TrimSpace(cfg.EventsExchange)
	if exchange == "" {
		exchange = "ledger_events"
	}
	return &Poster{
		repo:          repo,
		eventProducer: producer,
		exchange:      exchange,
		limiter:       cfg.RateLimiter,
		limit:         cfg.RateLimitPerMinute,
		metrics:       cfg.Metrics,
		clock:         clock,
		logger:        logger.With(zap.String("component", "poster")),
	}
}

// Post commits req. On success the returned transactions are visible to every read
// that starts after Post returns.
func (p *Poster) Post(ctx context.Context, req domain.PostRequest) (domain.PostResult, error) {
	started := time.Now()
	kind := kindOf(req)

	if err := validatePostRequest(req); err != nil {
		p.metrics.observePosting(kind, outcomeRejected, req.Amount, 0)
		return domain.PostResult{}, err
	}

	if err := p.consumeRateLimit(ctx, req.TellerID); err != nil {
		p.metrics.observePosting(kind, outcomeRejected, req.Amount, 0)
		return domain.PostResult{}, err
	}

	entry := store.Entry{
		Legs:           buildLegs(req),
		IdempotencyKey: scopedIdempotencyKey(req.TellerID, req.IdempotencyKey),
		Fingerprint:    fingerprint(req),
	}

	posting, err := p.repo.Append(ctx, entry)
	if err != nil {
		outcome := outcomeRejected
		if !isRejection(err) {
			outcome = outcomeFailed
			p.logger.Error("posting failed",
				zap.String("account_id", req.AccountID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
		p.metrics.observePosting(kind, outcome, req.Amount, 0)
		return domain.PostResult{}, err
	}

	result := domain.PostResult{
		Transactions: posting.Transactions,
		Balances:     posting.Balances,
		Replayed:     posting.Replayed,
	}

	if posting.Replayed {
		p.metrics.observePosting(kind, outcomeReplayed, req.Amount, 0)
		p.logger.Info("idempotent posting replayed",
			zap.String("idempotency_key", entry.IdempotencyKey),
			zap.Int64s("transaction_ids", result.IDs()),
		)
		return result, nil
	}

	took := time.Since(started)
	p.metrics.observePosting(kind, outcomeCommitted, req.Amount, took)
	p.logger.Info("posting committed",
		zap.String("kind", string(kind)),
		zap.String("account_id", req.AccountID),
		zap.String("counterparty_id", req.CounterpartyID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Int64s("transaction_ids", result.IDs()),
		zap.String("teller_id", req.TellerID),
		zap.Duration("took", took),
	)

	p.publishPosted(ctx, kind, req.TellerID, result.Transactions)
	return result, nil
}

func validatePostRequest(req domain.PostRequest) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return fmt.Errorf("%w: account_id is required", ErrInvalidRequest)
	}
	if !req.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return ErrInvalidAmount
	}
	if req.IsTransfer() && req.CounterpartyID == req.AccountID {
		return ErrSameAccount
	}
	return nil
}

func kindOf(req domain.PostRequest) domain.TransactionKind {
	switch {
	case req.IsTransfer():
		return domain.KindTransfer
	case req.Type == domain.TypeDebit:
		return domain.KindWithdrawal
	default:
		return domain.KindDeposit
	}
}

// buildLegs maps a request onto ledger legs. A transfer is always written debit
// leg first, on the account the money leaves.
func buildLegs(req domain.PostRequest) []domain.Transaction {
	base := domain.Transaction{
		Amount:      req.Amount,
		Timestamp:   req.Timestamp,
		Description: strings.TrimSpace(req.Description),
		TellerID:    req.TellerID,
	}
	if !base.Timestamp.IsZero() {
		base.Timestamp = base.Timestamp.UTC()
	}

	if !req.IsTransfer() {
		leg := base
		leg.AccountID = req.AccountID
		leg.Type = req.Type
		leg.Kind = kindOf(req)
		return []domain.Transaction{leg}
	}

	src, dst := req.AccountID, req.CounterpartyID
	if req.Type == domain.TypeCredit {
		src, dst = req.CounterpartyID, req.AccountID
	}

	debit := base
	debit.Type = domain.TypeDebit
	debit.Kind = domain.KindTransfer
	debit.AccountID = src
	debit.ToAccountID = dst

	credit := base
	credit.Type = domain.TypeCredit
	credit.Kind = domain.KindTransfer
	credit.AccountID = dst
	credit.FromAccountID = src

	return []domain.Transaction{debit, credit}
}

// scopedIdempotencyKey namespaces a key by the teller that sent it, so two tellers
// reusing the same key never see each other's postings.
func scopedIdempotencyKey(tellerID, key string) string {
	key = strings.TrimSpace(key)
	tellerID = strings.TrimSpace(tellerID)
	if key == "" || tellerID == "" {
		return key
	}
	return "teller/" + tellerID + "/" + key
}

// fingerprint identifies the content of a request for idempotency checks.
func fingerprint(req domain.PostRequest) string {
	var ts int64
	if !req.Timestamp.IsZero() {
		ts = req.Timestamp.UnixNano()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		req.AccountID, req.Type, req.Amount.StringFixed(2), req.CounterpartyID, ts, strings.TrimSpace(req.Description))
}

func isRejection(err error) bool {
	return errors.Is(err, store.ErrAccountNotFound) ||
		errors.Is(err, store.ErrInsufficientFunds) ||
		errors.Is(err, store.ErrIdempotencyConflict) ||
		errors.Is(err, store.ErrInvalidEntry) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (p *Poster) consumeRateLimit(ctx context.Context, tellerID string) error {
	if p.limiter == nil || p.limit <= 0 || tellerID == "" {
		return nil
	}
	count, retryAfter, err := p.limiter.ConsumeRateLimit(ctx, postingRateLimitScope, tellerID, p.limit, time.Minute)
	if err != nil {
		// fail open
		p.logger.Warn("rate limiter unavailable; allowing posting", zap.String("teller_id", tellerID), zap.Error(err))
		return nil
	}
	if count > p.limit {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (p *Poster) publishPosted(ctx context.Context, kind domain.TransactionKind, tellerID string, legs []domain.Transaction) {
	event := domain.TransactionPostedEvent{
		EventID:      uuid.New(),
		Kind:         kind,
		Transactions: legs,
		TellerID:     tellerID,
		PostedAt:     p.clock().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.eventProducer.Publish(pubCtx, p.exchange, domain.TransactionPostedRoutingKey, event); err != nil {
		p.logger.Warn("failed to publish posted event",
			zap.String("event_id", event.EventID.String()),
			zap.Int64("transaction_id", legs[0].ID),
			zap.Error(err),
		)
	}
}
