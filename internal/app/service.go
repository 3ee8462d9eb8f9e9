/**
 * @description
 * This file contains the core business logic for the registry-service. The
 * `Service` struct owns the asset lifecycle state machine and the token
 * ledger: it enforces who may trigger which transition, which transitions are
 * legal for the current status, and the compliance predicate gating every
 * balance movement. Successful mutations are published to RabbitMQ for
 * asynchronous consumers.
 *
 * Lifecycle transition graph:
 *   pending -> verified | rejected   (verifier decision)
 *   verified -> tokenized            (owner tokenization, sole minting event)
 *   tokenized -> retired             (owner or administrator)
 *   rejected, retired                (terminal)
 *
 * @dependencies
 * - context, errors, log, sync: Standard Go libraries.
 * - github.com/google/uuid: For event envelope IDs.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetvault/registry-service/internal/domain"
	"github.com/assetvault/registry-service/internal/store"
	"github.com/assetvault/registry-service/pkg/rabbitmq"
)

var (
	ErrNotAuthorized         = errors.New("caller is not authorized for this operation")
	ErrUnauthorizedVerifier  = errors.New("caller is not an active verifier")
	ErrAssetNotVerified      = errors.New("asset is not in a verified state")
	ErrAssetRetired          = errors.New("asset is retired")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrComplianceCheckFailed = errors.New("compliance check failed")
	ErrVerificationClosed    = errors.New("asset verification already finalized")
	ErrInvalidAssetID        = errors.New("asset id must not be empty")
	ErrInvalidIdentity       = errors.New("identity must not be empty")
	ErrTransferRateLimited   = errors.New("transfer rate limit exceeded")
)

// Service provides the core business logic for the asset registry.
type Service struct {
	repo           store.Repository
	eventProducer  rabbitmq.Publisher
	adminPrincipal string

	transferLimiter     *RedisTransferRateLimiter
	transferLimitPerMin int

	// assetLocks serializes every read-check-mutate sequence per asset
	// identifier, so two concurrent transfers cannot both read the same
	// stale balance before either one commits.
	mu         sync.Mutex
	assetLocks map[string]*sync.Mutex
}

// NewService creates a new registry service instance. adminPrincipal is the
// identity allowed to manage the verifier directory and to apply
// administrative overrides (retire, emergency ownership transfer).
func NewService(repo store.Repository, producer rabbitmq.Publisher, adminPrincipal string) *Service {
	return &Service{
		repo:           repo,
		eventProducer:  producer,
		adminPrincipal: adminPrincipal,
		assetLocks:     make(map[string]*sync.Mutex),
	}
}

// SetTransferRateLimiter enables distributed rate limiting on transfers.
func (s *Service) SetTransferRateLimiter(limiter *RedisTransferRateLimiter, perMinute int) {
	s.transferLimiter = limiter
	s.transferLimitPerMin = perMinute
}

// lockAsset acquires the exclusive lock for one asset identifier and returns
// the matching unlock function.
func (s *Service) lockAsset(assetID string) func() {
	s.mu.Lock()
	l, ok := s.assetLocks[assetID]
	if !ok {
		l = &sync.Mutex{}
		s.assetLocks[assetID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) isAdmin(caller string) bool {
	return s.adminPrincipal != "" && caller == s.adminPrincipal
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.RegistryExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=registry_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) publishLifecycleEvent(ctx context.Context, eventType string, asset *domain.Asset, actor string, tick int64) {
	s.publishEvent(ctx, eventType, domain.AssetLifecycleEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		AssetID:   asset.ID,
		Actor:     actor,
		Status:    asset.Status,
		Timestamp: tick,
	})
}

// RegisterAsset creates a new asset record in the pending state, owned by the
// caller. Asset identifiers are caller-chosen and unique for the life of the
// registry.
func (s *Service) RegisterAsset(ctx context.Context, caller string, req domain.RegisterAssetRequest) (*domain.Asset, error) {
	if req.ID == "" {
		return nil, ErrInvalidAssetID
	}

	unlock := s.lockAsset(req.ID)
	defer unlock()

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}

	asset := &domain.Asset{
		ID:             req.ID,
		Owner:          caller,
		Status:         domain.StatusPending,
		MetadataRef:    req.MetadataRef,
		ComplianceHash: req.ComplianceHash,
		CreatedAt:      tick,
		UpdatedAt:      tick,
	}
	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.publishLifecycleEvent(ctx, "asset.registered", asset, caller, tick)
	return asset, nil
}

// GetAsset returns the full asset record.
func (s *Service) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	return s.repo.GetAsset(ctx, assetID)
}

// UpdateMetadata replaces the asset's metadata reference. Only the current
// owner may update, and retired assets are frozen.
func (s *Service) UpdateMetadata(ctx context.Context, caller, assetID, metadataRef string) (*domain.Asset, error) {
	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller {
		return nil, ErrNotAuthorized
	}
	if asset.Retired {
		return nil, ErrAssetRetired
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}
	asset.MetadataRef = metadataRef
	asset.UpdatedAt = tick
	if err := s.repo.UpdateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// VerifyAsset records a verifier's decision on a pending asset, moving it to
// verified or rejected. The caller must be an active entry in the verifier
// directory. A decision is final: assets that already left the pending state
// cannot be re-verified.
func (s *Service) VerifyAsset(ctx context.Context, caller, assetID string, approve bool) (*domain.Asset, error) {
	authorized, err := s.IsAuthorizedVerifier(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, ErrUnauthorizedVerifier
	}

	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != domain.StatusPending {
		return nil, ErrVerificationClosed
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}

	if approve {
		asset.Status = domain.StatusVerified
	} else {
		asset.Status = domain.StatusRejected
	}
	verifier := caller
	asset.Verifier = &verifier
	asset.VerifiedAt = &tick
	asset.UpdatedAt = tick
	if err := s.repo.UpdateAsset(ctx, asset); err != nil {
		return nil, err
	}

	if approve {
		s.publishLifecycleEvent(ctx, "asset.verified", asset, caller, tick)
	} else {
		s.publishLifecycleEvent(ctx, "asset.rejected", asset, caller, tick)
	}
	return asset, nil
}

// TokenizeAsset creates the fixed-supply fractional-ownership ledger for a
// verified asset and issues the entire supply to the owner. This is the sole
// minting event; total supply is immutable afterwards.
func (s *Service) TokenizeAsset(ctx context.Context, caller, assetID string, req domain.TokenizeAssetRequest) (*domain.Asset, *domain.TokenInfo, error) {
	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.Owner != caller {
		return nil, nil, ErrNotAuthorized
	}
	// Tokenization is write-once: a second call fails regardless of the
	// current status, including after retirement.
	if _, err := s.repo.GetTokenInfo(ctx, assetID); err == nil {
		return nil, nil, store.ErrAlreadyTokenized
	} else if !errors.Is(err, store.ErrTokenInfoNotFound) {
		return nil, nil, err
	}
	if asset.Status != domain.StatusVerified {
		return nil, nil, ErrAssetNotVerified
	}
	// Supplies are persisted as BIGINT and must round-trip through int64.
	if req.TotalSupply == 0 || req.TotalSupply > math.MaxInt64 {
		return nil, nil, ErrInvalidAmount
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, nil, err
	}

	asset.Status = domain.StatusTokenized
	asset.UpdatedAt = tick
	info := &domain.TokenInfo{
		AssetID:     assetID,
		TotalSupply: req.TotalSupply,
		Decimals:    req.Decimals,
		TokenURI:    req.TokenURI,
		TokenizedAt: tick,
	}
	if err := s.repo.TokenizeAsset(ctx, asset, info); err != nil {
		return nil, nil, err
	}

	s.publishLifecycleEvent(ctx, "asset.tokenized", asset, caller, tick)
	return asset, info, nil
}

// RetireAsset moves the asset to its terminal retired state. Retirement is
// only reachable from tokenized: pending, verified, and rejected assets stay
// where they are. Existing balances are untouched; retirement only freezes
// further transfers via the compliance check. Owner or administrator only.
func (s *Service) RetireAsset(ctx context.Context, caller, assetID string) (*domain.Asset, error) {
	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller && !s.isAdmin(caller) {
		return nil, ErrNotAuthorized
	}
	if asset.Retired {
		return nil, ErrAssetRetired
	}
	if asset.Status != domain.StatusTokenized {
		return nil, ErrAssetNotVerified
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}
	asset.Status = domain.StatusRetired
	asset.Retired = true
	asset.UpdatedAt = tick
	if err := s.repo.UpdateAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.publishLifecycleEvent(ctx, "asset.retired", asset, caller, tick)
	return asset, nil
}

// EmergencyTransferOwnership reassigns the asset's owner field without
// touching balances. Administrator only.
func (s *Service) EmergencyTransferOwnership(ctx context.Context, caller, assetID, newOwner string) (*domain.Asset, error) {
	if !s.isAdmin(caller) {
		return nil, ErrNotAuthorized
	}
	if newOwner == "" {
		return nil, ErrInvalidIdentity
	}

	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Retired {
		return nil, ErrAssetRetired
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}
	asset.Owner = newOwner
	asset.UpdatedAt = tick
	if err := s.repo.UpdateAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.publishLifecycleEvent(ctx, "asset.owner_changed", asset, caller, tick)
	return asset, nil
}

// BalanceOf returns the holder's balance for the asset, zero by default.
func (s *Service) BalanceOf(ctx context.Context, assetID, holder string) (uint64, error) {
	return s.repo.GetBalance(ctx, assetID, holder)
}

// GetTokenInfo returns the token ledger header for a tokenized asset.
func (s *Service) GetTokenInfo(ctx context.Context, assetID string) (*domain.TokenInfo, error) {
	return s.repo.GetTokenInfo(ctx, assetID)
}

// ListBalances returns every non-zero holder balance for the asset, for
// audit reads over the cap table.
func (s *Service) ListBalances(ctx context.Context, assetID string) (map[string]uint64, error) {
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.repo.ListBalances(ctx, assetID)
}

// CheckCompliance evaluates the transfer compliance predicate against live
// state: the asset exists, is not retired, is tokenized, the amount is
// positive, and the sender holds at least the amount. The result is derived
// fresh on every call and never cached, because balances and status can
// change between a check and a transfer.
func (s *Service) CheckCompliance(ctx context.Context, assetID, sender, recipient string, amount uint64) (bool, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			return false, nil
		}
		return false, err
	}
	if asset.Retired || asset.Status != domain.StatusTokenized || amount == 0 {
		return false, nil
	}
	balance, err := s.repo.GetBalance(ctx, assetID, sender)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// TransferTokens moves fractional ownership from the caller to the recipient.
// The compliance checks and the balance mutation execute as one atomic step
// under the asset's lock: a failed transfer never leaves a partial update.
func (s *Service) TransferTokens(ctx context.Context, caller, assetID, recipient string, amount uint64) (*domain.TransferRecord, error) {
	if recipient == "" {
		return nil, ErrInvalidIdentity
	}

	if s.transferLimiter != nil && s.transferLimitPerMin > 0 {
		count, retryAfter, err := s.transferLimiter.ConsumeRateLimit(ctx, "transfer", caller, s.transferLimitPerMin, time.Minute)
		if err != nil {
			// A limiter outage must not block transfers.
			log.Printf("level=warn component=registry_service msg=\"rate limiter unavailable\" principal=%s err=%v", caller, err)
		} else if count > s.transferLimitPerMin {
			log.Printf("level=warn component=registry_service msg=\"transfer rate limited\" principal=%s retry_after=%d", caller, retryAfter)
			return nil, ErrTransferRateLimited
		}
	}

	unlock := s.lockAsset(assetID)
	defer unlock()

	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Retired {
		return nil, ErrAssetRetired
	}
	if asset.Status != domain.StatusTokenized {
		return nil, ErrAssetNotVerified
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	balance, err := s.repo.GetBalance(ctx, assetID, caller)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, store.ErrInsufficientTokens
	}

	// Final gate: re-derive the full predicate so any condition not covered
	// by the specific checks above still blocks the transfer.
	ok, err := s.CheckCompliance(ctx, assetID, caller, recipient, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrComplianceCheckFailed
	}

	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.ApplyTransfer(ctx, assetID, caller, recipient, amount, tick)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, "token.transferred", domain.TokenTransferEvent{
		EventID:   uuid.New(),
		AssetID:   assetID,
		From:      record.From,
		To:        record.To,
		Amount:    record.Amount,
		Seq:       record.Seq,
		Timestamp: record.Timestamp,
	})
	return record, nil
}

// ListTransfers returns the asset's slice of the transfer history log for
// audit. The log never drives state decisions.
func (s *Service) ListTransfers(ctx context.Context, assetID string, limit, offset int) ([]domain.TransferRecord, error) {
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.repo.ListTransfers(ctx, assetID, limit, offset)
}

// AddVerifier activates a verifier directory entry. Administrator only.
// Re-adding an existing identity is idempotent and preserves its original
// added-at timestamp.
func (s *Service) AddVerifier(ctx context.Context, caller, identity string) (*domain.VerifierEntry, error) {
	if !s.isAdmin(caller) {
		return nil, ErrNotAuthorized
	}
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	tick, err := s.repo.NextTick(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.AddVerifier(ctx, identity, tick)
}

// RemoveVerifier deactivates a verifier directory entry. Administrator only.
// The record is kept for audit.
func (s *Service) RemoveVerifier(ctx context.Context, caller, identity string) error {
	if !s.isAdmin(caller) {
		return ErrNotAuthorized
	}
	return s.repo.DeactivateVerifier(ctx, identity)
}

// IsAuthorizedVerifier reports whether the identity is an active verifier
// directory entry. Unknown identities are not authorized.
func (s *Service) IsAuthorizedVerifier(ctx context.Context, identity string) (bool, error) {
	entry, err := s.repo.GetVerifier(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrVerifierNotFound) {
			return false, nil
		}
		return false, err
	}
	return entry.Active, nil
}

// GetVerifier returns the verifier directory entry.
func (s *Service) GetVerifier(ctx context.Context, identity string) (*domain.VerifierEntry, error) {
	return s.repo.GetVerifier(ctx, identity)
}

// Stats returns the registry-wide counters.
func (s *Service) Stats(ctx context.Context) (*domain.RegistryStats, error) {
	return s.repo.Stats(ctx)
}
