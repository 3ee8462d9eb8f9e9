/**
 * @description
 * This file provides the in-memory implementation of the `Repository`
 * interface. It backs the service in tests and in local development when no
 * DATABASE_URL is configured. A single mutex serializes every operation, so
 * the multi-write operations (TokenizeAsset, ApplyTransfer) are trivially
 * atomic and no reader ever observes a half-applied mutation.
 *
 * @dependencies
 * - context, sync: Standard Go libraries.
 * - internal/domain: Contains the domain models.
 */

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/assetvault/registry-service/internal/domain"
)

// MemoryRepository is a mutex-guarded, map-backed Repository.
type MemoryRepository struct {
	mu sync.Mutex

	assets    map[string]domain.Asset
	verifiers map[string]domain.VerifierEntry
	tokens    map[string]domain.TokenInfo
	balances  map[string]map[string]uint64 // assetID -> holder -> balance
	transfers []domain.TransferRecord

	tick          int64
	transferSeq   int64
	assetCount    int64
	verifierCount int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assets:    make(map[string]domain.Asset),
		verifiers: make(map[string]domain.VerifierEntry),
		tokens:    make(map[string]domain.TokenInfo),
		balances:  make(map[string]map[string]uint64),
	}
}

// NextTick allocates the next value of the registry's logical clock.
func (r *MemoryRepository) NextTick(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	return r.tick, nil
}

// CreateAsset inserts a new asset record and bumps the asset counter.
func (r *MemoryRepository) CreateAsset(ctx context.Context, asset *domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[asset.ID]; exists {
		return ErrAssetAlreadyExists
	}
	r.assets[asset.ID] = *asset
	r.assetCount++
	return nil
}

// GetAsset returns a copy of the asset record.
func (r *MemoryRepository) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[assetID]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return &asset, nil
}

// UpdateAsset replaces the stored asset record.
func (r *MemoryRepository) UpdateAsset(ctx context.Context, asset *domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset.ID]; !ok {
		return ErrAssetNotFound
	}
	r.assets[asset.ID] = *asset
	return nil
}

// AddVerifier activates the directory entry for the identity, creating it if
// absent. Re-adding an existing identity keeps its original AddedAt.
func (r *MemoryRepository) AddVerifier(ctx context.Context, identity string, addedAt int64) (*domain.VerifierEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.verifiers[identity]
	if !ok {
		entry = domain.VerifierEntry{Identity: identity, AddedAt: addedAt}
		r.verifierCount++
	}
	entry.Active = true
	r.verifiers[identity] = entry
	return &entry, nil
}

// DeactivateVerifier flips the entry inactive, preserving the record. Unknown
// identities are a no-op.
func (r *MemoryRepository) DeactivateVerifier(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.verifiers[identity]
	if !ok {
		return nil
	}
	entry.Active = false
	r.verifiers[identity] = entry
	return nil
}

// GetVerifier returns a copy of the directory entry.
func (r *MemoryRepository) GetVerifier(ctx context.Context, identity string) (*domain.VerifierEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.verifiers[identity]
	if !ok {
		return nil, ErrVerifierNotFound
	}
	return &entry, nil
}

// TokenizeAsset atomically persists the tokenized asset record, creates its
// TokenInfo, and issues the entire supply to the asset owner.
func (r *MemoryRepository) TokenizeAsset(ctx context.Context, asset *domain.Asset, info *domain.TokenInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset.ID]; !ok {
		return ErrAssetNotFound
	}
	if _, exists := r.tokens[info.AssetID]; exists {
		return ErrAlreadyTokenized
	}
	r.assets[asset.ID] = *asset
	r.tokens[info.AssetID] = *info
	r.balances[info.AssetID] = map[string]uint64{asset.Owner: info.TotalSupply}
	return nil
}

// GetTokenInfo returns a copy of the token ledger header.
func (r *MemoryRepository) GetTokenInfo(ctx context.Context, assetID string) (*domain.TokenInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tokens[assetID]
	if !ok {
		return nil, ErrTokenInfoNotFound
	}
	return &info, nil
}

// GetBalance returns the holder's balance, zero for absent entries.
func (r *MemoryRepository) GetBalance(ctx context.Context, assetID, holder string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[assetID][holder], nil
}

// ListBalances returns all non-zero balances for the asset.
func (r *MemoryRepository) ListBalances(ctx context.Context, assetID string) (map[string]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.balances[assetID]))
	for holder, balance := range r.balances[assetID] {
		if balance > 0 {
			out[holder] = balance
		}
	}
	return out, nil
}

// ApplyTransfer atomically moves tokens between holders and appends the
// history record under a freshly drawn global sequence number. The balance
// check and both mutations happen under the same lock, so concurrent
// transfers can never double-spend a stale balance.
func (r *MemoryRepository) ApplyTransfer(ctx context.Context, assetID, from, to string, amount uint64, timestamp int64) (*domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, ok := r.balances[assetID]
	if !ok {
		return nil, ErrTokenInfoNotFound
	}
	if ledger[from] < amount {
		return nil, ErrInsufficientTokens
	}

	ledger[from] -= amount
	if ledger[from] == 0 {
		delete(ledger, from)
	}
	ledger[to] += amount

	r.transferSeq++
	record := domain.TransferRecord{
		AssetID:   assetID,
		Seq:       r.transferSeq,
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: timestamp,
	}
	r.transfers = append(r.transfers, record)
	return &record, nil
}

// ListTransfers returns the asset's history slice ordered by sequence number.
// A non-positive limit falls back to a page of 50, matching the Postgres
// implementation.
func (r *MemoryRepository) ListTransfers(ctx context.Context, assetID string, limit, offset int) ([]domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	matched := make([]domain.TransferRecord, 0)
	for _, record := range r.transfers {
		if record.AssetID == assetID {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })

	if offset >= len(matched) {
		return []domain.TransferRecord{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Stats reports the registry-wide counters.
func (r *MemoryRepository) Stats(ctx context.Context) (*domain.RegistryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &domain.RegistryStats{
		TotalAssets:     r.assetCount,
		TotalVerifiers:  r.verifierCount,
		LastTransferSeq: r.transferSeq,
	}, nil
}
