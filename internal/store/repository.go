/**
 * @description
 * This file defines the `Repository` interface, the contract for all state
 * persisted by the registry-service: asset records, the verifier directory,
 * per-asset token ledgers, the append-only transfer history log, and the
 * registry-wide counters. Defining an interface decouples the lifecycle and
 * ledger logic in internal/app from the storage backend, so the same service
 * runs against PostgreSQL in production and the in-memory store in tests.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/assetvault/registry-service/internal/domain"
)

var (
	ErrAssetNotFound      = errors.New("asset not found")
	ErrAssetAlreadyExists = errors.New("asset already exists")
	ErrAlreadyTokenized   = errors.New("asset already tokenized")
	ErrTokenInfoNotFound  = errors.New("token info not found")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrVerifierNotFound   = errors.New("verifier not found")
)

// Repository defines the set of methods for interacting with registry state.
//
// Multi-write operations (TokenizeAsset, ApplyTransfer) must be atomic: either
// every write lands or none does, and no intermediate state is observable by
// concurrent readers. NextTick allocates the registry's logical clock, a
// strictly increasing value shared by all callers.
type Repository interface {
	// Logical clock
	NextTick(ctx context.Context) (int64, error)

	// Asset records
	CreateAsset(ctx context.Context, asset *domain.Asset) error
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)
	UpdateAsset(ctx context.Context, asset *domain.Asset) error

	// Verifier directory. AddVerifier activates the entry, creating it when
	// absent and preserving the original AddedAt on re-add. DeactivateVerifier
	// keeps the record for audit and is a no-op for unknown identities.
	AddVerifier(ctx context.Context, identity string, addedAt int64) (*domain.VerifierEntry, error)
	DeactivateVerifier(ctx context.Context, identity string) error
	GetVerifier(ctx context.Context, identity string) (*domain.VerifierEntry, error)

	// Token ledger. TokenizeAsset persists the updated asset record, creates
	// the TokenInfo row, and issues the full supply to the asset owner in one
	// atomic step. ApplyTransfer debits the sender, credits the recipient, and
	// appends the history record under a freshly drawn global sequence number,
	// also in one atomic step; it fails with ErrInsufficientTokens without any
	// mutation when the sender balance is too low.
	TokenizeAsset(ctx context.Context, asset *domain.Asset, info *domain.TokenInfo) error
	GetTokenInfo(ctx context.Context, assetID string) (*domain.TokenInfo, error)
	GetBalance(ctx context.Context, assetID, holder string) (uint64, error)
	ListBalances(ctx context.Context, assetID string) (map[string]uint64, error)
	ApplyTransfer(ctx context.Context, assetID, from, to string, amount uint64, timestamp int64) (*domain.TransferRecord, error)

	// Transfer history log (audit reads only; never drives state decisions)
	ListTransfers(ctx context.Context, assetID string, limit, offset int) ([]domain.TransferRecord, error)

	// Registry-wide counters
	Stats(ctx context.Context) (*domain.RegistryStats, error)
}
