/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL for the five registry collections (assets,
 * verifiers, token_info, balances, transfer_log) plus the two sequences that
 * back the logical clock and the global transfer order.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetvault/registry-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets(
  id TEXT PRIMARY KEY,
  owner_principal TEXT NOT NULL,
  status TEXT NOT NULL,
  verifier TEXT,
  verified_at BIGINT,
  metadata_ref TEXT NOT NULL,
  compliance_hash TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  retired BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS verifiers(
  identity TEXT PRIMARY KEY,
  active BOOLEAN NOT NULL,
  added_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_info(
  asset_id TEXT PRIMARY KEY REFERENCES assets(id),
  total_supply BIGINT NOT NULL,
  decimals INT NOT NULL,
  token_uri TEXT NOT NULL,
  tokenized_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS balances(
  asset_id TEXT NOT NULL REFERENCES token_info(asset_id),
  holder TEXT NOT NULL,
  balance BIGINT NOT NULL CHECK (balance >= 0),
  PRIMARY KEY(asset_id, holder)
);

CREATE TABLE IF NOT EXISTS transfer_log(
  seq BIGINT PRIMARY KEY,
  asset_id TEXT NOT NULL REFERENCES assets(id),
  from_holder TEXT NOT NULL,
  to_holder TEXT NOT NULL,
  amount BIGINT NOT NULL,
  ts BIGINT NOT NULL
);

CREATE SEQUENCE IF NOT EXISTS registry_ticks;
CREATE SEQUENCE IF NOT EXISTS transfer_seq;
`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the registry tables and sequences if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schemaSQL)
	return err
}

// NextTick allocates the next value of the registry's logical clock.
func (r *PostgresRepository) NextTick(ctx context.Context) (int64, error) {
	var tick int64
	err := r.db.QueryRow(ctx, "SELECT nextval('registry_ticks')").Scan(&tick)
	if err != nil {
		return 0, err
	}
	return tick, nil
}

// CreateAsset inserts a new asset record.
func (r *PostgresRepository) CreateAsset(ctx context.Context, asset *domain.Asset) error {
	query := `
		INSERT INTO assets (id, owner_principal, status, verifier, verified_at, metadata_ref, compliance_hash, created_at, updated_at, retired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		asset.ID, asset.Owner, string(asset.Status), asset.Verifier, asset.VerifiedAt,
		asset.MetadataRef, asset.ComplianceHash, asset.CreatedAt, asset.UpdatedAt, asset.Retired,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAssetAlreadyExists
		}
		return err
	}
	return nil
}

// GetAsset retrieves an asset record by its identifier.
func (r *PostgresRepository) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	var asset domain.Asset
	var status string
	query := `
		SELECT id, owner_principal, status, verifier, verified_at, metadata_ref, compliance_hash, created_at, updated_at, retired
		FROM assets WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, assetID).Scan(
		&asset.ID, &asset.Owner, &status, &asset.Verifier, &asset.VerifiedAt,
		&asset.MetadataRef, &asset.ComplianceHash, &asset.CreatedAt, &asset.UpdatedAt, &asset.Retired,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	asset.Status = domain.AssetStatus(status)
	return &asset, nil
}

// UpdateAsset replaces the mutable fields of an asset record.
func (r *PostgresRepository) UpdateAsset(ctx context.Context, asset *domain.Asset) error {
	query := `
		UPDATE assets
		SET owner_principal = $2, status = $3, verifier = $4, verified_at = $5,
		    metadata_ref = $6, updated_at = $7, retired = $8
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		asset.ID, asset.Owner, string(asset.Status), asset.Verifier, asset.VerifiedAt,
		asset.MetadataRef, asset.UpdatedAt, asset.Retired,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// AddVerifier activates the directory entry, creating it when absent. The
// original added_at is preserved on re-add.
func (r *PostgresRepository) AddVerifier(ctx context.Context, identity string, addedAt int64) (*domain.VerifierEntry, error) {
	var entry domain.VerifierEntry
	query := `
		INSERT INTO verifiers (identity, active, added_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (identity) DO UPDATE SET active = TRUE
		RETURNING identity, active, added_at
	`
	err := r.db.QueryRow(ctx, query, identity, addedAt).Scan(&entry.Identity, &entry.Active, &entry.AddedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeactivateVerifier flips the entry inactive, keeping the record for audit.
func (r *PostgresRepository) DeactivateVerifier(ctx context.Context, identity string) error {
	_, err := r.db.Exec(ctx, "UPDATE verifiers SET active = FALSE WHERE identity = $1", identity)
	return err
}

// GetVerifier retrieves a verifier directory entry.
func (r *PostgresRepository) GetVerifier(ctx context.Context, identity string) (*domain.VerifierEntry, error) {
	var entry domain.VerifierEntry
	query := `SELECT identity, active, added_at FROM verifiers WHERE identity = $1`
	err := r.db.QueryRow(ctx, query, identity).Scan(&entry.Identity, &entry.Active, &entry.AddedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVerifierNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// TokenizeAsset atomically persists the tokenized asset record, creates its
// token_info row, and issues the entire supply to the asset owner.
func (r *PostgresRepository) TokenizeAsset(ctx context.Context, asset *domain.Asset, info *domain.TokenInfo) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE assets
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, asset.ID, string(asset.Status), asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update asset status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAssetNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO token_info (asset_id, total_supply, decimals, token_uri, tokenized_at)
		VALUES ($1, $2, $3, $4, $5)
	`, info.AssetID, int64(info.TotalSupply), int32(info.Decimals), info.TokenURI, info.TokenizedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyTokenized
		}
		return fmt.Errorf("failed to create token info: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (asset_id, holder, balance)
		VALUES ($1, $2, $3)
	`, info.AssetID, asset.Owner, int64(info.TotalSupply))
	if err != nil {
		return fmt.Errorf("failed to issue initial balance: %w", err)
	}

	return tx.Commit(ctx)
}

// GetTokenInfo retrieves the token ledger header for an asset.
func (r *PostgresRepository) GetTokenInfo(ctx context.Context, assetID string) (*domain.TokenInfo, error) {
	var info domain.TokenInfo
	var supply int64
	var decimals int32
	query := `SELECT asset_id, total_supply, decimals, token_uri, tokenized_at FROM token_info WHERE asset_id = $1`
	err := r.db.QueryRow(ctx, query, assetID).Scan(&info.AssetID, &supply, &decimals, &info.TokenURI, &info.TokenizedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTokenInfoNotFound
		}
		return nil, err
	}
	info.TotalSupply = uint64(supply)
	info.Decimals = uint32(decimals)
	return &info, nil
}

// GetBalance returns the holder's balance, zero for absent entries.
func (r *PostgresRepository) GetBalance(ctx context.Context, assetID, holder string) (uint64, error) {
	var balance int64
	query := `SELECT balance FROM balances WHERE asset_id = $1 AND holder = $2`
	err := r.db.QueryRow(ctx, query, assetID, holder).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return uint64(balance), nil
}

// ListBalances returns all non-zero balances for the asset.
func (r *PostgresRepository) ListBalances(ctx context.Context, assetID string) (map[string]uint64, error) {
	rows, err := r.db.Query(ctx, "SELECT holder, balance FROM balances WHERE asset_id = $1 AND balance > 0", assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var holder string
		var balance int64
		if err := rows.Scan(&holder, &balance); err != nil {
			return nil, err
		}
		out[holder] = uint64(balance)
	}
	return out, rows.Err()
}

// ApplyTransfer performs the balance movement and the history append as one
// database transaction. The sender row is locked before the balance check, so
// two concurrent transfers cannot both spend the same stale balance.
func (r *PostgresRepository) ApplyTransfer(ctx context.Context, assetID, from, to string, amount uint64, timestamp int64) (*domain.TransferRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM token_info WHERE asset_id = $1)", assetID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check token info: %w", err)
	}
	if !exists {
		return nil, ErrTokenInfoNotFound
	}

	var senderBalance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM balances
		WHERE asset_id = $1 AND holder = $2
		FOR UPDATE
	`, assetID, from).Scan(&senderBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInsufficientTokens
		}
		return nil, fmt.Errorf("failed to lock sender balance: %w", err)
	}
	if uint64(senderBalance) < amount {
		return nil, ErrInsufficientTokens
	}

	_, err = tx.Exec(ctx, `
		UPDATE balances SET balance = balance - $3
		WHERE asset_id = $1 AND holder = $2
	`, assetID, from, int64(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (asset_id, holder, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_id, holder) DO UPDATE SET balance = balances.balance + EXCLUDED.balance
	`, assetID, to, int64(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to credit recipient: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx, "SELECT nextval('transfer_seq')").Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to allocate transfer sequence: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transfer_log (seq, asset_id, from_holder, to_holder, amount, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, seq, assetID, from, to, int64(amount), timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append transfer record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.TransferRecord{
		AssetID:   assetID,
		Seq:       seq,
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: timestamp,
	}, nil
}

// ListTransfers returns the asset's history ordered by sequence number.
func (r *PostgresRepository) ListTransfers(ctx context.Context, assetID string, limit, offset int) ([]domain.TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT seq, asset_id, from_holder, to_holder, amount, ts
		FROM transfer_log
		WHERE asset_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, assetID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.TransferRecord, 0)
	for rows.Next() {
		var record domain.TransferRecord
		var amount int64
		if err := rows.Scan(&record.Seq, &record.AssetID, &record.From, &record.To, &amount, &record.Timestamp); err != nil {
			return nil, err
		}
		record.Amount = uint64(amount)
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats reports the registry-wide counters.
func (r *PostgresRepository) Stats(ctx context.Context) (*domain.RegistryStats, error) {
	var stats domain.RegistryStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM assets),
			(SELECT COUNT(*) FROM verifiers),
			COALESCE((SELECT MAX(seq) FROM transfer_log), 0)
	`
	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalAssets, &stats.TotalVerifiers, &stats.LastTransferSeq)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
