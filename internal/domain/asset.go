/**
 * @description
 * This file defines the core domain models for the registry-service. These
 * structs represent the entities tracked by the registry (assets, token
 * ledgers, verifiers, transfer history) and the data transfer objects (DTOs)
 * used by the API layer.
 *
 * @notes
 * - Token amounts and supplies are stored as `uint64` in the smallest
 *   fractional unit; the ledger never mints or burns after issuance, so the
 *   sum of all balances for an asset always equals its total supply.
 * - Timestamps are logical ticks (int64) drawn from a strictly increasing
 *   registry-wide counter supplied by the store, not wall-clock time. This
 *   keeps event ordering total and replayable regardless of host clock.
 * - Optional fields (verifier, verification time) are pointers so that
 *   "unset" is explicit rather than a zero value.
 */

package domain

// AssetStatus is the lifecycle state of a registered asset.
type AssetStatus string

const (
	StatusPending   AssetStatus = "pending"
	StatusVerified  AssetStatus = "verified"
	StatusRejected  AssetStatus = "rejected"
	StatusTokenized AssetStatus = "tokenized"
	StatusRetired   AssetStatus = "retired"
)

// Asset is the central registry record for one physical asset. The asset ID
// is caller-chosen, opaque, and immutable for the life of the system.
type Asset struct {
	ID             string      `json:"id"`
	Owner          string      `json:"owner"`
	Status         AssetStatus `json:"status"`
	Verifier       *string     `json:"verifier,omitempty"`
	VerifiedAt     *int64      `json:"verified_at,omitempty"`
	MetadataRef    string      `json:"metadata_ref"`
	ComplianceHash string      `json:"compliance_hash"`
	CreatedAt      int64       `json:"created_at"`
	UpdatedAt      int64       `json:"updated_at"`
	Retired        bool        `json:"retired"`
}

// TokenInfo is the fractional-ownership ledger header for a tokenized asset.
// It is created exactly once, when the asset transitions to tokenized, and
// the total supply is immutable afterwards.
type TokenInfo struct {
	AssetID     string `json:"asset_id"`
	TotalSupply uint64 `json:"total_supply"`
	Decimals    uint32 `json:"decimals"`
	TokenURI    string `json:"token_uri"`
	TokenizedAt int64  `json:"tokenized_at"`
}

// VerifierEntry is one row of the verifier directory. Removal deactivates
// the entry but keeps AddedAt for audit.
type VerifierEntry struct {
	Identity string `json:"identity"`
	Active   bool   `json:"active"`
	AddedAt  int64  `json:"added_at"`
}

// TransferRecord is one append-only row of the transfer history log. Seq is
// drawn from a single global counter shared across all assets, so the log
// carries a total order over every transfer in the system.
type TransferRecord struct {
	AssetID   string `json:"asset_id"`
	Seq       int64  `json:"seq"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// RegistryStats exposes the registry-wide scalar counters.
type RegistryStats struct {
	TotalAssets     int64 `json:"total_assets"`
	TotalVerifiers  int64 `json:"total_verifiers"`
	LastTransferSeq int64 `json:"last_transfer_seq"`
}

// RegisterAssetRequest is the DTO for asset registration API requests.
type RegisterAssetRequest struct {
	ID             string `json:"id"`
	MetadataRef    string `json:"metadata_ref"`
	ComplianceHash string `json:"compliance_hash"`
}

// UpdateMetadataRequest is the DTO for metadata update API requests.
type UpdateMetadataRequest struct {
	MetadataRef string `json:"metadata_ref"`
}

// VerifyAssetRequest is the DTO for verifier decision API requests.
type VerifyAssetRequest struct {
	Approve bool `json:"approve"`
}

// TokenizeAssetRequest is the DTO for tokenization API requests.
type TokenizeAssetRequest struct {
	TotalSupply uint64 `json:"total_supply"`
	Decimals    uint32 `json:"decimals"`
	TokenURI    string `json:"token_uri"`
}

// TransferTokensRequest is the DTO for token transfer API requests. The
// sender is always the authenticated caller.
type TransferTokensRequest struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// EmergencyTransferRequest is the DTO for the administrator-only ownership
// reassignment. It changes the owner field only; balances are untouched.
type EmergencyTransferRequest struct {
	NewOwner string `json:"new_owner"`
}

// AddVerifierRequest is the DTO for verifier directory additions.
type AddVerifierRequest struct {
	Identity string `json:"identity"`
}
