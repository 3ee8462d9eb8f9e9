package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/assetvault/registry-service/internal/domain"
	"github.com/assetvault/registry-service/internal/store"
)

const testAdmin = "admin_root"

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

func newTestService() (*Service, *capturePublisher) {
	publisher := &capturePublisher{}
	return NewService(store.NewMemoryRepository(), publisher, testAdmin), publisher
}

// registerVerifiedAsset walks an asset through registration and verification.
func registerVerifiedAsset(t *testing.T, svc *Service, assetID, owner, verifier string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.AddVerifier(ctx, testAdmin, verifier); err != nil {
		t.Fatalf("AddVerifier returned error: %v", err)
	}
	if _, err := svc.RegisterAsset(ctx, owner, domain.RegisterAssetRequest{ID: assetID, MetadataRef: "ipfs://meta", ComplianceHash: "hash-1"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, err := svc.VerifyAsset(ctx, verifier, assetID, true); err != nil {
		t.Fatalf("VerifyAsset returned error: %v", err)
	}
}

// tokenizeTestAsset registers, verifies, and tokenizes an asset in one step.
func tokenizeTestAsset(t *testing.T, svc *Service, assetID, owner string, supply uint64) {
	t.Helper()
	registerVerifiedAsset(t, svc, assetID, owner, "verifier_"+assetID)
	if _, _, err := svc.TokenizeAsset(context.Background(), owner, assetID, domain.TokenizeAssetRequest{TotalSupply: supply, Decimals: 2, TokenURI: "ipfs://token"}); err != nil {
		t.Fatalf("TokenizeAsset returned error: %v", err)
	}
}

func TestRegisterAsset_CreatesPendingAssetOwnedByCaller(t *testing.T) {
	svc, publisher := newTestService()
	ctx := context.Background()

	asset, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{
		ID:             "asset-001",
		MetadataRef:    "ipfs://meta",
		ComplianceHash: "hash-1",
	})
	if err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if asset.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %q", asset.Status)
	}
	if asset.Owner != "alice" {
		t.Fatalf("expected owner alice, got %q", asset.Owner)
	}
	if asset.Verifier != nil || asset.VerifiedAt != nil {
		t.Fatal("expected verifier fields unset on registration")
	}
	if asset.CreatedAt == 0 || asset.CreatedAt != asset.UpdatedAt {
		t.Fatalf("expected created/updated ticks to match, got %d/%d", asset.CreatedAt, asset.UpdatedAt)
	}

	keys := publisher.routingKeys()
	if len(keys) != 1 || keys[0] != "asset.registered" {
		t.Fatalf("expected asset.registered event, got %v", keys)
	}
}

func TestRegisterAsset_RejectsDuplicateID(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-001"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	_, err := svc.RegisterAsset(ctx, "bob", domain.RegisterAssetRequest{ID: "asset-001"})
	if !errors.Is(err, store.ErrAssetAlreadyExists) {
		t.Fatalf("expected ErrAssetAlreadyExists, got %v", err)
	}
}

func TestRegisterAsset_RejectsEmptyID(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RegisterAsset(context.Background(), "alice", domain.RegisterAssetRequest{})
	if !errors.Is(err, ErrInvalidAssetID) {
		t.Fatalf("expected ErrInvalidAssetID, got %v", err)
	}
}

func TestUpdateMetadata_OwnerOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-001", MetadataRef: "ipfs://v1"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}

	if _, err := svc.UpdateMetadata(ctx, "mallory", "asset-001", "ipfs://evil"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-owner, got %v", err)
	}

	asset, err := svc.UpdateMetadata(ctx, "alice", "asset-001", "ipfs://v2")
	if err != nil {
		t.Fatalf("UpdateMetadata returned error: %v", err)
	}
	if asset.MetadataRef != "ipfs://v2" {
		t.Fatalf("expected updated metadata ref, got %q", asset.MetadataRef)
	}
	if asset.UpdatedAt <= asset.CreatedAt {
		t.Fatalf("expected UpdatedAt to advance past CreatedAt, got %d/%d", asset.UpdatedAt, asset.CreatedAt)
	}
}

func TestUpdateMetadata_RetiredAssetIsFrozen(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 100)
	if _, err := svc.RetireAsset(ctx, "alice", "asset-001"); err != nil {
		t.Fatalf("RetireAsset returned error: %v", err)
	}

	_, err := svc.UpdateMetadata(ctx, "alice", "asset-001", "ipfs://v2")
	if !errors.Is(err, ErrAssetRetired) {
		t.Fatalf("expected ErrAssetRetired, got %v", err)
	}
}

func TestVerifyAsset_RequiresActiveVerifier(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-001"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}

	if _, err := svc.VerifyAsset(ctx, "stranger", "asset-001", true); !errors.Is(err, ErrUnauthorizedVerifier) {
		t.Fatalf("expected ErrUnauthorizedVerifier for unknown identity, got %v", err)
	}

	if _, err := svc.AddVerifier(ctx, testAdmin, "vera"); err != nil {
		t.Fatalf("AddVerifier returned error: %v", err)
	}
	if err := svc.RemoveVerifier(ctx, testAdmin, "vera"); err != nil {
		t.Fatalf("RemoveVerifier returned error: %v", err)
	}
	if _, err := svc.VerifyAsset(ctx, "vera", "asset-001", true); !errors.Is(err, ErrUnauthorizedVerifier) {
		t.Fatalf("expected ErrUnauthorizedVerifier for deactivated verifier, got %v", err)
	}
}

func TestVerifyAsset_ApproveAndRejectRecordDecision(t *testing.T) {
	tests := []struct {
		name       string
		approve    bool
		wantStatus domain.AssetStatus
		wantEvent  string
	}{
		{name: "approval moves asset to verified", approve: true, wantStatus: domain.StatusVerified, wantEvent: "asset.verified"},
		{name: "rejection moves asset to rejected", approve: false, wantStatus: domain.StatusRejected, wantEvent: "asset.rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, publisher := newTestService()
			ctx := context.Background()

			if _, err := svc.AddVerifier(ctx, testAdmin, "vera"); err != nil {
				t.Fatalf("AddVerifier returned error: %v", err)
			}
			if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-001"}); err != nil {
				t.Fatalf("RegisterAsset returned error: %v", err)
			}

			asset, err := svc.VerifyAsset(ctx, "vera", "asset-001", tt.approve)
			if err != nil {
				t.Fatalf("VerifyAsset returned error: %v", err)
			}
			if asset.Status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, asset.Status)
			}
			if asset.Verifier == nil || *asset.Verifier != "vera" {
				t.Fatal("expected deciding verifier to be recorded")
			}
			if asset.VerifiedAt == nil {
				t.Fatal("expected verification tick to be recorded")
			}

			keys := publisher.routingKeys()
			if keys[len(keys)-1] != tt.wantEvent {
				t.Fatalf("expected %s event, got %v", tt.wantEvent, keys)
			}
		})
	}
}

func TestVerifyAsset_DecisionIsFinal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddVerifier(ctx, testAdmin, "vera"); err != nil {
		t.Fatalf("AddVerifier returned error: %v", err)
	}
	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-001"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, err := svc.VerifyAsset(ctx, "vera", "asset-001", false); err != nil {
		t.Fatalf("VerifyAsset returned error: %v", err)
	}

	// A rejected asset cannot be re-verified; rejection is terminal.
	_, err := svc.VerifyAsset(ctx, "vera", "asset-001", true)
	if !errors.Is(err, ErrVerificationClosed) {
		t.Fatalf("expected ErrVerificationClosed, got %v", err)
	}
}

func TestTokenizeAsset_IssuesFullSupplyToOwner(t *testing.T) {
	svc, publisher := newTestService()
	ctx := context.Background()

	registerVerifiedAsset(t, svc, "asset-001", "alice", "vera")

	asset, info, err := svc.TokenizeAsset(ctx, "alice", "asset-001", domain.TokenizeAssetRequest{
		TotalSupply: 1000,
		Decimals:    2,
		TokenURI:    "ipfs://token",
	})
	if err != nil {
		t.Fatalf("TokenizeAsset returned error: %v", err)
	}
	if asset.Status != domain.StatusTokenized {
		t.Fatalf("expected tokenized status, got %q", asset.Status)
	}
	if info.TotalSupply != 1000 || info.Decimals != 2 || info.TokenURI != "ipfs://token" {
		t.Fatalf("unexpected token info: %+v", info)
	}

	balance, err := svc.BalanceOf(ctx, "asset-001", "alice")
	if err != nil {
		t.Fatalf("BalanceOf returned error: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected owner balance 1000, got %d", balance)
	}

	keys := publisher.routingKeys()
	if keys[len(keys)-1] != "asset.tokenized" {
		t.Fatalf("expected asset.tokenized event, got %v", keys)
	}
}

func TestTokenizeAsset_FailureModes(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	registerVerifiedAsset(t, svc, "asset-001", "alice", "vera")

	if _, _, err := svc.TokenizeAsset(ctx, "mallory", "asset-001", domain.TokenizeAssetRequest{TotalSupply: 100}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-owner, got %v", err)
	}
	if _, _, err := svc.TokenizeAsset(ctx, "alice", "asset-001", domain.TokenizeAssetRequest{TotalSupply: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero supply, got %v", err)
	}
	if _, _, err := svc.TokenizeAsset(ctx, "alice", "asset-001", domain.TokenizeAssetRequest{TotalSupply: math.MaxUint64}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for supply beyond int64 range, got %v", err)
	}

	// An unverified asset cannot be tokenized.
	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-002"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, _, err := svc.TokenizeAsset(ctx, "alice", "asset-002", domain.TokenizeAssetRequest{TotalSupply: 100}); !errors.Is(err, ErrAssetNotVerified) {
		t.Fatalf("expected ErrAssetNotVerified for pending asset, got %v", err)
	}
}

func TestTokenizeAsset_IsWriteOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 1000)

	_, _, err := svc.TokenizeAsset(ctx, "alice", "asset-001", domain.TokenizeAssetRequest{TotalSupply: 500})
	if !errors.Is(err, store.ErrAlreadyTokenized) {
		t.Fatalf("expected ErrAlreadyTokenized on second tokenize, got %v", err)
	}

	// Still write-once after retirement: the ledger header survives and the
	// second attempt reports the same conflict, not a status error.
	if _, err := svc.RetireAsset(ctx, "alice", "asset-001"); err != nil {
		t.Fatalf("RetireAsset returned error: %v", err)
	}
	_, _, err = svc.TokenizeAsset(ctx, "alice", "asset-001", domain.TokenizeAssetRequest{TotalSupply: 500})
	if !errors.Is(err, store.ErrAlreadyTokenized) {
		t.Fatalf("expected ErrAlreadyTokenized after retirement, got %v", err)
	}
}

func TestRetireAsset_OwnerOrAdminOnly(t *testing.T) {
	svc, publisher := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 100)
	tokenizeTestAsset(t, svc, "asset-002", "bob", 100)

	if _, err := svc.RetireAsset(ctx, "mallory", "asset-001"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for stranger, got %v", err)
	}

	asset, err := svc.RetireAsset(ctx, "alice", "asset-001")
	if err != nil {
		t.Fatalf("owner retire returned error: %v", err)
	}
	if asset.Status != domain.StatusRetired || !asset.Retired {
		t.Fatalf("expected retired asset, got status=%q retired=%v", asset.Status, asset.Retired)
	}

	if _, err := svc.RetireAsset(ctx, testAdmin, "asset-002"); err != nil {
		t.Fatalf("admin retire returned error: %v", err)
	}

	// Retirement is terminal.
	if _, err := svc.RetireAsset(ctx, "alice", "asset-001"); !errors.Is(err, ErrAssetRetired) {
		t.Fatalf("expected ErrAssetRetired on double retire, got %v", err)
	}

	keys := publisher.routingKeys()
	retiredCount := 0
	for _, k := range keys {
		if k == "asset.retired" {
			retiredCount++
		}
	}
	if retiredCount != 2 {
		t.Fatalf("expected two asset.retired events, got %v", keys)
	}
}

func TestRetireAsset_OnlyReachableFromTokenized(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddVerifier(ctx, testAdmin, "vera"); err != nil {
		t.Fatalf("AddVerifier returned error: %v", err)
	}

	// pending, verified, and rejected assets all refuse retirement.
	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-pending"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-verified"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, err := svc.VerifyAsset(ctx, "vera", "asset-verified", true); err != nil {
		t.Fatalf("VerifyAsset returned error: %v", err)
	}
	if _, err := svc.RegisterAsset(ctx, "alice", domain.RegisterAssetRequest{ID: "asset-rejected"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if _, err := svc.VerifyAsset(ctx, "vera", "asset-rejected", false); err != nil {
		t.Fatalf("VerifyAsset returned error: %v", err)
	}

	tests := []struct {
		assetID    string
		wantStatus domain.AssetStatus
	}{
		{assetID: "asset-pending", wantStatus: domain.StatusPending},
		{assetID: "asset-verified", wantStatus: domain.StatusVerified},
		{assetID: "asset-rejected", wantStatus: domain.StatusRejected},
	}
	for _, tt := range tests {
		if _, err := svc.RetireAsset(ctx, "alice", tt.assetID); !errors.Is(err, ErrAssetNotVerified) {
			t.Fatalf("expected ErrAssetNotVerified retiring %s, got %v", tt.assetID, err)
		}
		asset, err := svc.GetAsset(ctx, tt.assetID)
		if err != nil {
			t.Fatalf("GetAsset returned error: %v", err)
		}
		if asset.Status != tt.wantStatus || asset.Retired {
			t.Fatalf("expected %s to stay %q, got status=%q retired=%v", tt.assetID, tt.wantStatus, asset.Status, asset.Retired)
		}
	}

	// The admin override does not bypass the transition graph either.
	if _, err := svc.RetireAsset(ctx, testAdmin, "asset-rejected"); !errors.Is(err, ErrAssetNotVerified) {
		t.Fatalf("expected ErrAssetNotVerified for admin retire of rejected asset, got %v", err)
	}
}

func TestRetireAsset_PreservesBalances(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 1000)
	if _, err := svc.TransferTokens(ctx, "alice", "asset-001", "bob", 400); err != nil {
		t.Fatalf("TransferTokens returned error: %v", err)
	}
	if _, err := svc.RetireAsset(ctx, "alice", "asset-001"); err != nil {
		t.Fatalf("RetireAsset returned error: %v", err)
	}

	aliceBal, _ := svc.BalanceOf(ctx, "asset-001", "alice")
	bobBal, _ := svc.BalanceOf(ctx, "asset-001", "bob")
	if aliceBal != 600 || bobBal != 400 {
		t.Fatalf("expected balances preserved after retirement, got alice=%d bob=%d", aliceBal, bobBal)
	}
}

func TestEmergencyTransferOwnership_AdminOnly(t *testing.T) {
	svc, publisher := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 1000)

	if _, err := svc.EmergencyTransferOwnership(ctx, "alice", "asset-001", "carol"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-admin (even the owner), got %v", err)
	}
	if _, err := svc.EmergencyTransferOwnership(ctx, testAdmin, "asset-001", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for empty new owner, got %v", err)
	}

	asset, err := svc.EmergencyTransferOwnership(ctx, testAdmin, "asset-001", "carol")
	if err != nil {
		t.Fatalf("EmergencyTransferOwnership returned error: %v", err)
	}
	if asset.Owner != "carol" {
		t.Fatalf("expected owner carol, got %q", asset.Owner)
	}

	// Ownership reassignment never touches the token ledger.
	aliceBal, _ := svc.BalanceOf(ctx, "asset-001", "alice")
	carolBal, _ := svc.BalanceOf(ctx, "asset-001", "carol")
	if aliceBal != 1000 || carolBal != 0 {
		t.Fatalf("expected balances untouched, got alice=%d carol=%d", aliceBal, carolBal)
	}

	keys := publisher.routingKeys()
	if keys[len(keys)-1] != "asset.owner_changed" {
		t.Fatalf("expected asset.owner_changed event, got %v", keys)
	}
}

func TestEmergencyTransferOwnership_RetiredAssetIsFrozen(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tokenizeTestAsset(t, svc, "asset-001", "alice", 100)
	if _, err := svc.RetireAsset(ctx, "alice", "asset-001"); err != nil {
		t.Fatalf("RetireAsset returned error: %v", err)
	}

	_, err := svc.EmergencyTransferOwnership(ctx, testAdmin, "asset-001", "carol")
	if !errors.Is(err, ErrAssetRetired) {
		t.Fatalf("expected ErrAssetRetired, got %v", err)
	}
}

func TestGetAsset_UnknownAsset(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetAsset(context.Background(), "ghost")
	if !errors.Is(err, store.ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}
