// Package facts holds the per-tenant ownership and want facts that the
// trade graph is derived from. A Store is pure data: it performs validation
// on mutation but runs no graph algorithms, and it is not safe for
// concurrent use. Serialization of access is the owning tenant's job.
package facts

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

var (
	// ErrInvalidFact is returned when a mutation carries a malformed fact,
	// e.g. an asset with no owner. State is never mutated in that case.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrCorrupted is returned by CheckIntegrity when the ownership
	// invariant is violated. The affected tenant graph must be rebuilt.
	ErrCorrupted = errors.New("fact store corrupted")
)

// Store indexes the current facts of one tenant.
type Store struct {
	// asset id => asset. The asset's OwnerID is kept in sync with owned.
	assets map[string]trade.Asset

	// party => owned asset ids.
	owned map[string]map[string]struct{}

	// asset id => parties that want it directly.
	wants map[string]map[string]struct{}

	// party => directly wanted asset ids.
	wantsByParty map[string]map[string]struct{}

	// collection id => parties that want any asset of the collection.
	collectionWants map[string]map[string]struct{}

	// party => wanted collection ids.
	collectionWantsByParty map[string]map[string]struct{}

	// collection id => member asset ids observed so far.
	collectionAssets map[string]map[string]struct{}

	// collection id => externally supplied metadata.
	collectionMeta map[string]trade.CollectionMetadata

	// collection id => bounded sample a collection want expands to.
	collectionSamples map[string]map[string]struct{}

	// party => rejected asset ids / rejected party ids.
	rejectedAssets  map[string]map[string]struct{}
	rejectedParties map[string]map[string]struct{}

	// every party ever referenced, owners and pure demand side alike.
	parties map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		assets:                 make(map[string]trade.Asset),
		owned:                  make(map[string]map[string]struct{}),
		wants:                  make(map[string]map[string]struct{}),
		wantsByParty:           make(map[string]map[string]struct{}),
		collectionWants:        make(map[string]map[string]struct{}),
		collectionWantsByParty: make(map[string]map[string]struct{}),
		collectionAssets:       make(map[string]map[string]struct{}),
		collectionMeta:         make(map[string]trade.CollectionMetadata),
		collectionSamples:      make(map[string]map[string]struct{}),
		rejectedAssets:         make(map[string]map[string]struct{}),
		rejectedParties:        make(map[string]map[string]struct{}),
		parties:                make(map[string]struct{}),
	}
}

func addToSet(m map[string]map[string]struct{}, key, member string) bool {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	if _, ok := set[member]; ok {
		return false
	}
	set[member] = struct{}{}
	return true
}

func (s *Store) trackParty(partyID string) {
	s.parties[partyID] = struct{}{}
}

// AddAsset records an ownership fact. Adding the same asset with the same
// owner twice is a no-op (ownership is a function). Adding it with a new
// owner atomically replaces the prior owner's membership. Returns whether
// the store changed.
func (s *Store) AddAsset(asset trade.Asset) (bool, error) {
	if asset.ID == "" {
		return false, fmt.Errorf("asset with empty id: %w", ErrInvalidFact)
	}
	if asset.OwnerID == "" {
		return false, fmt.Errorf("asset %s has no owner: %w", asset.ID, ErrInvalidFact)
	}

	prev, exists := s.assets[asset.ID]
	if exists && prev.OwnerID == asset.OwnerID {
		// Ownership unchanged. Valuation updates are still taken since they
		// arrive out of band from the pricing collaborator.
		if asset.Value != 0 && asset.Value != prev.Value {
			prev.Value = asset.Value
			s.assets[asset.ID] = prev
		}
		return false, nil
	}

	if exists {
		delete(s.owned[prev.OwnerID], asset.ID)
	}

	s.assets[asset.ID] = asset
	addToSet(s.owned, asset.OwnerID, asset.ID)
	s.trackParty(asset.OwnerID)

	if asset.CollectionID != "" {
		addToSet(s.collectionAssets, asset.CollectionID, asset.ID)
	}
	return true, nil
}

// AddWant records that a party wants a specific asset. The asset does not
// have to be tracked yet; the edge materializes when its ownership fact
// arrives. Returns whether the store changed.
func (s *Store) AddWant(partyID, assetID string) (bool, error) {
	if partyID == "" || assetID == "" {
		return false, fmt.Errorf("want with empty party or asset: %w", ErrInvalidFact)
	}

	s.trackParty(partyID)
	changed := addToSet(s.wants, assetID, partyID)
	addToSet(s.wantsByParty, partyID, assetID)
	return changed, nil
}

// AddCollectionWant records that a party wants any asset of a collection.
func (s *Store) AddCollectionWant(partyID, collectionID string) (bool, error) {
	if partyID == "" || collectionID == "" {
		return false, fmt.Errorf("collection want with empty party or collection: %w", ErrInvalidFact)
	}

	s.trackParty(partyID)
	changed := addToSet(s.collectionWants, collectionID, partyID)
	addToSet(s.collectionWantsByParty, partyID, collectionID)
	return changed, nil
}

// AddRejection records that a party refuses an asset (isAsset) or refuses to
// trade with another party. Rejections only ever shrink the graph.
func (s *Store) AddRejection(partyID, targetID string, isAsset bool) (bool, error) {
	if partyID == "" || targetID == "" {
		return false, fmt.Errorf("rejection with empty party or target: %w", ErrInvalidFact)
	}

	s.trackParty(partyID)
	if isAsset {
		return addToSet(s.rejectedAssets, partyID, targetID), nil
	}
	return addToSet(s.rejectedParties, partyID, targetID), nil
}

// SetCollectionMetadata records externally supplied collection metadata,
// which steers the sampling strategy when a collection want is expanded.
func (s *Store) SetCollectionMetadata(meta trade.CollectionMetadata) error {
	if meta.ID == "" {
		return fmt.Errorf("collection metadata with empty id: %w", ErrInvalidFact)
	}
	s.collectionMeta[meta.ID] = meta
	return nil
}

// CollectionMetadata returns recorded metadata for a collection, if any.
func (s *Store) CollectionMetadata(collectionID string) (trade.CollectionMetadata, bool) {
	meta, ok := s.collectionMeta[collectionID]
	return meta, ok
}

// SetCollectionSample installs the bounded sample a collection want expands
// to. Wanters of the collection only produce edges through sampled assets.
func (s *Store) SetCollectionSample(collectionID string, assetIDs []string) {
	set := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		set[id] = struct{}{}
	}
	s.collectionSamples[collectionID] = set
}

// CollectionSample returns the installed sample for a collection, if any.
func (s *Store) CollectionSample(collectionID string) ([]string, bool) {
	set, ok := s.collectionSamples[collectionID]
	if !ok {
		return nil, false
	}
	return sortedKeys(set), true
}

// Owner returns the current owner of an asset.
func (s *Store) Owner(assetID string) (string, bool) {
	asset, ok := s.assets[assetID]
	if !ok {
		return "", false
	}
	return asset.OwnerID, true
}

// Asset returns the stored asset record.
func (s *Store) Asset(assetID string) (trade.Asset, bool) {
	asset, ok := s.assets[assetID]
	return asset, ok
}

// AssetIDs returns every tracked asset id in sorted order, so that graph
// construction is deterministic.
func (s *Store) AssetIDs() []string {
	return sortedKeys(s.assets)
}

// Wanters returns the parties that effectively want an asset: direct wants
// plus collection wanters whose collection sample includes the asset.
// The result is sorted and never contains duplicates.
func (s *Store) Wanters(assetID string) []string {
	set := make(map[string]struct{})
	for party := range s.wants[assetID] {
		set[party] = struct{}{}
	}

	if asset, ok := s.assets[assetID]; ok && asset.CollectionID != "" {
		if sample, ok := s.collectionSamples[asset.CollectionID]; ok {
			if _, sampled := sample[assetID]; sampled {
				for party := range s.collectionWants[asset.CollectionID] {
					set[party] = struct{}{}
				}
			}
		}
	}

	return sortedKeys(set)
}

// WanterCount returns the number of distinct parties wanting the asset,
// used by the demand component of scoring.
func (s *Store) WanterCount(assetID string) int {
	return len(s.Wanters(assetID))
}

// Rejected reports whether a party refuses the asset or its owner.
func (s *Store) Rejected(partyID, assetID, ownerID string) bool {
	if _, ok := s.rejectedAssets[partyID][assetID]; ok {
		return true
	}
	_, ok := s.rejectedParties[partyID][ownerID]
	return ok
}

// CollectionAssets returns the observed member assets of a collection,
// sorted by id.
func (s *Store) CollectionAssets(collectionID string) []trade.Asset {
	ids := sortedKeys(s.collectionAssets[collectionID])
	assets := make([]trade.Asset, 0, len(ids))
	for _, id := range ids {
		if asset, ok := s.assets[id]; ok {
			assets = append(assets, asset)
		}
	}
	return assets
}

// CollectionWanters returns the parties wanting a collection, sorted.
func (s *Store) CollectionWanters(collectionID string) []string {
	return sortedKeys(s.collectionWants[collectionID])
}

// WantedAssets returns the asset ids a party wants directly, sorted.
func (s *Store) WantedAssets(partyID string) []string {
	return sortedKeys(s.wantsByParty[partyID])
}

// OwnedAssets returns the asset ids a party owns, sorted.
func (s *Store) OwnedAssets(partyID string) []string {
	return sortedKeys(s.owned[partyID])
}

func (s *Store) AssetCount() int { return len(s.assets) }
func (s *Store) PartyCount() int { return len(s.parties) }

// Parties returns every known party id, sorted.
func (s *Store) Parties() []string {
	return sortedKeys(s.parties)
}

// CheckIntegrity verifies the ownership invariant: every asset appears in
// exactly the owned set of its recorded owner. A violation is fatal for the
// tenant graph and forces a rebuild from a snapshot.
func (s *Store) CheckIntegrity() error {
	for id, asset := range s.assets {
		if _, ok := s.owned[asset.OwnerID][id]; !ok {
			return fmt.Errorf("asset %s missing from owner %s index: %w", id, asset.OwnerID, ErrCorrupted)
		}
	}
	for party, set := range s.owned {
		for id := range set {
			asset, ok := s.assets[id]
			if !ok || asset.OwnerID != party {
				return fmt.Errorf("party %s indexed as owner of %s: %w", party, id, ErrCorrupted)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
