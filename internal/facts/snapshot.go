package facts

import (
	"encoding/json"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

// Snapshot is the serializable form of a Store, checkpointed through the
// persistence collaborator and restored on tenant initialization.
type Snapshot struct {
	Assets            []trade.Asset              `json:"assets"`
	Wants             map[string][]string        `json:"wants"`
	CollectionWants   map[string][]string        `json:"collection_wants"`
	CollectionSamples map[string][]string        `json:"collection_samples"`
	CollectionMeta    []trade.CollectionMetadata `json:"collection_meta,omitempty"`
	RejectedAssets    map[string][]string        `json:"rejected_assets"`
	RejectedParties   map[string][]string        `json:"rejected_parties"`
}

// Snapshot captures the current facts in a deterministic order.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		Wants:             make(map[string][]string, len(s.wants)),
		CollectionWants:   make(map[string][]string, len(s.collectionWants)),
		CollectionSamples: make(map[string][]string, len(s.collectionSamples)),
		RejectedAssets:    make(map[string][]string, len(s.rejectedAssets)),
		RejectedParties:   make(map[string][]string, len(s.rejectedParties)),
	}

	for _, id := range s.AssetIDs() {
		snap.Assets = append(snap.Assets, s.assets[id])
	}
	for asset, set := range s.wants {
		snap.Wants[asset] = sortedKeys(set)
	}
	for collection, set := range s.collectionWants {
		snap.CollectionWants[collection] = sortedKeys(set)
	}
	for collection, set := range s.collectionSamples {
		snap.CollectionSamples[collection] = sortedKeys(set)
	}
	for _, collection := range sortedKeys(s.collectionMeta) {
		snap.CollectionMeta = append(snap.CollectionMeta, s.collectionMeta[collection])
	}
	for party, set := range s.rejectedAssets {
		snap.RejectedAssets[party] = sortedKeys(set)
	}
	for party, set := range s.rejectedParties {
		snap.RejectedParties[party] = sortedKeys(set)
	}
	return snap
}

// Restore builds a Store from a snapshot. Mutations are replayed through
// the validating entry points so a corrupted checkpoint cannot install an
// invariant-violating state.
func Restore(snap *Snapshot) (*Store, error) {
	s := NewStore()
	for _, asset := range snap.Assets {
		if _, err := s.AddAsset(asset); err != nil {
			return nil, err
		}
	}
	for asset, parties := range snap.Wants {
		for _, party := range parties {
			if _, err := s.AddWant(party, asset); err != nil {
				return nil, err
			}
		}
	}
	for collection, parties := range snap.CollectionWants {
		for _, party := range parties {
			if _, err := s.AddCollectionWant(party, collection); err != nil {
				return nil, err
			}
		}
	}
	for collection, assetIDs := range snap.CollectionSamples {
		s.SetCollectionSample(collection, assetIDs)
	}
	for _, meta := range snap.CollectionMeta {
		if err := s.SetCollectionMetadata(meta); err != nil {
			return nil, err
		}
	}
	for party, assets := range snap.RejectedAssets {
		for _, asset := range assets {
			if _, err := s.AddRejection(party, asset, true); err != nil {
				return nil, err
			}
		}
	}
	for party, others := range snap.RejectedParties {
		for _, other := range others {
			if _, err := s.AddRejection(party, other, false); err != nil {
				return nil, err
			}
		}
	}

	if err := s.CheckIntegrity(); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalSnapshot serializes a snapshot for the persistence collaborator.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot is the inverse of MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
