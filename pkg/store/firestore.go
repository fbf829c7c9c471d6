package store

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

const defaultCollection = "research_runs"

// firestoreDoc is the stored shape. The snapshot is kept as a JSON blob so
// opaque payload values round-trip unchanged, with the fields needed for
// querying lifted alongside.
type firestoreDoc struct {
	RunID    string `firestore:"run_id"`
	Topic    string `firestore:"topic"`
	Status   string `firestore:"status"`
	Updated  int64  `firestore:"updated_unix"`
	Snapshot string `firestore:"snapshot"`
}

// FirestoreStore persists snapshots in a Firestore collection, giving the
// retry path durability across hosts, not just process restarts.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore connects to Firestore in the given project.
func NewFirestoreStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: defaultCollection}, nil
}

func (s *FirestoreStore) Save(ctx context.Context, snap *types.RunSnapshot) error {
	if snap == nil || snap.RunID == "" {
		return flowerr.New(flowerr.CodeInvalidInput, "snapshot must carry a run ID")
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	doc := firestoreDoc{
		RunID:    snap.RunID,
		Topic:    snap.Topic,
		Status:   string(snap.Status),
		Updated:  snap.Updated.Unix(),
		Snapshot: string(blob),
	}
	if _, err := s.client.Collection(s.collection).Doc(snap.RunID).Set(ctx, doc); err != nil {
		return fmt.Errorf("store snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

func (s *FirestoreStore) Load(ctx context.Context, runID string) (*types.RunSnapshot, error) {
	docSnap, err := s.client.Collection(s.collection).Doc(runID).Get(ctx)
	if err != nil {
		return nil, flowerr.Wrap(err, flowerr.CodeRunNotFound, fmt.Sprintf("load run %q", runID))
	}
	var doc firestoreDoc
	if err := docSnap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", runID, err)
	}
	return decodeSnapshot(doc)
}

func (s *FirestoreStore) Latest(ctx context.Context) (*types.RunSnapshot, error) {
	iter := s.client.Collection(s.collection).
		OrderBy("updated_unix", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	docSnap, err := iter.Next()
	if err == iterator.Done {
		return nil, flowerr.New(flowerr.CodeRunNotFound, "no persisted runs")
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	var doc firestoreDoc
	if err := docSnap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode latest document: %w", err)
	}
	return decodeSnapshot(doc)
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func decodeSnapshot(doc firestoreDoc) (*types.RunSnapshot, error) {
	var snap types.RunSnapshot
	if err := json.Unmarshal([]byte(doc.Snapshot), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", doc.RunID, err)
	}
	return &snap, nil
}
