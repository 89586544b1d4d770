package device

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore layout: users/{uid}/fcmTokens/{token}.
const (
	CollectionUsers     = "users"
	CollectionFCMTokens = "fcmTokens"

	fieldToken     = "token"
	fieldUserAgent = "userAgent"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// deleteBatchSize stays under Firestore's 500-write batch limit.
const deleteBatchSize = 400

// FirestoreRepository stores tokens in each user's fcmTokens subcollection,
// using the token itself as the document ID.
type FirestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository creates a Firestore-backed token repository.
func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{client: client}
}

func (r *FirestoreRepository) tokens(userID string) *firestore.CollectionRef {
	return r.client.Collection(CollectionUsers).Doc(userID).Collection(CollectionFCMTokens)
}

// Upsert registers a token inside a transaction so the created flag is accurate.
func (r *FirestoreRepository) Upsert(ctx context.Context, t *Token) (bool, error) {
	ref := r.tokens(t.UserID).Doc(t.Token)
	var created bool

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if snap != nil && snap.Exists() {
			updates := []firestore.Update{{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp}}
			if t.UserAgent != "" {
				updates = append(updates, firestore.Update{Path: fieldUserAgent, Value: t.UserAgent})
			}
			return tx.Update(ref, updates)
		}

		created = true
		return tx.Set(ref, map[string]interface{}{
			fieldToken:     t.Token,
			fieldUserAgent: t.UserAgent,
			fieldCreatedAt: firestore.ServerTimestamp,
			fieldUpdatedAt: firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// ListByUser retrieves a user's tokens, newest first.
func (r *FirestoreRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Token, error) {
	docs, err := r.tokens(userID).
		OrderBy(fieldCreatedAt, firestore.Desc).
		Limit(opts.limit()).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}

	items := make([]*Token, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeToken(userID, doc.Ref.ID, doc.Data()))
	}
	return items, nil
}

// ListTokens returns the document IDs of the user's fcmTokens subcollection.
// The ID is the token Delete addresses, so a pruned token is always the
// document that was sent to.
func (r *FirestoreRepository) ListTokens(ctx context.Context, userID string) ([]string, error) {
	iter := r.tokens(userID).DocumentRefs(ctx)

	var refs []*firestore.DocumentRef
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return tokenIDs(refs), nil
}

// Delete removes a token document. Missing documents are not an error.
func (r *FirestoreRepository) Delete(ctx context.Context, userID, token string) error {
	_, err := r.tokens(userID).Doc(token).Delete(ctx)
	return err
}

// DeleteByUser removes every token document for a user in batched writes.
func (r *FirestoreRepository) DeleteByUser(ctx context.Context, userID string) error {
	refs, err := r.tokens(userID).DocumentRefs(ctx).GetAll()
	if err != nil {
		return err
	}

	for start := 0; start < len(refs); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(refs))
		batch := r.client.Batch()
		for _, ref := range refs[start:end] {
			batch.Delete(ref)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func tokenIDs(refs []*firestore.DocumentRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.ID)
	}
	return out
}

// decodeToken keys the token by its document ID. A token field that
// disagrees with the ID is ignored.
func decodeToken(userID, docID string, data map[string]interface{}) *Token {
	t := &Token{UserID: userID, Token: docID}

	if v, ok := data[fieldUserAgent].(string); ok {
		t.UserAgent = v
	}
	if v, ok := data[fieldCreatedAt].(time.Time); ok {
		t.CreatedAt = v
	}
	if v, ok := data[fieldUpdatedAt].(time.Time); ok {
		t.UpdatedAt = v
	}
	return t
}
