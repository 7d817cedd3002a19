package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"swarmstream/internal/domain"
)

// Repository stores one history document per content id.
type Repository struct {
	collection *mongo.Collection
}

type fileDoc struct {
	Index  int    `bson:"index"`
	Path   string `bson:"path"`
	Length int64  `bson:"length"`
}

type sessionDoc struct {
	ID        string   `bson:"_id"`
	Locator   string   `bson:"locator"`
	Status    string   `bson:"status"`
	Progress  float64  `bson:"progress"`
	File      *fileDoc `bson:"file,omitempty"`
	ErrorKind string   `bson:"errorKind,omitempty"`
	Error     string   `bson:"error,omitempty"`
	CreatedAt int64    `bson:"createdAt"`
	UpdatedAt int64    `bson:"updatedAt"`
	ReadyAt   int64    `bson:"readyAt,omitempty"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Upsert replaces the document of record.ContentID, creating it when absent.
func (r *Repository) Upsert(ctx context.Context, record domain.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	doc := toDoc(record)
	_, err := r.collection.ReplaceOne(
		ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *Repository) Get(ctx context.Context, id domain.ContentID) (domain.SessionRecord, error) {
	var doc sessionDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, err
	}
	return fromDoc(doc), nil
}

// ListRecent returns up to limit records, most recently updated first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, bson.M{}, opts)
}

func (r *Repository) ListByStatus(ctx context.Context, statuses []domain.SessionStatus) ([]domain.SessionRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return r.find(ctx, bson.M{"status": bson.M{"$in": values}}, opts)
}

func (r *Repository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]domain.SessionRecord, error) {
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func toDoc(r domain.SessionRecord) sessionDoc {
	doc := sessionDoc{
		ID:        string(r.ContentID),
		Locator:   string(r.Locator),
		Status:    string(r.Status),
		Progress:  r.Progress,
		ErrorKind: string(r.ErrorKind),
		Error:     r.Error,
		CreatedAt: r.CreatedAt.UTC().UnixMilli(),
		UpdatedAt: r.UpdatedAt.UTC().UnixMilli(),
	}
	if r.File != nil {
		doc.File = &fileDoc{Index: r.File.Index, Path: r.File.Path, Length: r.File.Length}
	}
	if r.ReadyAt != nil {
		doc.ReadyAt = r.ReadyAt.UTC().UnixMilli()
	}
	return doc
}

func fromDoc(doc sessionDoc) domain.SessionRecord {
	record := domain.SessionRecord{
		ContentID: domain.ContentID(doc.ID),
		Locator:   domain.Locator(doc.Locator),
		Status:    domain.SessionStatus(doc.Status),
		Progress:  doc.Progress,
		ErrorKind: domain.ErrorKind(doc.ErrorKind),
		Error:     doc.Error,
		CreatedAt: time.UnixMilli(doc.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(doc.UpdatedAt).UTC(),
	}
	if doc.File != nil {
		record.File = &domain.FileRef{Index: doc.File.Index, Path: doc.File.Path, Length: doc.File.Length}
	}
	if doc.ReadyAt != 0 {
		readyAt := time.UnixMilli(doc.ReadyAt).UTC()
		record.ReadyAt = &readyAt
	}
	return record
}

func fromDocs(docs []sessionDoc) []domain.SessionRecord {
	out := make([]domain.SessionRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDoc(doc))
	}
	return out
}
