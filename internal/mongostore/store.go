// Package mongostore keeps each project as a single MongoDB document and
// serializes updates with an optimistic version check.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitestock-backend/internal/ledger"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	collectionName         = "projects"
	serverSelectionTimeout = 5 * time.Second
)

// Connect dials uri, pings the primary and ensures the indexes the store needs.
func Connect(ctx context.Context, uri, database string, log *zap.Logger) (*mongo.Client, *Store, error) {
	if uri == "" {
		return nil, nil, errors.New("mongo uri cannot be empty")
	}
	if database == "" {
		return nil, nil, errors.New("mongo database name cannot be empty")
	}
	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(serverSelectionTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "_id", Value: 1}, {Key: "clientId", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo create index: %w", err)
	}
	log.Info("mongo connected", zap.String("database", database))
	return client, New(coll), nil
}

// Store implements ledger.Store on a single collection.
type Store struct {
	coll *mongo.Collection
}

var _ ledger.Store = (*Store)(nil)

func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

func (s *Store) Create(ctx context.Context, p ledger.Project) error {
	doc, err := toDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("project %s already exists: %w", p.ID, err)
		}
		return mapErr(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, projectID, clientID string) (ledger.Project, error) {
	var doc projectDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": projectID, "clientId": clientID}).Decode(&doc)
	if err != nil {
		return ledger.Project{}, mapErr(err)
	}
	return fromDoc(doc)
}

// Update replaces the document only if nobody bumped its version since it
// was read; otherwise it reports ledger.Conflict and the caller retries.
func (s *Store) Update(ctx context.Context, projectID, clientID string, fn ledger.MutateFunc) (ledger.Project, error) {
	prev, err := s.Get(ctx, projectID, clientID)
	if err != nil {
		return ledger.Project{}, err
	}
	next, err := fn(prev.Clone())
	if err != nil {
		return ledger.Project{}, err
	}
	next.Version = prev.Version + 1

	doc, err := toDoc(next)
	if err != nil {
		return ledger.Project{}, err
	}
	res, err := s.coll.ReplaceOne(ctx, bson.M{
		"_id":      projectID,
		"clientId": clientID,
		"version":  prev.Version,
	}, doc)
	if err != nil {
		return ledger.Project{}, mapErr(err)
	}
	if res.MatchedCount == 0 {
		return ledger.Project{}, ledger.Conflict(fmt.Errorf("project %s changed after version %d", projectID, prev.Version))
	}
	return next, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ledger.ProjectNotFound()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return ledger.Unavailable(err)
	}
	return err
}

type projectDoc struct {
	ID        string               `bson:"_id"`
	ClientID  string               `bson:"clientId"`
	Name      string               `bson:"name"`
	Spent     primitive.Decimal128 `bson:"spent"`
	Version   int64                `bson:"version"`
	Available []batchDoc           `bson:"MaterialAvailable"`
	Used      []usedDoc            `bson:"MaterialUsed"`
	CreatedAt time.Time            `bson:"createdAt"`
	UpdatedAt time.Time            `bson:"updatedAt"`
}

type batchDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Unit      string               `bson:"unit"`
	Specs     bson.M               `bson:"specs"`
	Qnt       primitive.Decimal128 `bson:"qnt"`
	Cost      primitive.Decimal128 `bson:"cost"`
	TotalCost primitive.Decimal128 `bson:"totalCost"`
	SectionID string               `bson:"sectionId,omitempty"`
	CreatedAt time.Time            `bson:"createdAt"`
}

type usedDoc struct {
	ID            string               `bson:"_id"`
	BatchID       string               `bson:"materialId"`
	Name          string               `bson:"name"`
	Unit          string               `bson:"unit"`
	Specs         bson.M               `bson:"specs"`
	Qnt           primitive.Decimal128 `bson:"qnt"`
	Cost          primitive.Decimal128 `bson:"cost"`
	TotalCost     primitive.Decimal128 `bson:"totalCost"`
	SectionID     string               `bson:"sectionId"`
	MiniSectionID string               `bson:"miniSectionId,omitempty"`
	UsedBy        string               `bson:"usedBy,omitempty"`
	UsedAt        time.Time            `bson:"usedAt"`
}

func toDoc(p ledger.Project) (projectDoc, error) {
	var err error
	dec := func(d decimal.Decimal) primitive.Decimal128 {
		if err != nil {
			return primitive.Decimal128{}
		}
		var out primitive.Decimal128
		out, err = toDecimal128(d)
		return out
	}

	doc := projectDoc{
		ID:        p.ID,
		ClientID:  p.ClientID,
		Name:      p.Name,
		Spent:     dec(p.Spent),
		Version:   p.Version,
		Available: make([]batchDoc, 0, len(p.Available)),
		Used:      make([]usedDoc, 0, len(p.Used)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, b := range p.Available {
		doc.Available = append(doc.Available, batchDoc{
			ID:        b.ID,
			Name:      b.Name,
			Unit:      b.Unit,
			Specs:     bson.M(b.Specs.Clone()),
			Qnt:       dec(b.Qnt),
			Cost:      dec(b.Cost),
			TotalCost: dec(b.Total),
			SectionID: b.SectionID,
			CreatedAt: b.CreatedAt,
		})
	}
	for _, u := range p.Used {
		doc.Used = append(doc.Used, usedDoc{
			ID:            u.ID,
			BatchID:       u.BatchID,
			Name:          u.Name,
			Unit:          u.Unit,
			Specs:         bson.M(u.Specs.Clone()),
			Qnt:           dec(u.Qnt),
			Cost:          dec(u.Cost),
			TotalCost:     dec(u.Total),
			SectionID:     u.SectionID,
			MiniSectionID: u.MiniSectionID,
			UsedBy:        u.UsedBy,
			UsedAt:        u.UsedAt,
		})
	}
	if err != nil {
		return projectDoc{}, fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	return doc, nil
}

func fromDoc(doc projectDoc) (ledger.Project, error) {
	var err error
	dec := func(d primitive.Decimal128) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		var out decimal.Decimal
		out, err = fromDecimal128(d)
		return out
	}

	p := ledger.Project{
		ID:        doc.ID,
		ClientID:  doc.ClientID,
		Name:      doc.Name,
		Spent:     dec(doc.Spent),
		Version:   doc.Version,
		Available: make([]ledger.Batch, 0, len(doc.Available)),
		Used:      make([]ledger.UsedRecord, 0, len(doc.Used)),
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, b := range doc.Available {
		p.Available = append(p.Available, ledger.Batch{
			ID:        b.ID,
			Name:      b.Name,
			Unit:      b.Unit,
			Specs:     specsFromBSON(b.Specs),
			Qnt:       dec(b.Qnt),
			Cost:      dec(b.Cost),
			Total:     dec(b.TotalCost),
			SectionID: b.SectionID,
			CreatedAt: b.CreatedAt.UTC(),
		})
	}
	for _, u := range doc.Used {
		p.Used = append(p.Used, ledger.UsedRecord{
			ID:            u.ID,
			BatchID:       u.BatchID,
			Name:          u.Name,
			Unit:          u.Unit,
			Specs:         specsFromBSON(u.Specs),
			Qnt:           dec(u.Qnt),
			Cost:          dec(u.Cost),
			Total:         dec(u.TotalCost),
			SectionID:     u.SectionID,
			MiniSectionID: u.MiniSectionID,
			UsedBy:        u.UsedBy,
			UsedAt:        u.UsedAt.UTC(),
		})
	}
	if err != nil {
		return ledger.Project{}, fmt.Errorf("decode project %s: %w", doc.ID, err)
	}
	return p, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

// specsFromBSON turns the driver's primitive.D / primitive.A values back
// into plain maps and slices so Specs compare equal to what was written.
func specsFromBSON(m bson.M) ledger.Specs {
	if m == nil {
		return nil
	}
	out := make(ledger.Specs, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = plainValue(vv)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = plainValue(vv)
		}
		return s
	case int32:
		return int64(t)
	default:
		return v
	}
}
