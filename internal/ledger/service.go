package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 10 * time.Millisecond
)

// Recorder receives ledger outcomes; internal/metrics implements it.
type Recorder interface {
	ObserveAllocation(outcome string, took time.Duration)
	IncIngestion(mode string)
	IncConflict()
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(string, time.Duration) {}
func (nopRecorder) IncIngestion(string)                     {}
func (nopRecorder) IncConflict()                            {}

// Service runs ledger commands against a Store.
type Service struct {
	store       Store
	log         *zap.Logger
	rec         Recorder
	maxRetries  uint64
	backoffBase time.Duration
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithRetry bounds how often a Conflict from the store is retried.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		if base > 0 {
			s.backoffBase = base
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		log:         zap.NewNop(),
		rec:         nopRecorder{},
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) stamp(by string) Stamp {
	return Stamp{ID: s.newID(), At: s.now(), By: by}
}

// CreateProject opens an empty project for clientID.
func (s *Service) CreateProject(ctx context.Context, clientID, name string) (Project, error) {
	if normalize(clientID) == "" {
		return Project{}, invalidArgument("clientId is required")
	}
	if normalize(name) == "" {
		return Project{}, invalidArgument("project name is required")
	}
	st := s.stamp("")
	p := Project{
		ID:        st.ID,
		ClientID:  normalize(clientID),
		Name:      normalize(name),
		Spent:     decimal.Zero,
		Available: []Batch{},
		Used:      []UsedRecord{},
		CreatedAt: st.At,
		UpdatedAt: st.At,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return Project{}, s.fail("create project", err, zap.String("client_id", clientID))
	}
	s.log.Info("project created", zap.String("project_id", p.ID), zap.String("client_id", p.ClientID))
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, projectID, clientID string) (Project, error) {
	if normalize(projectID) == "" || normalize(clientID) == "" {
		return Project{}, invalidArgument("Project ID and Client ID are required")
	}
	p, err := s.store.Get(ctx, normalize(projectID), normalize(clientID))
	if err != nil {
		return Project{}, s.fail("get project", err, zap.String("project_id", projectID))
	}
	return p, nil
}

// AddStock ingests a delivery, merging into a matching batch when asked to.
func (s *Service) AddStock(ctx context.Context, cmd AddStockCommand) (AddStockResult, error) {
	if err := cmd.Validate(); err != nil {
		return AddStockResult{}, err
	}
	var res AddStockResult
	_, err := s.mutate(ctx, cmd.ProjectID, cmd.ClientID, func(p Project) (Project, error) {
		next, r, err := AddStock(p, cmd, s.stamp(""))
		if err != nil {
			return Project{}, err
		}
		next.UpdatedAt = s.now()
		res = r
		return next, nil
	})
	if err != nil {
		return AddStockResult{}, s.fail("add stock", err,
			zap.String("project_id", cmd.ProjectID), zap.String("material", cmd.Name))
	}

	mode := "created"
	if res.Merged {
		mode = "merged"
	}
	s.rec.IncIngestion(mode)
	s.log.Info("stock added",
		zap.String("project_id", cmd.ProjectID),
		zap.String("batch_id", res.Batch.ID),
		zap.String("mode", mode),
		zap.Stringer("qnt", res.Batch.Qnt),
	)
	return res, nil
}

// AllocateUsage moves cmd.Qnt from the matched batch into a new used record.
// usedBy is recorded on the record as-is.
func (s *Service) AllocateUsage(ctx context.Context, cmd AllocateCommand, usedBy string) (AllocationResult, error) {
	started := time.Now()
	res, err := s.allocate(ctx, cmd, usedBy)
	outcome := "success"
	if err != nil {
		outcome = string(CodeOf(err))
	}
	s.rec.ObserveAllocation(outcome, time.Since(started))
	return res, err
}

func (s *Service) allocate(ctx context.Context, cmd AllocateCommand, usedBy string) (AllocationResult, error) {
	if err := cmd.Validate(); err != nil {
		return AllocationResult{}, err
	}
	var res AllocationResult
	_, err := s.mutate(ctx, cmd.ProjectID, cmd.ClientID, func(p Project) (Project, error) {
		next, r, err := Allocate(p, cmd, s.stamp(usedBy))
		if err != nil {
			return Project{}, err
		}
		next.UpdatedAt = s.now()
		res = r
		return next, nil
	})
	if err != nil {
		return AllocationResult{}, s.fail("allocate usage", err,
			zap.String("project_id", cmd.ProjectID),
			zap.String("material_id", cmd.MaterialID),
			zap.String("section_id", cmd.SectionID),
		)
	}
	s.log.Info("material allocated",
		zap.String("project_id", cmd.ProjectID),
		zap.String("material_id", cmd.MaterialID),
		zap.String("section_id", res.Record.SectionID),
		zap.Stringer("qnt", res.Record.Qnt),
		zap.Stringer("spent", res.Spent),
	)
	return res, nil
}

func (s *Service) ListUsedMaterials(ctx context.Context, projectID, clientID, sectionID string) ([]UsedRecord, error) {
	p, err := s.GetProject(ctx, projectID, clientID)
	if err != nil {
		return nil, err
	}
	return UsedMaterials(p, sectionID), nil
}

func (s *Service) ListAvailableMaterials(ctx context.Context, projectID, clientID, sectionID string) ([]Batch, error) {
	p, err := s.GetProject(ctx, projectID, clientID)
	if err != nil {
		return nil, err
	}
	return AvailableMaterials(p, sectionID), nil
}

// mutate runs fn through the store and retries Conflict a bounded number of times.
func (s *Service) mutate(ctx context.Context, projectID, clientID string, fn MutateFunc) (Project, error) {
	var out Project
	b := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoffBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		p, err := s.store.Update(ctx, normalize(projectID), normalize(clientID), fn)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				s.rec.IncConflict()
				return retry.RetryableError(err)
			}
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// fail classifies err and logs what the caller will not see.
func (s *Service) fail(op string, err error, fields ...zap.Field) error {
	le := classify(err).(*Error)
	switch le.Code {
	case CodeInternal, CodeUnavailable, CodeConflict:
		fields = append(fields, zap.String("op", op), zap.String("code", string(le.Code)), zap.Error(err))
		s.log.Error("ledger operation failed", fields...)
	}
	return le
}
