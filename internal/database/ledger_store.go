package database

import (
	"context"
	"errors"
	"fmt"

	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres error codes that mean "try again".
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// LedgerStore keeps projects in Postgres. Update locks the project row
// FOR UPDATE, so mutations of one project are serialized by the database.
type LedgerStore struct {
	db *gorm.DB
}

var _ ledger.Store = (*LedgerStore)(nil)

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Create(ctx context.Context, p ledger.Project) error {
	row := models.Project{
		ID:        p.ID,
		ClientID:  p.ClientID,
		Name:      p.Name,
		Spent:     p.Spent,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapErr(fmt.Errorf("create project: %w", err))
	}
	return nil
}

func (s *LedgerStore) Get(ctx context.Context, projectID, clientID string) (ledger.Project, error) {
	var out ledger.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := load(tx, projectID, clientID, false)
		out = p
		return err
	})
	if err != nil {
		return ledger.Project{}, mapErr(err)
	}
	return out, nil
}

func (s *LedgerStore) Update(ctx context.Context, projectID, clientID string, fn ledger.MutateFunc) (ledger.Project, error) {
	var out ledger.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := load(tx, projectID, clientID, true)
		if err != nil {
			return err
		}
		next, err := fn(prev.Clone())
		if err != nil {
			return err
		}
		next.Version = prev.Version + 1
		if err := persist(tx, prev, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return ledger.Project{}, mapErr(err)
	}
	return out, nil
}

func load(tx *gorm.DB, projectID, clientID string, lock bool) (ledger.Project, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.Project
	if err := q.Where("id = ? AND client_id = ?", projectID, clientID).First(&row).Error; err != nil {
		return ledger.Project{}, err
	}

	var batches []models.MaterialBatch
	if err := tx.Where("project_id = ?", row.ID).Order("position ASC").Find(&batches).Error; err != nil {
		return ledger.Project{}, fmt.Errorf("load material batches: %w", err)
	}
	var used []models.UsedMaterial
	if err := tx.Where("project_id = ?", row.ID).Order("position ASC").Find(&used).Error; err != nil {
		return ledger.Project{}, fmt.Errorf("load used materials: %w", err)
	}

	p := ledger.Project{
		ID:        row.ID,
		ClientID:  row.ClientID,
		Name:      row.Name,
		Spent:     row.Spent,
		Version:   row.Version,
		Available: make([]ledger.Batch, 0, len(batches)),
		Used:      make([]ledger.UsedRecord, 0, len(used)),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, b := range batches {
		p.Available = append(p.Available, ledger.Batch{
			ID:        b.ID,
			Name:      b.Name,
			Unit:      b.Unit,
			Specs:     ledger.Specs(b.Specs),
			Qnt:       b.Qnt,
			Cost:      b.Cost,
			Total:     b.TotalCost,
			SectionID: b.SectionID,
			CreatedAt: b.CreatedAt,
		})
	}
	for _, u := range used {
		p.Used = append(p.Used, ledger.UsedRecord{
			ID:            u.ID,
			BatchID:       u.BatchID,
			Name:          u.Name,
			Unit:          u.Unit,
			Specs:         ledger.Specs(u.Specs),
			Qnt:           u.Qnt,
			Cost:          u.Cost,
			Total:         u.TotalCost,
			SectionID:     u.SectionID,
			MiniSectionID: u.MiniSectionID,
			UsedBy:        u.UsedBy,
			UsedAt:        u.UsedAt,
		})
	}
	return p, nil
}

// persist writes the difference between prev and next inside tx: pruned
// batches are deleted, the rest upserted in order, new used records inserted.
func persist(tx *gorm.DB, prev, next ledger.Project) error {
	res := tx.Model(&models.Project{}).
		Where("id = ? AND version = ?", prev.ID, prev.Version).
		Updates(map[string]any{
			"name":       next.Name,
			"spent":      next.Spent,
			"version":    next.Version,
			"updated_at": next.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.Conflict(fmt.Errorf("project %s changed since version %d", prev.ID, prev.Version))
	}

	keep := make(map[string]bool, len(next.Available))
	for _, b := range next.Available {
		keep[b.ID] = true
	}
	var gone []string
	for _, b := range prev.Available {
		if !keep[b.ID] {
			gone = append(gone, b.ID)
		}
	}
	if len(gone) > 0 {
		if err := tx.Where("project_id = ? AND id IN ?", prev.ID, gone).
			Delete(&models.MaterialBatch{}).Error; err != nil {
			return fmt.Errorf("delete depleted batches: %w", err)
		}
	}

	if len(next.Available) > 0 {
		rows := make([]models.MaterialBatch, 0, len(next.Available))
		for i, b := range next.Available {
			rows = append(rows, models.MaterialBatch{
				ID:        b.ID,
				ProjectID: next.ID,
				Position:  i,
				Name:      b.Name,
				Unit:      b.Unit,
				Specs:     specsColumn(b.Specs),
				Qnt:       b.Qnt,
				Cost:      b.Cost,
				TotalCost: b.Total,
				SectionID: b.SectionID,
				CreatedAt: b.CreatedAt,
			})
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "qnt", "cost", "total_cost", "updated_at"}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("upsert material batches: %w", err)
		}
	}

	if len(next.Used) > len(prev.Used) {
		added := next.Used[len(prev.Used):]
		rows := make([]models.UsedMaterial, 0, len(added))
		for i, u := range added {
			rows = append(rows, models.UsedMaterial{
				ID:            u.ID,
				ProjectID:     next.ID,
				Position:      len(prev.Used) + i,
				BatchID:       u.BatchID,
				Name:          u.Name,
				Unit:          u.Unit,
				Specs:         specsColumn(u.Specs),
				Qnt:           u.Qnt,
				Cost:          u.Cost,
				TotalCost:     u.Total,
				SectionID:     u.SectionID,
				MiniSectionID: u.MiniSectionID,
				UsedBy:        u.UsedBy,
				UsedAt:        u.UsedAt,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert used materials: %w", err)
		}
	}
	return nil
}

func specsColumn(s ledger.Specs) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return s
}

func mapErr(err error) error {
	var le *ledger.Error
	switch {
	case errors.As(err, &le):
		return le
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ledger.ProjectNotFound()
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retryableCodes[pgErr.Code] {
		return ledger.Conflict(err)
	}
	return err
}
