package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sitestock-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// recordTimeout bounds a post-commit audit write.
const recordTimeout = 5 * time.Second

const (
	EntityProject      = "project"
	EntityBatch        = "material_batch"
	EntityUsedMaterial = "used_material"
)

type LogOptions struct {
	ClientID    string
	ProjectID   string
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    string
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

// Writer appends audit rows. A Writer without a database drops every entry.
type Writer struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewWriter(db *gorm.DB, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{db: db, log: log}
}

func (w *Writer) Enabled() bool {
	return w != nil && w.db != nil
}

func (w *Writer) Write(ctx context.Context, opts LogOptions) error {
	if !w.Enabled() {
		return nil
	}

	entry := models.AuditLog{
		ClientID:    opts.ClientID,
		ProjectID:   opts.ProjectID,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  jsonOrNull(opts.Before),
		AfterData:   jsonOrNull(opts.After),
	}

	if err := w.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Record writes like Write but only logs a failure; the audited change has
// already been committed by then. The write gets its own deadline, so a
// request that spent its budget on the ledger still leaves a trail.
func (w *Writer) Record(ctx context.Context, opts LogOptions) {
	if !w.Enabled() {
		return
	}
	ctx, cancel := recordContext(ctx)
	defer cancel()
	if err := w.Write(ctx, opts); err != nil {
		w.log.Warn("audit log dropped",
			zap.String("project_id", opts.ProjectID),
			zap.String("entity_id", opts.EntityID),
			zap.Error(err),
		)
	}
}

func recordContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), recordTimeout)
}

// jsonb columns reject an empty string, so absent payloads become JSON null.
func jsonOrNull(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
