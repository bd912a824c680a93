// Package usage keeps the append-only audit trail of successful completions.
package usage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/models"
)

type Entry struct {
	OrganizationID   uint
	AccountID        string
	ComponentName    string
	Topic            string
	Prompt           string
	RequestParams    any
	ProviderResponse []byte
	FinalText        string
}

// Recorder writes usage rows. Record never fails its caller: storage
// errors are logged and dropped.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	row := models.UsageLog{
		RequestID:        uuid.NewString(),
		OrganizationID:   e.OrganizationID,
		AccountID:        e.AccountID,
		ComponentName:    e.ComponentName,
		Topic:            e.Topic,
		Prompt:           e.Prompt,
		RequestParams:    toJSON(e.RequestParams),
		ProviderResponse: rawJSON(e.ProviderResponse),
		FinalText:        e.FinalText,
	}

	// The write outlives a cancelled request; the completion already happened.
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
		r.logger.Error("Failed to record usage",
			zap.Uint("organization_id", e.OrganizationID),
			zap.String("component", e.ComponentName),
			zap.Error(err))
	}
}

// List returns the newest usage rows of an organization.
func (r *Recorder) List(ctx context.Context, orgID uint, limit int) ([]models.UsageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.UsageLog
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// rawJSON keeps valid JSON as-is and wraps anything else as a JSON string.
func rawJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	return toJSON(string(raw))
}
