package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ConnGuard/internal/conf"
	"ConnGuard/internal/model"
	pkgerrors "ConnGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
)

const defaultStatusCacheSize = 1024

// Connection is the GORM model for the connections table.
type Connection struct {
	ID        int64     `gorm:"primaryKey;column:id;autoIncrement:false"`
	Name      string    `gorm:"column:name;size:100"`
	Status    string    `gorm:"column:status;size:20;not null;index"`
	Retries   int       `gorm:"column:retries;default:0;not null"`
	LastError *string   `gorm:"column:last_error;type:text"`
	QRCode    *string   `gorm:"column:qr_code;type:text"` // 配对码，连接成功后清空
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Connection) TableName() string {
	return "connections"
}

func (c *Connection) toRecord() *model.StatusRecord {
	rec := &model.StatusRecord{
		ID:        model.ConnectionID(c.ID),
		Name:      c.Name,
		Status:    model.ConnectionStatus(c.Status),
		Retries:   c.Retries,
		UpdatedAt: c.UpdatedAt,
	}
	if c.LastError != nil {
		rec.LastError = *c.LastError
	}
	if c.QRCode != nil {
		rec.Code = *c.QRCode
	}
	return rec
}

// ConnectionRepo persists connection status with GORM.
// LoadStatus results are kept in an in-process LRU and invalidated on every write.
type ConnectionRepo struct {
	db     *gorm.DB
	cache  *lru.Cache[model.ConnectionID, model.StatusRecord]
	logger *log.Helper
}

// NewConnectionRepo creates a new connection status repository.
func NewConnectionRepo(c *conf.Data, db *gorm.DB, logger log.Logger) (*ConnectionRepo, error) {
	size := defaultStatusCacheSize
	if c != nil && c.Database != nil && c.Database.CacheSize > 0 {
		size = c.Database.CacheSize
	}
	cache, err := lru.New[model.ConnectionID, model.StatusRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}
	return &ConnectionRepo{
		db:     db,
		cache:  cache,
		logger: log.NewHelper(logger),
	}, nil
}

// UpdateStatus writes the status and the non-nil optional fields. A row is created
// when the connection has never been persisted.
func (r *ConnectionRepo) UpdateStatus(ctx context.Context, id model.ConnectionID, update model.StatusUpdate) error {
	defer r.cache.Remove(id)

	fields := map[string]interface{}{
		"status":     string(update.Status),
		"updated_at": time.Now(),
	}
	if update.Retries != nil {
		fields["retries"] = *update.Retries
	}
	if update.LastError != nil {
		fields["last_error"] = *update.LastError
	}
	if update.Code != nil {
		fields["qr_code"] = *update.Code
	}

	result := r.db.WithContext(ctx).
		Model(&Connection{}).
		Where("id = ?", int64(id)).
		Updates(fields)
	if result.Error != nil {
		dbErr := pkgerrors.ClassifyDBError(result.Error)
		r.logger.Errorw("msg", "failed to update connection status",
			"connection_id", id,
			"status", update.Status,
			"kind", dbErr.Kind.String(),
			"retryable", dbErr.Retryable(),
			"error", dbErr.Error())
		return dbErr
	}
	if result.RowsAffected > 0 {
		return nil
	}

	row := Connection{
		ID:        int64(id),
		Status:    string(update.Status),
		LastError: update.LastError,
		QRCode:    update.Code,
	}
	if update.Retries != nil {
		row.Retries = *update.Retries
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		// MySQL reports 0 affected rows when nothing changed, so the row may already exist.
		if pkgerrors.IsDuplicateKeyError(err) {
			return nil
		}
		dbErr := pkgerrors.ClassifyDBError(err)
		r.logger.Errorw("msg", "failed to create connection row",
			"connection_id", id,
			"error", dbErr.Error())
		return dbErr
	}

	r.logger.Debugw("msg", "connection row created", "connection_id", id, "status", update.Status)
	return nil
}

// LoadStatus returns the persisted record for id.
func (r *ConnectionRepo) LoadStatus(ctx context.Context, id model.ConnectionID) (*model.StatusRecord, error) {
	if rec, ok := r.cache.Get(id); ok {
		return &rec, nil
	}

	var row Connection
	if err := r.db.WithContext(ctx).Where("id = ?", int64(id)).First(&row).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("connection status not found: id=%d: %w", id, dbErr)
		}
		r.logger.Errorw("msg", "failed to load connection status", "connection_id", id, "error", dbErr.Error())
		return nil, dbErr
	}

	rec := row.toRecord()
	r.cache.Add(id, *rec)
	return rec, nil
}

// ListConnectionIDs returns ids whose status is one of statuses, or every id when
// statuses is empty, in ascending order.
func (r *ConnectionRepo) ListConnectionIDs(ctx context.Context, statuses ...model.ConnectionStatus) ([]model.ConnectionID, error) {
	query := r.db.WithContext(ctx).Model(&Connection{})
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query = query.Where("status IN ?", names)
	}

	var raw []int64
	if err := query.Order("id ASC").Pluck("id", &raw).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		r.logger.Errorw("msg", "failed to list connections", "error", dbErr.Error())
		return nil, dbErr
	}

	ids := make([]model.ConnectionID, len(raw))
	for i, v := range raw {
		ids[i] = model.ConnectionID(v)
	}
	return ids, nil
}
