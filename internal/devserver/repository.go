package devserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

// slowQueryThreshold is reported by the gorm logger adapter.
const slowQueryThreshold = 200 * time.Millisecond

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	// Type is "sqlite" or "mysql".
	Type string
	// DSN is a file path for sqlite or a go-sql-driver DSN for mysql.
	DSN string
}

// Repository persists notifications and preferences per user.
type Repository struct {
	db  *gorm.DB
	log logger.Logger
}

// OpenRepository connects to the configured database and migrates the schema.
func OpenRepository(cfg DatabaseConfig, log logger.Logger) (*Repository, error) {
	if log == nil {
		log = logger.Global().Module("devserver")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database type %q", cfg.Type).
			Component("devserver").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log.Module("gorm"), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("devserver").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("db_type", cfg.Type).
			Build()
	}

	if err := db.AutoMigrate(&NotificationRecord{}, &PreferencesRecord{}); err != nil {
		return nil, dbError(err, "migrate")
	}

	log.Info("database ready", logger.String("db_type", cfg.Type))
	return &Repository{db: db, log: log}, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

// List returns the user's notifications newest first. A non-zero since
// keeps those created at or after it.
func (r *Repository) List(ctx context.Context, userID string, since time.Time) ([]*notification.Notification, error) {
	var records []NotificationRecord
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	if err := q.Order("created_at DESC").Order("id").Find(&records).Error; err != nil {
		return nil, dbError(err, "list")
	}

	out := make([]*notification.Notification, 0, len(records))
	for i := range records {
		out = append(out, records[i].Notification())
	}
	return out, nil
}

// Save inserts or replaces a notification.
func (r *Repository) Save(ctx context.Context, userID string, n *notification.Notification) error {
	rec, err := recordFromNotification(userID, n)
	if err != nil {
		return errors.New(err).
			Component("devserver").
			Category(errors.CategoryValidation).
			Context("operation", "encode_metadata").
			Build()
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return dbError(err, "save")
	}
	return nil
}

// MarkRead marks one notification read. It reports false for unknown ids.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&NotificationRecord{}).
		Where("user_id = ? AND id = ?", userID, id).
		Update("is_read", true)
	if res.Error != nil {
		return false, dbError(res.Error, "mark_read")
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// MySQL reports changed rows only, so an already read row looks unknown.
	var count int64
	err := r.db.WithContext(ctx).Model(&NotificationRecord{}).
		Where("user_id = ? AND id = ?", userID, id).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "mark_read")
	}
	return count > 0, nil
}

// MarkAllRead marks every unread notification read and returns how many changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&NotificationRecord{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, dbError(res.Error, "mark_all_read")
	}
	return res.RowsAffected, nil
}

// Delete removes one notification. It reports false for unknown ids.
func (r *Repository) Delete(ctx context.Context, userID, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&NotificationRecord{})
	if res.Error != nil {
		return false, dbError(res.Error, "delete")
	}
	return res.RowsAffected > 0, nil
}

// DeleteAll removes every notification of the user.
func (r *Repository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&NotificationRecord{})
	if res.Error != nil {
		return 0, dbError(res.Error, "delete_all")
	}
	return res.RowsAffected, nil
}

// Preferences returns the stored preference set, or the defaults when the
// user has none yet.
func (r *Repository) Preferences(ctx context.Context, userID string) (*notification.Preferences, error) {
	var rec PreferencesRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notification.DefaultPreferences(), nil
	case err != nil:
		return nil, dbError(err, "get_preferences")
	}
	return notification.DecodePreferences([]byte(rec.Payload))
}

// SavePreferences replaces the user's preference set.
func (r *Repository) SavePreferences(ctx context.Context, userID string, prefs *notification.Preferences) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return errors.New(err).
			Component("devserver").
			Category(errors.CategoryValidation).
			Context("operation", "encode_preferences").
			Build()
	}
	rec := PreferencesRecord{UserID: userID, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return dbError(err, "put_preferences")
	}
	return nil
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("devserver").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
