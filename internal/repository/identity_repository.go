package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/faceponto/internal/logging"
)

// Identity is one enrolled (or enrolling) user. A record exists without a
// face encoding until the background enrollment job completes.
type Identity struct {
	UserID       string          `gorm:"column:user_id;primaryKey;size:64"`
	FaceEncoding json.RawMessage `gorm:"column:face_encoding;type:jsonb"`
	Email        string          `gorm:"column:email;size:255"`
	EnrolledAt   *time.Time      `gorm:"column:enrolled_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default table name.
func (Identity) TableName() string {
	return "identities"
}

// Descriptor decodes the stored face encoding. It returns nil without error
// when the identity has no descriptor yet.
func (i *Identity) Descriptor() ([]float64, error) {
	if len(i.FaceEncoding) == 0 {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal(i.FaceEncoding, &vec); err != nil {
		return nil, fmt.Errorf("decode face encoding: %w", err)
	}
	return vec, nil
}

// IdentityRepository provides persistence for identities.
type IdentityRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewIdentityRepository creates a new repository instance.
func NewIdentityRepository(db *gorm.DB, logger *zap.Logger) *IdentityRepository {
	return &IdentityRepository{
		db:             db,
		logger:         logger.Named("identity_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *IdentityRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Identity{})
}

// FindByUserID retrieves an identity, or nil when none exists.
func (r *IdentityRepository) FindByUserID(ctx context.Context, userID string) (*Identity, error) {
	var identity Identity
	err := r.executeWithRetry(ctx, "repository.find_identity", userID, func() error {
		return r.db.WithContext(ctx).First(&identity, "user_id = ?", userID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &identity, nil
}

// HasDescriptor reports whether the user has a stored face encoding.
func (r *IdentityRepository) HasDescriptor(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.has_descriptor", userID, func() error {
		return r.db.WithContext(ctx).
			Model(&Identity{}).
			Where("user_id = ? AND face_encoding IS NOT NULL", userID).
			Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetDescriptor stores the face encoding for a user, creating the record if
// needed. The update is conditional on the encoding still being absent, so a
// descriptor is written at most once per identity even under concurrent
// enrollments. Returns false when the user was already enrolled.
func (r *IdentityRepository) SetDescriptor(ctx context.Context, userID string, descriptor []float64, email string) (bool, error) {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return false, fmt.Errorf("encode descriptor: %w", err)
	}

	var updated bool
	err = r.executeWithRetry(ctx, "repository.set_descriptor", userID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Identity{UserID: userID, Email: email}).Error; err != nil {
				return err
			}

			now := time.Now().UTC()
			res := tx.Model(&Identity{}).
				Where("user_id = ? AND face_encoding IS NULL", userID).
				Updates(map[string]interface{}{
					"face_encoding": raw,
					"email":         email,
					"enrolled_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			updated = res.RowsAffected > 0
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (r *IdentityRepository) executeWithRetry(ctx context.Context, operation, userID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, userID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, userID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, userID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			return logging.NewOperationError(operation, userID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, userID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
