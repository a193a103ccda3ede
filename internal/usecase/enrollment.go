package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceponto/internal/face"
	"github.com/example/faceponto/internal/logging"
	"github.com/example/faceponto/internal/observability"
	"github.com/example/faceponto/internal/queue"
	"github.com/example/faceponto/internal/repository"
)

// IdentityRepository defines the persistence operations needed by the
// workflows.
type IdentityRepository interface {
	FindByUserID(ctx context.Context, userID string) (*repository.Identity, error)
	HasDescriptor(ctx context.Context, userID string) (bool, error)
	SetDescriptor(ctx context.Context, userID string, descriptor []float64, email string) (bool, error)
}

// Submitter schedules background work keyed by user.
type Submitter interface {
	Submit(key string, job queue.Job) error
}

// EnrollmentStatus is the synchronous answer to an enroll request.
type EnrollmentStatus string

const (
	// StatusAccepted means background extraction was scheduled. Enrollment
	// is initiated, not completed; clients observe completion through the
	// status query or a later verify.
	StatusAccepted EnrollmentStatus = "accepted"
	// StatusAlreadyEnrolled means the user already has a descriptor. The
	// request is a success no-op; nothing is recomputed or overwritten.
	StatusAlreadyEnrolled EnrollmentStatus = "already_enrolled"
)

const (
	enrolledKeyPrefix    = "enrolled:"
	enrollErrorKeyPrefix = "enroll:error:"
	enrolledCacheTTL     = 24 * time.Hour
	enrollErrorTTL       = 24 * time.Hour
	cacheWriteTimeout    = 5 * time.Second
)

// EnrollmentUseCase orchestrates the enroll flow: idempotency check, then
// asynchronous extraction and persistence.
type EnrollmentUseCase struct {
	repo           IdentityRepository
	cache          Cache
	extractor      face.Extractor
	pool           Submitter
	logger         *zap.Logger
	extractTimeout time.Duration
}

// NewEnrollmentUseCase constructs a new use case instance.
func NewEnrollmentUseCase(repo IdentityRepository, cache Cache, extractor face.Extractor, pool Submitter, logger *zap.Logger, extractTimeout time.Duration) *EnrollmentUseCase {
	if extractTimeout <= 0 {
		extractTimeout = 10 * time.Second
	}
	return &EnrollmentUseCase{
		repo:           repo,
		cache:          cache,
		extractor:      extractor,
		pool:           pool,
		logger:         logger.Named("enrollment_usecase"),
		extractTimeout: extractTimeout,
	}
}

// Enroll checks whether the user already has a descriptor and otherwise
// schedules extraction and persistence in the background. An empty email is
// replaced with a freshly generated unique token.
func (uc *EnrollmentUseCase) Enroll(ctx context.Context, userID string, image []byte, email string) (EnrollmentStatus, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", userID)

	if email == "" {
		email = uuid.NewString()
	}

	enrolled, err := uc.repo.HasDescriptor(ctx, userID)
	if err != nil {
		opLogger.Error("enrollment lookup failed", zap.Error(err))
		return "", err
	}
	if enrolled {
		observability.EnrollmentsTotal.WithLabelValues("already_enrolled").Inc()
		return StatusAlreadyEnrolled, nil
	}

	err = uc.pool.Submit(userID, func(jobCtx context.Context) {
		uc.processEnrollment(jobCtx, userID, image, email)
	})
	if err != nil {
		observability.EnrollmentsTotal.WithLabelValues("rejected").Inc()
		opLogger.Warn("enrollment not scheduled", zap.Error(err))
		return "", err
	}

	observability.EnrollmentsTotal.WithLabelValues("accepted").Inc()
	return StatusAccepted, nil
}

// processEnrollment runs on a pool worker, outside any request.
func (uc *EnrollmentUseCase) processEnrollment(ctx context.Context, userID string, image []byte, email string) {
	opLogger := logging.WithOperation(uc.logger, "usecase.process_enrollment", userID)

	extractCtx, cancel := context.WithTimeout(ctx, uc.extractTimeout)
	defer cancel()

	descriptor, err := uc.extractor.Extract(extractCtx, image)
	if err != nil {
		uc.recordFailure(ctx, userID, err, opLogger)
		return
	}

	updated, err := uc.repo.SetDescriptor(ctx, userID, descriptor, email)
	if err != nil {
		observability.EnrollmentsTotal.WithLabelValues("error").Inc()
		opLogger.Error("failed to persist descriptor", zap.Error(err))
		uc.cacheFailureReason(ctx, userID, "Erro ao salvar cadastro facial")
		return
	}
	if !updated {
		// Another enrollment won the race; the stored descriptor stands.
		observability.EnrollmentsTotal.WithLabelValues("already_enrolled").Inc()
		opLogger.Info("descriptor already present, keeping existing enrollment")
	} else {
		observability.EnrollmentsTotal.WithLabelValues("completed").Inc()
		opLogger.Info("enrollment completed", zap.Int("descriptor_dim", len(descriptor)))
	}

	cacheCtx, cacheCancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cacheCancel()
	if err := uc.cache.Set(cacheCtx, enrolledKeyPrefix+userID, "true", enrolledCacheTTL); err != nil {
		opLogger.Warn("failed to cache enrollment status", zap.Error(err))
	}
	if err := uc.cache.Del(cacheCtx, enrollErrorKeyPrefix+userID); err != nil {
		opLogger.Warn("failed to clear enrollment failure", zap.Error(err))
	}
}

func (uc *EnrollmentUseCase) recordFailure(ctx context.Context, userID string, err error, opLogger *zap.Logger) {
	var (
		noFace    *face.NoFaceError
		badImage  *face.DecodeError
		reason    string
		resultLbl string
	)
	switch {
	case errors.As(err, &noFace):
		reason = noFace.Reason
		resultLbl = "no_face"
	case errors.As(err, &badImage):
		reason = "Erro ao processar imagem"
		resultLbl = "decode_error"
	default:
		reason = "Erro ao processar imagem"
		resultLbl = "error"
	}

	observability.EnrollmentsTotal.WithLabelValues(resultLbl).Inc()
	opLogger.Warn("background enrollment failed", zap.String("result", resultLbl), zap.Error(err))
	uc.cacheFailureReason(ctx, userID, reason)
}

// cacheFailureReason keeps the latest async failure visible to the status
// query, since the enroll request itself already returned 202.
func (uc *EnrollmentUseCase) cacheFailureReason(ctx context.Context, userID, reason string) {
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := uc.cache.Set(cacheCtx, enrollErrorKeyPrefix+userID, reason, enrollErrorTTL); err != nil {
		uc.logger.Warn("failed to cache enrollment failure", zap.String("user_id", userID), zap.Error(err))
	}
}

// IsEnrolled reports whether the user has a stored descriptor, consulting
// the cache before the store.
func (uc *EnrollmentUseCase) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	if value, err := uc.cache.Get(ctx, enrolledKeyPrefix+userID); err == nil {
		if value == "true" {
			return true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		uc.logger.Warn("failed to read enrollment cache", zap.String("user_id", userID), zap.Error(err))
	}

	enrolled, err := uc.repo.HasDescriptor(ctx, userID)
	if err != nil {
		return false, err
	}
	if enrolled {
		if err := uc.cache.Set(ctx, enrolledKeyPrefix+userID, "true", enrolledCacheTTL); err != nil {
			uc.logger.Warn("failed to backfill enrollment cache", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return enrolled, nil
}

// LastFailure returns the most recent background enrollment failure reason
// for the user, or empty when none is recorded.
func (uc *EnrollmentUseCase) LastFailure(ctx context.Context, userID string) string {
	value, err := uc.cache.Get(ctx, enrollErrorKeyPrefix+userID)
	if err != nil {
		return ""
	}
	return value
}
