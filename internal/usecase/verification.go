package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceponto/internal/face"
	"github.com/example/faceponto/internal/logging"
	"github.com/example/faceponto/internal/observability"
)

// ErrNotEnrolled means verification was attempted against a user with no
// stored descriptor.
var ErrNotEnrolled = errors.New("no face enrolled for user")

const (
	// DefaultStatus is assumed when the caller does not say whether the
	// probe is an entry or an exit.
	DefaultStatus = "entrada"
	// DefaultLocalizacao is the sentinel for an unreported location.
	DefaultLocalizacao = "não informada"

	pontoTimeLayout = "2006-01-02 15:04:05"
)

// Ponto is the attendance event produced by a successful verification. It is
// returned to the caller; persisting it is the boundary collaborator's job.
type Ponto struct {
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	Localizacao string `json:"localizacao"`
	DataHora    string `json:"data_hora"`
}

// Outcome is the result of comparing a probe against the stored descriptor.
// A non-match is a successful comparison with a negative result, not an
// error; Ponto is set only on match.
type Outcome struct {
	Matched  bool
	Distance float64
	Ponto    *Ponto
}

// VerificationUseCase runs the one-to-one face comparison flow.
type VerificationUseCase struct {
	repo           IdentityRepository
	extractor      face.Extractor
	logger         *zap.Logger
	threshold      float64
	extractTimeout time.Duration
	now            func() time.Time
}

// NewVerificationUseCase constructs a new use case instance. A non-positive
// threshold falls back to face.DefaultMatchThreshold.
func NewVerificationUseCase(repo IdentityRepository, extractor face.Extractor, logger *zap.Logger, threshold float64, extractTimeout time.Duration) *VerificationUseCase {
	if threshold <= 0 {
		threshold = face.DefaultMatchThreshold
	}
	if extractTimeout <= 0 {
		extractTimeout = 10 * time.Second
	}
	return &VerificationUseCase{
		repo:           repo,
		extractor:      extractor,
		logger:         logger.Named("verification_usecase"),
		threshold:      threshold,
		extractTimeout: extractTimeout,
		now:            time.Now,
	}
}

// Verify compares the probe image against the user's stored descriptor and
// applies the distance threshold.
func (uc *VerificationUseCase) Verify(ctx context.Context, userID string, image []byte, status, localizacao string) (*Outcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", userID)

	identity, err := uc.repo.FindByUserID(ctx, userID)
	if err != nil {
		opLogger.Error("identity lookup failed", zap.Error(err))
		return nil, err
	}
	if identity == nil {
		observability.VerificationsTotal.WithLabelValues("not_enrolled").Inc()
		return nil, ErrNotEnrolled
	}

	stored, err := identity.Descriptor()
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_descriptor", userID, err)
		opLogger.Error("stored descriptor is corrupt", zap.Error(wrapped))
		return nil, wrapped
	}
	if stored == nil {
		observability.VerificationsTotal.WithLabelValues("not_enrolled").Inc()
		return nil, ErrNotEnrolled
	}

	extractCtx, cancel := context.WithTimeout(ctx, uc.extractTimeout)
	defer cancel()

	probe, err := uc.extractor.Extract(extractCtx, image)
	if err != nil {
		var noFace *face.NoFaceError
		var badImage *face.DecodeError
		switch {
		case errors.As(err, &noFace):
			observability.VerificationsTotal.WithLabelValues("no_face").Inc()
		case errors.As(err, &badImage):
			observability.VerificationsTotal.WithLabelValues("decode_error").Inc()
		default:
			observability.VerificationsTotal.WithLabelValues("error").Inc()
			opLogger.Error("probe extraction failed", zap.Error(err))
		}
		return nil, err
	}

	if len(probe) != len(stored) {
		wrapped := logging.NewOperationError("usecase.compare", userID,
			fmt.Errorf("descriptor length mismatch: stored %d, probe %d", len(stored), len(probe)))
		opLogger.Error("descriptor dimensions diverge", zap.Error(wrapped))
		return nil, wrapped
	}

	distance := face.Distance(stored, probe)
	if distance > uc.threshold {
		observability.VerificationsTotal.WithLabelValues("no_match").Inc()
		opLogger.Info("face not recognized", zap.Float64("distance", distance))
		return &Outcome{Matched: false, Distance: distance}, nil
	}

	if status == "" {
		status = DefaultStatus
	}
	if localizacao == "" {
		localizacao = DefaultLocalizacao
	}

	observability.VerificationsTotal.WithLabelValues("match").Inc()
	opLogger.Info("face recognized", zap.Float64("distance", distance), zap.String("status", status))

	return &Outcome{
		Matched:  true,
		Distance: distance,
		Ponto: &Ponto{
			UserID:      userID,
			Status:      status,
			Localizacao: localizacao,
			DataHora:    uc.now().Format(pontoTimeLayout),
		},
	}, nil
}
