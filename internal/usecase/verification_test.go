package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceponto/internal/face"
	"github.com/example/faceponto/internal/logging"
	"github.com/example/faceponto/internal/repository"
)

func identityWithDescriptor(t *testing.T, userID string, descriptor []float64) *repository.Identity {
	t.Helper()

	raw, err := json.Marshal(descriptor)
	if err != nil {
		t.Fatalf("failed to encode descriptor: %v", err)
	}
	return &repository.Identity{UserID: userID, FaceEncoding: raw}
}

func TestVerifyMatchProducesPonto(t *testing.T) {
	stored := []float64{0.1, 0.2, 0.3}
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", stored)}
	extractor := &stubExtractor{descriptor: face.Descriptor(stored)}
	uc := NewVerificationUseCase(repo, extractor, zap.NewNop(), 0, time.Second)
	uc.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	}

	outcome, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Matched {
		t.Fatal("expected a match")
	}
	if outcome.Distance != 0 {
		t.Fatalf("expected zero distance, got %f", outcome.Distance)
	}
	if outcome.Ponto == nil {
		t.Fatal("expected a ponto on match")
	}
	if outcome.Ponto.Status != DefaultStatus {
		t.Fatalf("expected default status %q, got %q", DefaultStatus, outcome.Ponto.Status)
	}
	if outcome.Ponto.Localizacao != DefaultLocalizacao {
		t.Fatalf("expected default localizacao %q, got %q", DefaultLocalizacao, outcome.Ponto.Localizacao)
	}
	if outcome.Ponto.DataHora != "2026-08-29 10:30:00" {
		t.Fatalf("unexpected data_hora: %q", outcome.Ponto.DataHora)
	}
}

func TestVerifyPassesThroughStatusAndLocation(t *testing.T) {
	stored := []float64{1, 2, 3}
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", stored)}
	uc := NewVerificationUseCase(repo, &stubExtractor{descriptor: face.Descriptor(stored)}, zap.NewNop(), 0, time.Second)

	outcome, err := uc.Verify(context.Background(), "user-1", []byte("img"), "saida", "filial centro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Ponto.Status != "saida" {
		t.Fatalf("unexpected status: %q", outcome.Ponto.Status)
	}
	if outcome.Ponto.Localizacao != "filial centro" {
		t.Fatalf("unexpected localizacao: %q", outcome.Ponto.Localizacao)
	}
}

func TestVerifyNoMatchIsNotAnError(t *testing.T) {
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", []float64{0, 0, 0})}
	uc := NewVerificationUseCase(repo, &stubExtractor{descriptor: face.Descriptor{3, 4, 0}}, zap.NewNop(), 0, time.Second)

	outcome, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Matched {
		t.Fatal("expected a non-match")
	}
	if outcome.Distance != 5 {
		t.Fatalf("expected distance 5, got %f", outcome.Distance)
	}
	if outcome.Ponto != nil {
		t.Fatal("no ponto should be produced for a non-match")
	}
}

func TestVerifyDistanceAtThresholdMatches(t *testing.T) {
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", []float64{0, 0, 0})}
	uc := NewVerificationUseCase(repo, &stubExtractor{descriptor: face.Descriptor{0.3, 0.4, 0}}, zap.NewNop(), 0, time.Second)

	outcome, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Matched {
		t.Fatalf("distance equal to the threshold should match, got distance %f", outcome.Distance)
	}
}

func TestVerifyUnknownUserReturnsNotEnrolled(t *testing.T) {
	extractor := &stubExtractor{}
	uc := NewVerificationUseCase(&stubIdentityRepo{}, extractor, zap.NewNop(), 0, time.Second)

	_, err := uc.Verify(context.Background(), "ghost", []byte("img"), "", "")
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	if extractor.calls != 0 {
		t.Fatal("extraction should not run for an unknown user")
	}
}

func TestVerifyRecordWithoutDescriptorReturnsNotEnrolled(t *testing.T) {
	repo := &stubIdentityRepo{identity: &repository.Identity{UserID: "user-1"}}
	uc := NewVerificationUseCase(repo, &stubExtractor{}, zap.NewNop(), 0, time.Second)

	_, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
}

func TestVerifyCorruptDescriptorReturnsOperationError(t *testing.T) {
	repo := &stubIdentityRepo{identity: &repository.Identity{
		UserID:       "user-1",
		FaceEncoding: json.RawMessage(`{"not": "a vector"`),
	}}
	uc := NewVerificationUseCase(repo, &stubExtractor{}, zap.NewNop(), 0, time.Second)

	_, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %v", err)
	}
}

func TestVerifyNoFaceErrorPropagatesTyped(t *testing.T) {
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", []float64{1, 2, 3})}
	extractor := &stubExtractor{err: &face.NoFaceError{Reason: "Nenhum rosto detectado na imagem"}}
	uc := NewVerificationUseCase(repo, extractor, zap.NewNop(), 0, time.Second)

	_, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	var noFace *face.NoFaceError
	if !errors.As(err, &noFace) {
		t.Fatalf("expected NoFaceError, got %v", err)
	}
}

func TestVerifyDescriptorLengthMismatchFails(t *testing.T) {
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", []float64{1, 2, 3})}
	uc := NewVerificationUseCase(repo, &stubExtractor{descriptor: face.Descriptor{1, 2}}, zap.NewNop(), 0, time.Second)

	if _, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", ""); err == nil {
		t.Fatal("expected an error for mismatched descriptor lengths")
	}
}

func TestVerifyCustomThreshold(t *testing.T) {
	repo := &stubIdentityRepo{identity: identityWithDescriptor(t, "user-1", []float64{0, 0})}
	uc := NewVerificationUseCase(repo, &stubExtractor{descriptor: face.Descriptor{0.6, 0}}, zap.NewNop(), 0.7, time.Second)

	outcome, err := uc.Verify(context.Background(), "user-1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Matched {
		t.Fatal("expected a match under the relaxed threshold")
	}
}
