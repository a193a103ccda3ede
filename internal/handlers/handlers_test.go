package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/example/faceponto/internal/auth"
	"github.com/example/faceponto/internal/face"
	"github.com/example/faceponto/internal/queue"
	"github.com/example/faceponto/internal/usecase"
)

type stubEnroller struct {
	status      usecase.EnrollmentStatus
	enrollErr   error
	enrolled    bool
	enrolledErr error
	lastFailure string

	gotUserID string
	gotImage  []byte
	gotEmail  string
}

func (s *stubEnroller) Enroll(ctx context.Context, userID string, image []byte, email string) (usecase.EnrollmentStatus, error) {
	s.gotUserID = userID
	s.gotImage = image
	s.gotEmail = email
	return s.status, s.enrollErr
}

func (s *stubEnroller) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	return s.enrolled, s.enrolledErr
}

func (s *stubEnroller) LastFailure(ctx context.Context, userID string) string {
	return s.lastFailure
}

type stubVerifier struct {
	outcome *usecase.Outcome
	err     error

	gotUserID      string
	gotStatus      string
	gotLocalizacao string
}

func (s *stubVerifier) Verify(ctx context.Context, userID string, image []byte, status, localizacao string) (*usecase.Outcome, error) {
	s.gotUserID = userID
	s.gotStatus = status
	s.gotLocalizacao = localizacao
	return s.outcome, s.err
}

func newTestRouter(enroller Enroller, verifier Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, enroller, verifier, auth.JWTMiddleware("", ""))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func imagePayload() string {
	return base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&stubEnroller{}, &stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnrollMissingFields(t *testing.T) {
	router := newTestRouter(&stubEnroller{}, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{"user_id": "user-1"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Campos obrigatórios ausentes" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestEnrollInvalidBase64(t *testing.T) {
	router := newTestRouter(&stubEnroller{}, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{"user_id": "user-1", "image": "not!!valid@@base64"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Imagem em base64 inválida" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestEnrollAccepted(t *testing.T) {
	enroller := &stubEnroller{status: usecase.StatusAccepted}
	router := newTestRouter(enroller, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{"user_id": "user-1", "image": imagePayload(), "email": "joao@example.com"})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Processamento iniciado!" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if enroller.gotUserID != "user-1" || enroller.gotEmail != "joao@example.com" {
		t.Fatalf("request fields not passed through: %q %q", enroller.gotUserID, enroller.gotEmail)
	}
	if string(enroller.gotImage) != "fake image bytes" {
		t.Fatalf("image was not decoded: %q", enroller.gotImage)
	}
}

func TestEnrollStripsDataURIHeader(t *testing.T) {
	enroller := &stubEnroller{status: usecase.StatusAccepted}
	router := newTestRouter(enroller, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{
		"user_id": "user-1",
		"image":   "data:image/jpeg;base64," + imagePayload(),
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if string(enroller.gotImage) != "fake image bytes" {
		t.Fatalf("data-URI payload was not decoded: %q", enroller.gotImage)
	}
}

func TestEnrollAlreadyEnrolled(t *testing.T) {
	router := newTestRouter(&stubEnroller{status: usecase.StatusAlreadyEnrolled}, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{"user_id": "user-1", "image": imagePayload()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Rosto já cadastrado!" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestEnrollQueueFull(t *testing.T) {
	router := newTestRouter(&stubEnroller{enrollErr: queue.ErrQueueFull}, &stubVerifier{})

	rec := postJSON(t, router, "/enroll", gin.H{"user_id": "user-1", "image": imagePayload()})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Serviço ocupado, tente novamente" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestVerifyMatch(t *testing.T) {
	verifier := &stubVerifier{outcome: &usecase.Outcome{
		Matched:  true,
		Distance: 0.31,
		Ponto: &usecase.Ponto{
			UserID:      "user-1",
			Status:      "entrada",
			Localizacao: "não informada",
			DataHora:    "2026-08-29 10:30:00",
		},
	}}
	router := newTestRouter(&stubEnroller{}, verifier)

	rec := postJSON(t, router, "/verify", gin.H{"user_id": "user-1", "image": imagePayload()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["Encontrado"] != true {
		t.Fatalf("expected Encontrado=true, got %v", body["Encontrado"])
	}
	if body["distance"] != 0.31 {
		t.Fatalf("unexpected distance: %v", body["distance"])
	}
	ponto, ok := body["ponto"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected ponto object, got %v", body["ponto"])
	}
	if ponto["user_id"] != "user-1" || ponto["status"] != "entrada" || ponto["localizacao"] != "não informada" || ponto["data_hora"] != "2026-08-29 10:30:00" {
		t.Fatalf("unexpected ponto: %v", ponto)
	}
}

func TestVerifyNonMatch(t *testing.T) {
	verifier := &stubVerifier{outcome: &usecase.Outcome{Matched: false, Distance: 0.82}}
	router := newTestRouter(&stubEnroller{}, verifier)

	rec := postJSON(t, router, "/verify", gin.H{"user_id": "user-1", "image": imagePayload()})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["match"] != false {
		t.Fatalf("expected match=false, got %v", body["match"])
	}
	if body["distance"] != 0.82 {
		t.Fatalf("unexpected distance: %v", body["distance"])
	}
	if body["error"] != "Rosto não reconhecido" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestVerifyNotEnrolled(t *testing.T) {
	router := newTestRouter(&stubEnroller{}, &stubVerifier{err: usecase.ErrNotEnrolled})

	rec := postJSON(t, router, "/verify", gin.H{"user_id": "ghost", "image": imagePayload()})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Usuário sem rosto cadastrado" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestVerifyNoFace(t *testing.T) {
	router := newTestRouter(&stubEnroller{}, &stubVerifier{err: &face.NoFaceError{Reason: "Nenhum rosto detectado na imagem"}})

	rec := postJSON(t, router, "/verify", gin.H{"user_id": "user-1", "image": imagePayload()})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Nenhum rosto detectado na imagem" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestVerifyPassesStatusAndLocation(t *testing.T) {
	verifier := &stubVerifier{outcome: &usecase.Outcome{Matched: false, Distance: 1}}
	router := newTestRouter(&stubEnroller{}, verifier)

	postJSON(t, router, "/verify", gin.H{
		"user_id":     "user-1",
		"image":       imagePayload(),
		"status":      "saida",
		"localizacao": "filial centro",
	})

	if verifier.gotStatus != "saida" || verifier.gotLocalizacao != "filial centro" {
		t.Fatalf("fields not passed through: %q %q", verifier.gotStatus, verifier.gotLocalizacao)
	}
}

func TestCheckEnrolledTrue(t *testing.T) {
	router := newTestRouter(&stubEnroller{enrolled: true}, &stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/check-enrolled/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["enrolled"] != true {
		t.Fatalf("expected enrolled=true, got %v", body["enrolled"])
	}
	if _, present := body["last_error"]; present {
		t.Fatal("last_error should be absent for an enrolled user")
	}
}

func TestCheckEnrolledFalseWithFailureReason(t *testing.T) {
	router := newTestRouter(&stubEnroller{enrolled: false, lastFailure: "Nenhum rosto detectado na imagem"}, &stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/check-enrolled/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["enrolled"] != false {
		t.Fatalf("expected enrolled=false, got %v", body["enrolled"])
	}
	if body["last_error"] != "Nenhum rosto detectado na imagem" {
		t.Fatalf("unexpected last_error: %v", body["last_error"])
	}
}

func TestDecodeImagePayload(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello"))

	plain, err := decodeImagePayload(encoded)
	if err != nil || string(plain) != "hello" {
		t.Fatalf("plain payload: %q, %v", plain, err)
	}

	withHeader, err := decodeImagePayload("data:image/png;base64," + encoded)
	if err != nil || string(withHeader) != "hello" {
		t.Fatalf("data-URI payload: %q, %v", withHeader, err)
	}

	if _, err := decodeImagePayload("!!not base64!!"); err == nil {
		t.Fatal("expected an error for invalid base64")
	}
}
