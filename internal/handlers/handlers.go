package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/faceponto/internal/face"
	"github.com/example/faceponto/internal/queue"
	"github.com/example/faceponto/internal/usecase"
)

// Enroller is the enrollment surface consumed by the HTTP boundary.
type Enroller interface {
	Enroll(ctx context.Context, userID string, image []byte, email string) (usecase.EnrollmentStatus, error)
	IsEnrolled(ctx context.Context, userID string) (bool, error)
	LastFailure(ctx context.Context, userID string) string
}

// Verifier is the verification surface consumed by the HTTP boundary.
type Verifier interface {
	Verify(ctx context.Context, userID string, image []byte, status, localizacao string) (*usecase.Outcome, error)
}

type enrollRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Image  string `json:"image" binding:"required"`
	Email  string `json:"email"`
}

type verifyRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Image       string `json:"image" binding:"required"`
	Status      string `json:"status"`
	Localizacao string `json:"localizacao"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, enroller Enroller, verifier Verifier, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/")
	authed.Use(authMiddleware)

	authed.POST("/enroll", func(c *gin.Context) {
		var req enrollRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Campos obrigatórios ausentes"})
			return
		}

		image, err := decodeImagePayload(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Imagem em base64 inválida"})
			return
		}

		status, err := enroller.Enroll(c.Request.Context(), req.UserID, image, req.Email)
		if err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Serviço ocupado, tente novamente"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro ao cadastrar rosto"})
			return
		}

		if status == usecase.StatusAlreadyEnrolled {
			c.JSON(http.StatusOK, gin.H{"message": "Rosto já cadastrado!"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Processamento iniciado!"})
	})

	authed.POST("/verify", func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Campos obrigatórios ausentes"})
			return
		}

		image, err := decodeImagePayload(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Imagem em base64 inválida"})
			return
		}

		outcome, err := verifier.Verify(c.Request.Context(), req.UserID, image, req.Status, req.Localizacao)
		if err != nil {
			writeVerifyError(c, err)
			return
		}

		if !outcome.Matched {
			c.JSON(http.StatusUnauthorized, gin.H{
				"match":    false,
				"distance": outcome.Distance,
				"error":    "Rosto não reconhecido",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"Encontrado": true,
			"distance":   outcome.Distance,
			"ponto":      outcome.Ponto,
		})
	})

	authed.GET("/check-enrolled/:user_id", func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id é obrigatório"})
			return
		}

		enrolled, err := enroller.IsEnrolled(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro ao verificar cadastro"})
			return
		}

		resp := gin.H{"enrolled": enrolled}
		if !enrolled {
			if reason := enroller.LastFailure(c.Request.Context(), userID); reason != "" {
				resp["last_error"] = reason
			}
		}
		c.JSON(http.StatusOK, resp)
	})
}

func writeVerifyError(c *gin.Context, err error) {
	var noFace *face.NoFaceError
	var badImage *face.DecodeError
	switch {
	case errors.Is(err, usecase.ErrNotEnrolled):
		c.JSON(http.StatusNotFound, gin.H{"error": "Usuário sem rosto cadastrado"})
	case errors.As(err, &noFace):
		c.JSON(http.StatusBadRequest, gin.H{"error": noFace.Reason})
	case errors.As(err, &badImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Erro ao processar imagem"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno"})
	}
}

// decodeImagePayload decodes a base64 image, tolerating a data-URI header
// ("data:image/jpeg;base64,...") before the payload.
func decodeImagePayload(payload string) ([]byte, error) {
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
}
