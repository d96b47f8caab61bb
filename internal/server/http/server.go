// Package httpserver exposes the staff dashboard and student endpoints over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/repository"
	"github.com/and161185/cc42-scan/internal/subscription"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (model.Claims, error)
}

// SecondPortions is the meal engine surface used by the API.
type SecondPortions interface {
	SetSecondPortionPolicy(ctx context.Context, ref model.MealRef, p model.SecondPortionPolicy) error
	ClaimSecondPortion(ctx context.Context, r subscription.ClaimRequest) (model.SecondPortionPolicy, error)
	SecondPortionView(ctx context.Context, ref model.MealRef, studentID string) (model.SecondPortionView, error)
	ObserveSecondPortion(ctx context.Context, ref model.MealRef, studentID string, fn func(model.SecondPortionView)) (func(), error)
}

// Participants reads attendance records.
type Participants interface {
	Participant(ctx context.Context, ev model.EventRef, studentID string) (*model.ParticipantRecord, error)
}

// Encrypter produces QR token ciphertext.
type Encrypter interface {
	Encrypt(plaintext string) (string, bool)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Auth         TokenVerifier
	Users        repository.UserRepository
	Portions     SecondPortions
	Participants Participants
	Cipher       Encrypter
	Log          *zap.Logger

	AllowOrigins []string
}

// Server holds the handlers.
type Server struct {
	auth         TokenVerifier
	users        repository.UserRepository
	portions     SecondPortions
	participants Participants
	cipher       Encrypter
	log          *zap.Logger
	origins      []string
}

// New constructs the HTTP API.
func New(d Deps) *Server {
	return &Server{
		auth:         d.Auth,
		users:        d.Users,
		portions:     d.Portions,
		participants: d.Participants,
		cipher:       d.Cipher,
		log:          d.Log,
		origins:      d.AllowOrigins,
	}
}

// Router builds the gin engine with every route attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.accessLog(), gin.Recovery())

	cfg := cors.DefaultConfig()
	if len(s.origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
	})

	v1 := r.Group("/v1", s.authenticate())
	v1.GET("/me/badge", s.badge)

	cursus := v1.Group("/campus/:campus/cursus/:cursus", s.sameCampus())
	{
		cursus.GET("/events/:event/code", s.staffOnly(), s.eventCode)
		cursus.GET("/events/:event/participants/:student", s.staffOnly(), s.participant)

		cursus.GET("/meals/:meal/code", s.staffOnly(), s.mealCode)
		cursus.PUT("/meals/:meal/second-portion", s.staffOnly(), s.setPolicy)
		cursus.POST("/meals/:meal/second-portion/claim", s.claim)
		cursus.GET("/meals/:meal/second-portion/view", s.view)
		cursus.GET("/meals/:meal/second-portion/stream", s.stream)
	}
	return r
}
