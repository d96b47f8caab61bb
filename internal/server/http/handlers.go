package httpserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/payload"
	"github.com/and161185/cc42-scan/internal/subscription"
)

func mealRef(c *gin.Context) model.MealRef {
	return model.MealRef{Campus: c.Param("campus"), Cursus: c.Param("cursus"), MealID: c.Param("meal")}
}

func eventRef(c *gin.Context) model.EventRef {
	return model.EventRef{Campus: c.Param("campus"), Cursus: c.Param("cursus"), EventID: c.Param("event")}
}

// subject is the student an endpoint acts for: staff may name one with ?student=,
// everybody else acts for themselves.
func subject(c *gin.Context) (studentID, createdBy string) {
	cl, _ := claimsOf(c)
	if s := c.Query("student"); s != "" && cl.Role == model.RoleStaff {
		return s, cl.IntraID
	}
	return cl.IntraID, ""
}

func (s *Server) qr(c *gin.Context, plain string, err error) {
	if err != nil {
		s.fail(c, "encode", fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err))
		return
	}
	code, ok := s.cipher.Encrypt(plain)
	if !ok {
		s.fail(c, "encrypt", fmt.Errorf("%w: not encryptable", errs.ErrInvalidArgument))
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (s *Server) eventCode(c *gin.Context) {
	cl, _ := claimsOf(c)
	plain, err := payload.EncodeEvent(c.Param("event"), cl.IntraID)
	s.qr(c, plain, err)
}

func (s *Server) mealCode(c *gin.Context) {
	cl, _ := claimsOf(c)
	plain, err := payload.EncodeMeal(c.Param("meal"), cl.IntraID)
	s.qr(c, plain, err)
}

func (s *Server) badge(c *gin.Context) {
	cl, _ := claimsOf(c)
	cursus := c.Query("cursus")
	if cursus == "" {
		abort(c, http.StatusBadRequest, "invalid_argument", "cursus is required")
		return
	}
	u, err := s.users.GetByID(c, cl.UserID)
	if err != nil {
		s.fail(c, "badge", err)
		return
	}
	plain, err := payload.EncodeBadge(model.Badge{
		StudentID:   u.IntraID,
		Login:       u.Login,
		DisplayName: u.DisplayName,
		CursusID:    cursus,
		CampusID:    u.CampusID,
		ImageURL:    u.ImageURL,
	})
	s.qr(c, plain, err)
}

func (s *Server) participant(c *gin.Context) {
	rec, err := s.participants.Participant(c, eventRef(c), c.Param("student"))
	if err != nil {
		s.fail(c, "participant", err)
		return
	}
	if rec == nil {
		abort(c, http.StatusNotFound, "not_found", "no attendance record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) setPolicy(c *gin.Context) {
	var p model.SecondPortionPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	if err := s.portions.SetSecondPortionPolicy(c, mealRef(c), p); err != nil {
		s.fail(c, "set policy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) claim(c *gin.Context) {
	sid, by := subject(c)
	p, err := s.portions.ClaimSecondPortion(c, subscription.ClaimRequest{
		Meal:      mealRef(c),
		StudentID: sid,
		CreatedBy: by,
	})
	if err != nil {
		s.fail(c, "claim", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) view(c *gin.Context) {
	sid, _ := subject(c)
	v, err := s.portions.SecondPortionView(c, mealRef(c), sid)
	if err != nil {
		s.fail(c, "view", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// stream pushes the second-portion view as server-sent events until the client leaves.
func (s *Server) stream(c *gin.Context) {
	sid, _ := subject(c)
	ctx := c.Request.Context()

	// latest wins: a slow client only ever sees the newest view
	views := make(chan model.SecondPortionView, 1)
	push := func(v model.SecondPortionView) {
		for {
			select {
			case views <- v:
				return
			default:
				select {
				case <-views:
				default:
				}
			}
		}
	}
	stop, err := s.portions.ObserveSecondPortion(ctx, mealRef(c), sid, push)
	if err != nil {
		s.fail(c, "stream", err)
		return
	}
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-views:
			c.SSEvent("view", v)
			return true
		}
	})
}
