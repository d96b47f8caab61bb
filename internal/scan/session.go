// Package scan turns raw camera reads into exactly one committed transition and one modal.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/attendance"
	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/payload"
	"github.com/and161185/cc42-scan/internal/subscription"
)

// DefaultTimeout bounds one dispatched transition including store retries.
const DefaultTimeout = 15 * time.Second

// State is the session position in Idle -> Decoding -> Dispatched -> AwaitingDismiss.
type State int32

const (
	StateIdle State = iota
	StateDecoding
	StateDispatched
	StateAwaitingDismiss
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateDispatched:
		return "dispatched"
	case StateAwaitingDismiss:
		return "awaiting_dismiss"
	default:
		return "closed"
	}
}

// UI is the presentation surface driven by the session.
type UI interface {
	ShowModal(m model.Modal)
	SetLoading(on bool)
	// Leave navigates away from the scanning screen.
	Leave()
}

// Feedback fires device cues on every accepted scan.
type Feedback interface {
	Beep()
	Buzz()
}

// Decrypter opens encrypted QR payloads.
type Decrypter interface {
	Decrypt(ciphertext string) (string, bool)
}

// Attendance is the event engine used by the session.
type Attendance interface {
	CheckIn(ctx context.Context, r attendance.Request) error
	CheckOut(ctx context.Context, r attendance.Request) error
}

// Subscriptions is the meal engine used by the session.
type Subscriptions interface {
	Subscribe(ctx context.Context, r subscription.Request) error
}

// Deps groups the collaborators of a Session.
type Deps struct {
	UI            UI
	Feedback      Feedback
	Cipher        Decrypter
	Attendance    Attendance
	Subscriptions Subscriptions
	Log           *zap.Logger
	Timeout       time.Duration
}

// Session serialises scans of one scanning screen.
type Session struct {
	d     Deps
	id    string
	state atomic.Int32
}

// NewSession starts a session in StateIdle.
func NewSession(d Deps) *Session {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	id := uuid.Must(uuid.NewV4()).String()
	d.Log = d.Log.With(zap.String("session", id))
	return &Session{d: d, id: id}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) set(st State) { s.state.Store(int32(st)) }

// Handle accepts one raw camera read. It never blocks: reads arriving while a
// previous one is still being processed or shown are dropped.
func (s *Session) Handle(raw string, sc model.ScanContext) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateDecoding)) {
		s.d.Log.Debug("scan dropped", zap.Stringer("state", s.State()))
		return
	}
	s.d.Feedback.Beep()
	s.d.Feedback.Buzz()
	go s.process(raw, sc)
}

func (s *Session) process(raw string, sc model.ScanContext) {
	cmd, err := s.decode(raw, sc)
	if err != nil {
		s.d.Log.Info("invalid scan")
		s.present(outcome{Title: "Invalid code", Err: err})
		return
	}

	s.set(StateDispatched)
	s.d.UI.SetLoading(true)
	ctx, cancel := context.WithTimeout(context.Background(), s.d.Timeout)
	start := time.Now()
	out := s.dispatch(ctx, cmd, sc)
	cancel()
	s.d.UI.SetLoading(false)

	s.d.Log.Info("scan dispatched",
		zap.String("command", fmt.Sprintf("%T", cmd)),
		zap.Duration("dur", time.Since(start)),
		zap.Stringer("severity", out.severity()),
		zap.Error(out.Err),
	)
	s.present(out)
}

func (s *Session) decode(raw string, sc model.ScanContext) (model.Command, error) {
	plain, ok := s.d.Cipher.Decrypt(raw)
	if !ok {
		return nil, errs.ErrInvalidToken
	}
	return payload.Decode(plain, payload.ContextOf(sc))
}

func (s *Session) present(o outcome) {
	sev := o.severity()
	s.set(StateAwaitingDismiss)
	s.d.UI.ShowModal(model.Modal{
		Title:     o.Title,
		Message:   o.message(),
		Severity:  sev,
		Color:     sev.Color(),
		AvatarURL: o.Avatar,
		OnClose: func() {
			if sev == model.SeveritySuccess {
				s.set(StateClosed)
				s.d.UI.Leave()
				return
			}
			s.set(StateIdle)
		},
	})
}

// outcome is the result of one scan before it becomes a modal.
type outcome struct {
	Title   string
	Success string // message on success
	Person  string // display name prefixed to failures
	Avatar  string
	Err     error
}

func (o outcome) severity() model.Severity {
	var rej *errs.Rejection
	switch {
	case o.Err == nil:
		return model.SeveritySuccess
	case errors.As(o.Err, &rej):
		return model.SeverityWarning
	default:
		return model.SeverityError
	}
}

func (o outcome) message() string {
	switch {
	case o.Err == nil:
		return o.Success
	case o.Person != "":
		return o.Person + ": " + o.Err.Error()
	default:
		return o.Err.Error()
	}
}

func (s *Session) dispatch(ctx context.Context, cmd model.Command, sc model.ScanContext) outcome {
	switch c := cmd.(type) {
	case model.EventStaticCheckin:
		req := attendance.Request{
			Campus: sc.Campus, Cursus: sc.Cursus, EventID: c.EventID,
			StudentID: sc.Operator.ID, RegisteredBy: c.StaffID, Person: sc.Operator,
		}
		return s.attend(ctx, req, sc.Action)

	case model.EventBadgeScan:
		if !sameCampus(c.Badge, sc) {
			return outcome{Title: "Invalid code", Err: errs.ErrInvalidToken}
		}
		req := attendance.Request{
			Campus: sc.Campus, Cursus: sc.Cursus, EventID: sc.EventID,
			StudentID: c.Badge.StudentID, RegisteredBy: sc.Operator.ID, Person: c.Badge.Person(),
		}
		return s.attend(ctx, req, sc.Action)

	case model.MealStaticSubscribe:
		req := subscription.Request{
			Campus: sc.Campus, Cursus: sc.Cursus, MealIDs: []string{c.MealID},
			StudentID: sc.Operator.ID, CreatedBy: c.StaffID,
			Portion: sc.Portion, Quantity: sc.Quantity, Person: sc.Operator,
		}
		return s.subscribe(ctx, req)

	case model.MealBadgeScan:
		if !sameCampus(c.Badge, sc) {
			return outcome{Title: "Invalid code", Err: errs.ErrInvalidToken}
		}
		req := subscription.Request{
			Campus: sc.Campus, Cursus: sc.Cursus, MealIDs: sc.MealIDs,
			StudentID: c.Badge.StudentID, CreatedBy: sc.Operator.ID,
			Portion: sc.Portion, Quantity: sc.Quantity, Person: c.Badge.Person(),
		}
		return s.subscribe(ctx, req)

	case model.Identify:
		p := c.Badge.Person()
		return outcome{
			Title:   p.Name(),
			Success: fmt.Sprintf("%s (%s), cursus %s, campus %s", p.Name(), c.Badge.Login, c.Badge.CursusID, c.Badge.CampusID),
			Avatar:  p.ImageURL,
		}
	}
	return outcome{Title: "Invalid code", Err: errs.ErrInvalidToken}
}

func (s *Session) attend(ctx context.Context, r attendance.Request, a model.AttendanceAction) outcome {
	o := outcome{Person: r.Person.Name(), Avatar: r.Person.ImageURL}
	if a == model.ActionCheckOut {
		o.Err = s.d.Attendance.CheckOut(ctx, r)
		o.Title, o.Success = "Check-out", r.Person.Name()+" checked out"
	} else {
		o.Err = s.d.Attendance.CheckIn(ctx, r)
		o.Title, o.Success = "Check-in", r.Person.Name()+" checked in"
	}
	if o.Err != nil && o.severity() == model.SeverityError {
		o.Title = "Error"
	}
	return o
}

func (s *Session) subscribe(ctx context.Context, r subscription.Request) outcome {
	o := outcome{Person: r.Person.Name(), Avatar: r.Person.ImageURL, Err: s.d.Subscriptions.Subscribe(ctx, r)}
	o.Title = "Meal"
	o.Success = fmt.Sprintf("%s received the %s portion", r.Person.Name(), r.Portion)
	if o.Err != nil && o.severity() == model.SeverityError {
		o.Title = "Error"
	}
	return o
}

// sameCampus rejects badges issued by another campus; an empty badge campus is accepted.
func sameCampus(b model.Badge, sc model.ScanContext) bool {
	return b.CampusID == "" || sc.Campus == "" || b.CampusID == sc.Campus
}
