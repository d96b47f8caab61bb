// Package attendance applies check-in and check-out transitions to event participants.
//
// A participant moves NoRecord -> CheckedIn -> CheckedOut and never back. The engine
// reads the event once and commits with a single multi-path update; two devices
// scanning the same badge at the same instant may both pass the read check, in
// which case the later write wins with identical content.
package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/store"
	"github.com/and161185/cc42-scan/internal/tree"
)

// Request identifies one attendance transition.
type Request struct {
	Campus       string
	Cursus       string
	EventID      string
	StudentID    string
	RegisteredBy string       // staff id, or the student id on a static check-in
	Person       model.Person // scanned person, copied into the campus notifier
}

func (r Request) event() model.EventRef {
	return model.EventRef{Campus: r.Campus, Cursus: r.Cursus, EventID: r.EventID}
}

// Engine validates and commits attendance transitions.
type Engine struct {
	st  store.Store
	log *zap.Logger
	now func() time.Time
}

// New constructs an Engine.
func New(st store.Store, log *zap.Logger) *Engine {
	return &Engine{st: st, log: log, now: time.Now}
}

// event is the part of an event subtree the engine looks at.
type event struct {
	Participants map[string]model.ParticipantRecord `json:"participants"`
}

func (e *Engine) load(ctx context.Context, r Request) (model.ParticipantRecord, error) {
	if r.Campus == "" || r.Cursus == "" || r.EventID == "" || r.StudentID == "" {
		return model.ParticipantRecord{}, errs.ErrInvalidToken
	}
	raw, err := e.st.Get(ctx, r.event().Path())
	if err != nil {
		return model.ParticipantRecord{}, fmt.Errorf("read event: %w", err)
	}
	if raw == nil {
		return model.ParticipantRecord{}, errs.ErrEventNotFound
	}
	var ev event
	if err := tree.Decode(raw, &ev); err != nil {
		return model.ParticipantRecord{}, fmt.Errorf("decode event %s: %w", r.EventID, err)
	}
	return ev.Participants[r.StudentID], nil
}

// CheckIn records the first arrival of a student. Legal only from NoRecord.
func (e *Engine) CheckIn(ctx context.Context, r Request) error {
	rec, err := e.load(ctx, r)
	if err != nil {
		return err
	}
	if rec.Checkin != nil {
		return errs.ErrAlreadyCheckedIn
	}
	now := e.now().UnixMilli()
	rec = model.ParticipantRecord{Checkin: &now, RegisteredBy: r.RegisteredBy}
	return e.commit(ctx, r, rec, model.ActionCheckIn, now)
}

// CheckOut records departure. Legal only from CheckedIn; checkin is preserved.
func (e *Engine) CheckOut(ctx context.Context, r Request) error {
	rec, err := e.load(ctx, r)
	if err != nil {
		return err
	}
	switch {
	case rec.Checkin == nil:
		return errs.ErrNotCheckedIn
	case rec.Checkout != nil:
		return errs.ErrAlreadyCheckedOut
	}
	now := e.now().UnixMilli()
	rec.Checkout = &now
	rec.RegisteredBy = r.RegisteredBy
	return e.commit(ctx, r, rec, model.ActionCheckOut, now)
}

func (e *Engine) commit(ctx context.Context, r Request, rec model.ParticipantRecord, a model.AttendanceAction, at int64) error {
	notice := model.ScanNotice{
		Kind:        "event",
		TargetID:    r.EventID,
		Action:      a.String(),
		StudentID:   r.StudentID,
		Login:       r.Person.Login,
		DisplayName: r.Person.DisplayName,
		ImageURL:    r.Person.ImageURL,
		At:          at,
	}
	err := e.st.Update(ctx, map[string]any{
		r.event().ParticipantPath(r.StudentID): rec,
		model.NotifierPath(r.Campus):           notice,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	e.log.Info("attendance",
		zap.String("event", r.EventID),
		zap.String("student", r.StudentID),
		zap.String("action", a.String()),
		zap.String("by", r.RegisteredBy),
	)
	return nil
}

// Participant returns the stored record of a student, or nil when there is none.
func (e *Engine) Participant(ctx context.Context, ev model.EventRef, studentID string) (*model.ParticipantRecord, error) {
	raw, err := e.st.Get(ctx, ev.ParticipantPath(studentID))
	if err != nil || raw == nil {
		return nil, err
	}
	var rec model.ParticipantRecord
	if err := tree.Decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
