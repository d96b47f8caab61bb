// Package subscription records meal portions handed out to students.
//
// The first portion is unlimited and written with one fan-out update. The second
// portion is a limited pool claimed through an optimistic store transaction, so
// concurrent devices can never hand out more slots than staff configured.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/store"
	"github.com/and161185/cc42-scan/internal/tree"
)

// Request identifies one subscription scan.
type Request struct {
	Campus    string
	Cursus    string
	MealIDs   []string // every meal open on the scanning screen
	StudentID string
	CreatedBy string
	Portion   model.Portion
	Quantity  int
	Person    model.Person
}

func (r Request) meal(id string) model.MealRef {
	return model.MealRef{Campus: r.Campus, Cursus: r.Cursus, MealID: id}
}

// ClaimRequest reserves one second-portion slot of a meal.
type ClaimRequest struct {
	Meal      model.MealRef
	StudentID string
	CreatedBy string
}

// Engine validates and commits subscription transitions.
type Engine struct {
	st  store.Store
	log *zap.Logger
	now func() time.Time
}

// New constructs an Engine.
func New(st store.Store, log *zap.Logger) *Engine {
	return &Engine{st: st, log: log, now: time.Now}
}

// meal is the part of a meal subtree the engine looks at.
type meal struct {
	SecondPortion model.SecondPortionPolicy           `json:"secondPortion"`
	Subscriptions map[string]model.SubscriptionRecord `json:"subscriptions"`
}

func (e *Engine) readMeal(ctx context.Context, ref model.MealRef) (*meal, error) {
	raw, err := e.st.Get(ctx, ref.Path())
	if err != nil {
		return nil, fmt.Errorf("read meal: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var m meal
	if err := tree.Decode(raw, &m); err != nil {
		return nil, fmt.Errorf("decode meal %s: %w", ref.MealID, err)
	}
	return &m, nil
}

// Subscribe applies a first or second portion scan.
func (e *Engine) Subscribe(ctx context.Context, r Request) error {
	r.MealIDs = dedupe(r.MealIDs)
	if r.Campus == "" || r.Cursus == "" || r.StudentID == "" || len(r.MealIDs) == 0 {
		return errs.ErrInvalidToken
	}
	if r.Quantity <= 0 {
		r.Quantity = 1
	}
	if r.Portion == model.PortionSecond {
		return e.secondPortion(ctx, r)
	}
	return e.firstPortion(ctx, r)
}

func (e *Engine) firstPortion(ctx context.Context, r Request) error {
	ids := r.MealIDs
	values := make(map[string]any, len(ids)+1)
	for _, id := range ids {
		ref := r.meal(id)
		m, err := e.readMeal(ctx, ref)
		if err != nil {
			return err
		}
		if m == nil {
			return errs.ErrMealNotFound
		}
		if rec, ok := m.Subscriptions[r.StudentID]; ok && rec.Status != nil && *rec.Status {
			return errs.ErrAlreadySubscribed
		}
		values[ref.SubscriptionPath(r.StudentID)] = model.SubscriptionRecord{
			Status: model.Bool(true), Quantity: r.Quantity, CreatedBy: r.CreatedBy,
		}
	}
	values[model.NotifierPath(r.Campus)] = e.notice(r, ids[0], "first")
	if err := e.st.Update(ctx, values); err != nil {
		return fmt.Errorf("first portion: %w", err)
	}
	e.log.Info("first portion",
		zap.Strings("meals", ids),
		zap.String("student", r.StudentID),
		zap.String("by", r.CreatedBy),
	)
	return nil
}

// secondPortion hands out the second portion meal by meal, stopping at the first rejection.
func (e *Engine) secondPortion(ctx context.Context, r Request) error {
	for _, id := range r.MealIDs {
		ref := r.meal(id)
		m, err := e.readMeal(ctx, ref)
		if err != nil {
			return err
		}
		if m == nil {
			return errs.ErrMealNotFound
		}
		if _, ok := m.Subscriptions[r.StudentID]; !ok {
			return errs.ErrNotSubscribed
		}
		rec, claimed := m.Subscriptions[model.SecondPortionUID(r.StudentID)]
		switch {
		case claimed && rec.Status != nil && *rec.Status:
			return errs.ErrSecondPortionReceived
		case claimed && rec.Status != nil:
			// reserved earlier, only the hand-out is missing
		default:
			if _, err := e.ClaimSecondPortion(ctx, ClaimRequest{Meal: ref, StudentID: r.StudentID, CreatedBy: r.CreatedBy}); err != nil {
				return err
			}
		}
		err = e.st.Update(ctx, map[string]any{
			ref.SubscriptionPath(model.SecondPortionUID(r.StudentID)): model.SubscriptionRecord{
				Status: model.Bool(true), Quantity: r.Quantity, CreatedBy: r.CreatedBy,
			},
			model.NotifierPath(r.Campus): e.notice(r, id, "second"),
		})
		if err != nil {
			return fmt.Errorf("second portion: %w", err)
		}
		e.log.Info("second portion",
			zap.String("meal", id),
			zap.String("student", r.StudentID),
			zap.String("by", r.CreatedBy),
		)
	}
	return nil
}

// ClaimSecondPortion atomically reserves one slot for the student and returns the policy
// left behind. Business aborts are *errs.Rejection values, a spent retry budget is
// errs.ErrRetriesExhausted, anything else comes from the store.
func (e *Engine) ClaimSecondPortion(ctx context.Context, r ClaimRequest) (model.SecondPortionPolicy, error) {
	if r.StudentID == "" {
		return model.SecondPortionPolicy{}, errs.ErrInvalidToken
	}
	res, err := e.st.Transaction(ctx, r.Meal.Path(), claim(r.StudentID, r.CreatedBy))
	if err != nil {
		var rej *errs.Rejection
		if !errors.As(err, &rej) {
			e.log.Warn("second portion claim failed", zap.String("meal", r.Meal.MealID), zap.Error(err))
		}
		return model.SecondPortionPolicy{}, err
	}
	var m meal
	if err := tree.Decode(res, &m); err != nil {
		return model.SecondPortionPolicy{}, err
	}
	if _, ok := m.Subscriptions[model.SecondPortionUID(r.StudentID)]; !ok {
		// the transaction only seeded the default policy of an unknown meal
		e.log.Info("second portion policy initialized", zap.String("meal", r.Meal.MealID))
		return m.SecondPortion, errs.ErrSecondPortionUnavailable
	}
	e.log.Info("second portion claimed",
		zap.String("meal", r.Meal.MealID),
		zap.String("student", r.StudentID),
		zap.Int64p("left", m.SecondPortion.QuantitySecondPortion),
	)
	return m.SecondPortion, nil
}

var (
	pathPolicy   = []string{"secondPortion"}
	pathHas      = []string{"secondPortion", "hasSecondPortion"}
	pathQuantity = []string{"secondPortion", "quantitySecondPortion"}
)

// claim is the pure transaction body over the meal subtree. An absent subtree is
// committed as a closed, empty policy without a claim record.
func claim(studentID, createdBy string) store.TxFunc {
	uid := model.SecondPortionUID(studentID)
	return func(cur any) (any, error) {
		if cur == nil {
			return map[string]any{"secondPortion": map[string]any{
				"hasSecondPortion": false, "quantitySecondPortion": float64(0),
			}}, nil
		}
		var p model.SecondPortionPolicy
		if err := tree.Decode(tree.Get(cur, pathPolicy), &p); err != nil {
			return nil, fmt.Errorf("decode second portion policy: %w", err)
		}
		if p.HasSecondPortion == nil || p.QuantitySecondPortion == nil {
			return nil, errs.ErrSecondPortionUnavailable
		}
		if tree.Get(cur, []string{"subscriptions", uid, "status"}) != nil {
			return nil, errs.ErrSecondPortionClaimed
		}
		if !p.Available() {
			return nil, errs.ErrSecondPortionUnavailable
		}

		left := *p.QuantitySecondPortion - 1
		next := tree.Set(cur, pathQuantity, float64(left))
		if left == 0 {
			next = tree.Set(next, pathHas, false)
		}
		rec := map[string]any{"status": false, "quantity": float64(0)}
		if createdBy != "" {
			rec["createdBy"] = createdBy
		}
		return tree.Set(next, []string{"subscriptions", uid}, rec), nil
	}
}

// ObserveSecondPortion calls fn with the student's view of a meal now and whenever
// the policy node changes.
func (e *Engine) ObserveSecondPortion(ctx context.Context, ref model.MealRef, studentID string, fn func(model.SecondPortionView)) (stop func(), err error) {
	return e.st.Watch(ctx, ref.SecondPortionPath(), func(raw any) {
		var p model.SecondPortionPolicy
		if err := tree.Decode(raw, &p); err != nil {
			e.log.Warn("bad second portion policy", zap.String("meal", ref.MealID), zap.Error(err))
		}
		v := model.SecondPortionView{Enabled: p.Available()}
		status, err := e.st.Get(ctx, ref.SubscriptionPath(model.SecondPortionUID(studentID))+"/status")
		if err != nil {
			e.log.Warn("read claim record", zap.String("meal", ref.MealID), zap.Error(err))
		}
		if b, ok := status.(bool); ok {
			v.Subscribed = true
			v.Received = b
		}
		fn(v)
	})
}

// SecondPortionView is a one-shot read of the view ObserveSecondPortion streams.
func (e *Engine) SecondPortionView(ctx context.Context, ref model.MealRef, studentID string) (model.SecondPortionView, error) {
	m, err := e.readMeal(ctx, ref)
	if err != nil || m == nil {
		return model.SecondPortionView{}, err
	}
	v := model.SecondPortionView{Enabled: m.SecondPortion.Available()}
	if rec, ok := m.Subscriptions[model.SecondPortionUID(studentID)]; ok && rec.Status != nil {
		v.Subscribed = true
		v.Received = *rec.Status
	}
	return v, nil
}

// SetSecondPortionPolicy lets staff open, refill or close the second-portion pool.
func (e *Engine) SetSecondPortionPolicy(ctx context.Context, ref model.MealRef, p model.SecondPortionPolicy) error {
	if p.HasSecondPortion == nil || p.QuantitySecondPortion == nil {
		return fmt.Errorf("%w: both policy fields are required", errs.ErrInvalidArgument)
	}
	if *p.QuantitySecondPortion < 0 {
		return fmt.Errorf("%w: negative quantity", errs.ErrInvalidArgument)
	}
	raw, err := e.st.Get(ctx, ref.Path())
	if err != nil {
		return err
	}
	if raw == nil {
		return errs.ErrMealNotFound
	}
	if err := e.st.Set(ctx, ref.SecondPortionPath(), p); err != nil {
		return err
	}
	e.log.Info("second portion policy",
		zap.String("meal", ref.MealID),
		zap.Bool("enabled", *p.HasSecondPortion),
		zap.Int64("quantity", *p.QuantitySecondPortion),
	)
	return nil
}

func (e *Engine) notice(r Request, mealID, action string) model.ScanNotice {
	return model.ScanNotice{
		Kind:        "meal",
		TargetID:    mealID,
		Action:      action,
		StudentID:   r.StudentID,
		Login:       r.Person.Login,
		DisplayName: r.Person.DisplayName,
		ImageURL:    r.Person.ImageURL,
		At:          e.now().UnixMilli(),
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
