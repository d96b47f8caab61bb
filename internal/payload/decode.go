// Package payload parses decrypted QR tokens into typed commands.
//
// Grammar (fields separated by '#', no escaping):
//
//	cc42event<eventId>#<staffId>
//	cc42user<studentId>#<login>#<displayName>#<cursusId>#<campusId>#<imageUrl>
//	cc42meal<mealId>#<staffId>
package payload

import (
	"strings"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

const (
	PrefixEvent = "cc42event"
	PrefixUser  = "cc42user"
	PrefixMeal  = "cc42meal"

	sep = "#"
)

type rule struct {
	prefix string
	arity  int
}

// Checked in this order. The prefixes are disjoint so at most one matches.
var grammar = [...]rule{
	{PrefixEvent, 2},
	{PrefixUser, 6},
	{PrefixMeal, 2},
}

// Context tells the decoder what the scanning screen is bound to.
type Context struct {
	HasEventContext bool
	HasMealContext  bool
}

// ContextOf derives the decoder flags from a scan context.
func ContextOf(sc model.ScanContext) Context {
	return Context{HasEventContext: sc.HasEventContext(), HasMealContext: sc.HasMealContext()}
}

// Decode returns one of the model.Command variants or errs.ErrInvalidToken.
// It never panics, whatever the input.
func Decode(plain string, ctx Context) (model.Command, error) {
	if plain == "" || (ctx.HasEventContext && ctx.HasMealContext) {
		return nil, errs.ErrInvalidToken
	}
	for _, r := range grammar {
		if !strings.HasPrefix(plain, r.prefix) {
			continue
		}
		f := strings.Split(strings.TrimPrefix(plain, r.prefix), sep)
		if len(f) != r.arity {
			return nil, errs.ErrInvalidToken
		}
		switch r.prefix {
		case PrefixEvent:
			if ctx.HasMealContext || !IsID(f[0]) || !IsID(f[1]) {
				return nil, errs.ErrInvalidToken
			}
			return model.EventStaticCheckin{EventID: f[0], StaffID: f[1]}, nil
		case PrefixMeal:
			if ctx.HasEventContext || !IsID(f[0]) || !IsID(f[1]) {
				return nil, errs.ErrInvalidToken
			}
			return model.MealStaticSubscribe{MealID: f[0], StaffID: f[1]}, nil
		default:
			b, ok := badge(f)
			if !ok {
				return nil, errs.ErrInvalidToken
			}
			switch {
			case ctx.HasEventContext:
				return model.EventBadgeScan{Badge: b}, nil
			case ctx.HasMealContext:
				return model.MealBadgeScan{Badge: b}, nil
			default:
				return model.Identify{Badge: b}, nil
			}
		}
	}
	return nil, errs.ErrInvalidToken
}

// badge maps the six user fields. Display name and image may legitimately be empty.
func badge(f []string) (model.Badge, bool) {
	b := model.Badge{
		StudentID:   f[0],
		Login:       f[1],
		DisplayName: f[2],
		CursusID:    f[3],
		CampusID:    f[4],
		ImageURL:    f[5],
	}
	if !IsID(b.StudentID) || !IsID(b.CursusID) || !IsID(b.CampusID) || b.Login == "" {
		return model.Badge{}, false
	}
	return b, true
}

// IsID reports whether s can name a single node of the store tree:
// non-empty and free of the path separator.
func IsID(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.Contains(s, "/")
}
