package payload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/cc42-scan/internal/model"
)

// ErrUnencodable is returned for fields the wire format cannot carry.
var ErrUnencodable = errors.New("payload: field cannot be encoded")

// EncodeEvent builds the static code displayed by event staff.
func EncodeEvent(eventID, staffID string) (string, error) {
	if err := checkIDs(eventID, staffID); err != nil {
		return "", err
	}
	return PrefixEvent + eventID + sep + staffID, nil
}

// EncodeMeal builds the static code displayed by meal staff.
func EncodeMeal(mealID, staffID string) (string, error) {
	if err := checkIDs(mealID, staffID); err != nil {
		return "", err
	}
	return PrefixMeal + mealID + sep + staffID, nil
}

// EncodeBadge builds a student's personal code.
func EncodeBadge(b model.Badge) (string, error) {
	if err := check(b.Login); err != nil {
		return "", err
	}
	if err := checkIDs(b.StudentID, b.CursusID, b.CampusID); err != nil {
		return "", err
	}
	// '#' has no escape in the grammar: refuse rather than emit a code that decodes to other fields.
	for _, f := range []string{b.DisplayName, b.ImageURL} {
		if strings.Contains(f, sep) {
			return "", fmt.Errorf("%w: %q contains %q", ErrUnencodable, f, sep)
		}
	}
	return PrefixUser + strings.Join([]string{
		b.StudentID, b.Login, b.DisplayName, b.CursusID, b.CampusID, b.ImageURL,
	}, sep), nil
}

func check(required ...string) error {
	for _, f := range required {
		if f == "" {
			return fmt.Errorf("%w: empty field", ErrUnencodable)
		}
		if strings.Contains(f, sep) {
			return fmt.Errorf("%w: %q contains %q", ErrUnencodable, f, sep)
		}
	}
	return nil
}

// checkIDs also refuses values that would not address a single store node.
func checkIDs(ids ...string) error {
	if err := check(ids...); err != nil {
		return err
	}
	for _, id := range ids {
		if !IsID(id) {
			return fmt.Errorf("%w: %q is not a valid id", ErrUnencodable, id)
		}
	}
	return nil
}
