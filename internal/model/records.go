package model

// EventRef addresses one event of a cursus.
type EventRef struct {
	Campus  string
	Cursus  string
	EventID string
}

// MealRef addresses one meal of a cursus.
type MealRef struct {
	Campus string
	Cursus string
	MealID string
}

// ParticipantRecord is stored under events/{eventId}/participants/{studentId}.
// Timestamps are Unix milliseconds.
type ParticipantRecord struct {
	Checkin      *int64 `json:"checkin,omitempty"`
	Checkout     *int64 `json:"checkout,omitempty"`
	RegisteredBy string `json:"registeredBy,omitempty"`
}

// SubscriptionRecord is stored under meals/{mealId}/subscriptions/{uid}.
// Status is a pointer because its mere presence marks a second-portion claim.
type SubscriptionRecord struct {
	Status    *bool  `json:"status,omitempty"`
	Quantity  int    `json:"quantity"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// SecondPortionPolicy is stored under meals/{mealId}/secondPortion.
// Nil fields mean staff never set them.
type SecondPortionPolicy struct {
	HasSecondPortion      *bool  `json:"hasSecondPortion,omitempty"`
	QuantitySecondPortion *int64 `json:"quantitySecondPortion,omitempty"`
}

// Available reports whether at least one slot can be claimed.
func (p SecondPortionPolicy) Available() bool {
	return p.HasSecondPortion != nil && p.QuantitySecondPortion != nil &&
		*p.HasSecondPortion && *p.QuantitySecondPortion > 0
}

// SecondPortionView is the tri-state a student sees for one meal.
type SecondPortionView struct {
	Enabled    bool `json:"enabled"`
	Subscribed bool `json:"subscribed"`
	Received   bool `json:"received"`
}

// ScanNotice is written to campus/{c}/infoTmpUserEventMeal so other devices can show who was just scanned.
type ScanNotice struct {
	Kind        string `json:"kind"` // "event" or "meal"
	TargetID    string `json:"targetId"`
	Action      string `json:"action"`
	StudentID   string `json:"studentId"`
	Login       string `json:"login,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	At          int64  `json:"at"`
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Path returns campus/{c}/cursus/{k}/events/{id}.
func (e EventRef) Path() string {
	return "campus/" + e.Campus + "/cursus/" + e.Cursus + "/events/" + e.EventID
}

// ParticipantPath returns the participant record path of studentID.
func (e EventRef) ParticipantPath(studentID string) string {
	return e.Path() + "/participants/" + studentID
}

// Path returns campus/{c}/cursus/{k}/meals/{id}.
func (m MealRef) Path() string {
	return "campus/" + m.Campus + "/cursus/" + m.Cursus + "/meals/" + m.MealID
}

// SubscriptionPath returns the subscription record path of uid.
// Second-portion records use uid "-"+studentID.
func (m MealRef) SubscriptionPath(uid string) string {
	return m.Path() + "/subscriptions/" + uid
}

// SecondPortionPath returns the policy node of the meal.
func (m MealRef) SecondPortionPath() string { return m.Path() + "/secondPortion" }

// SecondPortionUID is the subscription key of a student's second portion.
func SecondPortionUID(studentID string) string { return "-" + studentID }

// NotifierPath is the campus-wide "last scanned" node.
func NotifierPath(campus string) string { return "campus/" + campus + "/infoTmpUserEventMeal" }
