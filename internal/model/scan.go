package model

// Portion selects which meal serving a scan applies to.
type Portion int

const (
	PortionFirst Portion = iota
	PortionSecond
)

func (p Portion) String() string {
	if p == PortionSecond {
		return "second"
	}
	return "first"
}

// AttendanceAction selects the event transition requested by the screen.
type AttendanceAction int

const (
	ActionCheckIn AttendanceAction = iota
	ActionCheckOut
)

func (a AttendanceAction) String() string {
	if a == ActionCheckOut {
		return "checkout"
	}
	return "checkin"
}

// Person is whoever a scan is about, as far as the device knows.
type Person struct {
	ID          string
	Login       string
	DisplayName string
	ImageURL    string
}

// Name returns the best human label for the person.
func (p Person) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Login != "":
		return p.Login
	default:
		return p.ID
	}
}

// Badge is the decoded content of a student's personal QR code.
type Badge struct {
	StudentID   string
	Login       string
	DisplayName string
	CursusID    string
	CampusID    string
	ImageURL    string
}

// Person projects the badge onto a Person.
func (b Badge) Person() Person {
	return Person{ID: b.StudentID, Login: b.Login, DisplayName: b.DisplayName, ImageURL: b.ImageURL}
}

// ScanContext is what the scanning screen knows before any code is read.
type ScanContext struct {
	Campus   string
	Cursus   string
	Operator Person // authenticated user holding the device

	// Event context.
	EventID string
	Action  AttendanceAction

	// Meal context: every meal currently open for this QR context.
	MealIDs  []string
	Portion  Portion
	Quantity int
}

// HasEventContext reports whether the screen is bound to an event.
func (sc ScanContext) HasEventContext() bool { return sc.EventID != "" }

// HasMealContext reports whether the screen is bound to one or more meals.
func (sc ScanContext) HasMealContext() bool { return len(sc.MealIDs) > 0 }

// Command is the decoded meaning of a scan. The concrete types below are the only implementations.
type Command interface{ command() }

// EventStaticCheckin: a student's device read the static code displayed by event staff.
type EventStaticCheckin struct {
	EventID string
	StaffID string
}

// MealStaticSubscribe: a student's device read the static code displayed by meal staff.
type MealStaticSubscribe struct {
	MealID  string
	StaffID string
}

// EventBadgeScan: a staff device bound to an event read a student's badge.
type EventBadgeScan struct{ Badge Badge }

// MealBadgeScan: a staff device bound to meals read a student's badge.
type MealBadgeScan struct{ Badge Badge }

// Identify: a badge read with no event or meal context.
type Identify struct{ Badge Badge }

func (EventStaticCheckin) command()  {}
func (MealStaticSubscribe) command() {}
func (EventBadgeScan) command()      {}
func (MealBadgeScan) command()       {}
func (Identify) command()            {}
