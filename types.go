package gateward

import (
	"context"
	"time"
)

// SessionStatus defines a public type used by gateward APIs.
//
// SessionStatus instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionStatus uint8

const (
	// StatusPending is an exported constant or variable used by the verification engine.
	StatusPending SessionStatus = iota + 1
	// StatusVerified is an exported constant or variable used by the verification engine.
	StatusVerified
	// StatusExpired is an exported constant or variable used by the verification engine.
	StatusExpired
	// StatusCancelled is an exported constant or variable used by the verification engine.
	StatusCancelled
)

// String describes the string operation and its observable behavior.
func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusCancelled
}

// Outcome defines a public type used by gateward APIs.
//
// Outcome instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Outcome uint8

const (
	// OutcomeVerified is an exported constant or variable used by the verification engine.
	OutcomeVerified Outcome = iota + 1
	// OutcomeRejected is an exported constant or variable used by the verification engine.
	OutcomeRejected
	// OutcomeNoActiveSession is an exported constant or variable used by the verification engine.
	OutcomeNoActiveSession
)

// String describes the string operation and its observable behavior.
func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNoActiveSession:
		return "no_active_session"
	default:
		return "unknown"
	}
}

// OutcomeNotice identifies the resolution message delivered to a principal
// through the NotificationSink. It is wider than Outcome because expiry and
// cancellation resolve sessions without an answer submission.
type OutcomeNotice uint8

const (
	// NoticeVerified is an exported constant or variable used by the verification engine.
	NoticeVerified OutcomeNotice = iota + 1
	// NoticeRejected is an exported constant or variable used by the verification engine.
	NoticeRejected
	// NoticeExpired is an exported constant or variable used by the verification engine.
	NoticeExpired
	// NoticeCancelled is an exported constant or variable used by the verification engine.
	NoticeCancelled
)

// VerificationSession defines a public type used by gateward APIs.
//
// Once a session reaches a terminal status it is retained as an immutable
// audit record and never mutated again.
type VerificationSession struct {
	ID          string
	PrincipalID string
	TenantID    string
	Status      SessionStatus
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ReminderAt  time.Time
	VerifiedAt  time.Time
}

// VerificationSettings defines a public type used by gateward APIs.
//
// One row per tenant; created lazily on first configuration write and
// patched in place thereafter.
type VerificationSettings struct {
	TenantID            string
	LogChannelRef       string
	GrantedRoleRef      string
	TimeoutSeconds      int
	ReminderLeadSeconds int
}

// SettingsPatch carries a partial settings update. Nil fields leave the
// stored value (or the default, on first write) untouched.
type SettingsPatch struct {
	TenantID            string
	LogChannelRef       *string
	GrantedRoleRef      *string
	TimeoutSeconds      *int
	ReminderLeadSeconds *int
}

// Challenge defines a public type used by gateward APIs.
//
// Secret is the expected answer text; Image is an opaque rendering (PNG in
// the default generator) sized for inline display. The raw secret is never
// returned through Engine APIs, only its rendering.
type Challenge struct {
	Secret string
	Image  []byte
}

// ChallengeGenerator produces a random human-solvable secret and a rendering
// of it. Implementations must be pure: no state shared between calls.
type ChallengeGenerator interface {
	Generate(ctx context.Context) (*Challenge, error)
}

// NotificationSink delivers challenge content, reminders, and outcome
// messages to the principal. All calls are best-effort from the Engine's
// perspective: failures are logged and never surfaced as verification
// failures.
type NotificationSink interface {
	SendChallenge(ctx context.Context, principalID string, image []byte) error
	SendReminder(ctx context.Context, principalID string, remaining time.Duration) error
	SendOutcome(ctx context.Context, principalID string, notice OutcomeNotice) error
}

// AccessGrantor applies the verified access level for a principal. Called
// exactly once per successful verification.
type AccessGrantor interface {
	Grant(ctx context.Context, principalID, tenantID string) error
}

// StartResult defines a public type used by gateward APIs.
type StartResult struct {
	SessionID   string
	PrincipalID string
	TenantID    string
	Image       []byte
	Rotated     bool
	ExpiresAt   time.Time
}

// SubmitResult defines a public type used by gateward APIs.
type SubmitResult struct {
	Outcome    Outcome
	SessionID  string
	Attempts   int
	VerifiedAt time.Time
	Receipt    string
}
