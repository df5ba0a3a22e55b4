package gateward

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrPrincipalRequired is an exported constant or variable used by the verification engine.
	ErrPrincipalRequired = errors.New("principal id required")
	// ErrAnswerInvalid is an exported constant or variable used by the verification engine.
	ErrAnswerInvalid = errors.New("malformed candidate answer")
	// ErrNoActiveSession is an exported constant or variable used by the verification engine.
	ErrNoActiveSession = errors.New("no pending verification session")
	// ErrChallengeUnavailable is an exported constant or variable used by the verification engine.
	ErrChallengeUnavailable = errors.New("challenge generation failed")
	// ErrSessionStoreUnavailable is an exported constant or variable used by the verification engine.
	ErrSessionStoreUnavailable = errors.New("verification session store unavailable")
	// ErrStartRateLimited is an exported constant or variable used by the verification engine.
	ErrStartRateLimited = errors.New("verification start rate limited")
	// ErrAnswerRateLimited is an exported constant or variable used by the verification engine.
	ErrAnswerRateLimited = errors.New("answer submission rate limited")
	// ErrSettingsInvalid is an exported constant or variable used by the verification engine.
	ErrSettingsInvalid = errors.New("invalid verification settings")
	// ErrSettingsUnavailable is an exported constant or variable used by the verification engine.
	ErrSettingsUnavailable = errors.New("verification settings store unavailable")
	// ErrReceiptUnavailable is an exported constant or variable used by the verification engine.
	ErrReceiptUnavailable = errors.New("verification receipt unavailable")
	// ErrReceiptInvalid is an exported constant or variable used by the verification engine.
	ErrReceiptInvalid = errors.New("invalid verification receipt")
	// ErrReceiptsDisabled is an exported constant or variable used by the verification engine.
	ErrReceiptsDisabled = errors.New("verification receipts disabled")
)
