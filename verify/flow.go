// Package verify drives a two-channel verification round against the
// engine: request codes, submit them in either order, then exchange the
// resulting upgrade token for a session exactly once.
package verify

import (
	"context"
	"errors"
	"sync"

	"github.com/civicsetu/civicauth"
)

// Authenticator is the slice of the engine the flow needs. *civicauth.Engine
// satisfies it.
type Authenticator interface {
	RequestCode(ctx context.Context, h civicauth.Handoff, channel civicauth.Channel) error
	ConfirmCode(ctx context.Context, h civicauth.Handoff, channel civicauth.Channel, code string) (*civicauth.ConfirmResult, error)
	LoginWithToken(ctx context.Context, token string) (*civicauth.TokenLoginResult, error)
}

// State is the flow's lifecycle position.
type State uint8

const (
	// StateAwaiting means at least one required channel is unconfirmed.
	// The channels are unordered; either may be confirmed first.
	StateAwaiting State = iota
	// StateBothVerified means every required channel is confirmed and the
	// session exchange has not happened yet.
	StateBothVerified
	// StateSessionEstablished means Finalize succeeded.
	StateSessionEstablished
	// StateFailed is terminal; every operation reports the stored failure.
	StateFailed
)

// TaskState tracks one channel's current send or submit operation.
type TaskState uint8

const (
	TaskIdle TaskState = iota
	TaskInFlight
	TaskSucceeded
	TaskFailed
)

var (
	// ErrSendInFlight is returned when a send for the channel is already
	// running.
	ErrSendInFlight = errors.New("code request already in flight")
	// ErrSubmitInFlight is returned when a confirmation for the channel is
	// already running.
	ErrSubmitInFlight = errors.New("code confirmation already in flight")
	// ErrFinalizeInFlight is returned when another Finalize call is
	// already exchanging the upgrade token.
	ErrFinalizeInFlight = errors.New("session exchange already in flight")
	// ErrCodeFormat is returned for codes that are not exactly six digits.
	// No collaborator call is made.
	ErrCodeFormat = errors.New("code must be six digits")
	// ErrChannelNotRequired is returned for channels outside the flow's
	// required set.
	ErrChannelNotRequired = errors.New("channel not part of this verification")
	// ErrChannelAlreadyVerified is returned when the channel is done.
	ErrChannelAlreadyVerified = errors.New("channel already verified")
	// ErrUpgradeTokenMissing is returned by Finalize when every channel is
	// verified but no upgrade token was captured. The caller may re-submit
	// a code to obtain one; the flow does not retry on its own.
	ErrUpgradeTokenMissing = errors.New("verification complete but upgrade token missing")
	// ErrNotVerified is returned by Finalize before all channels are done.
	ErrNotVerified = errors.New("verification incomplete")
	// ErrFlowFailed is returned by every operation after the flow failed.
	ErrFlowFailed = errors.New("verification flow failed")
)

const otpDigits = 6

// Flow is a single verification round for one hand-off. All methods are
// safe for concurrent use; collaborator calls run outside the lock so a
// slow gateway never blocks state reads.
type Flow struct {
	auth    Authenticator
	handoff civicauth.Handoff

	mu           sync.Mutex
	required     []civicauth.Channel
	verified     map[civicauth.Channel]bool
	sendStates   map[civicauth.Channel]TaskState
	submitStates map[civicauth.Channel]TaskState
	upgradeToken string
	session      *civicauth.TokenLoginResult
	state        State
	failure      error
	finalizing   bool
}

// NewFlow validates the hand-off and returns a flow awaiting its
// required channels. For login-mode or admin hand-offs the mobile
// channel is not required and starts satisfied.
func NewFlow(auth Authenticator, h civicauth.Handoff) (*Flow, error) {
	if auth == nil {
		return nil, errors.New("authenticator required")
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	required := civicauth.RequiredChannels(h.Mode, h.Role)
	f := &Flow{
		auth:         auth,
		handoff:      h,
		required:     required,
		verified:     make(map[civicauth.Channel]bool, len(required)),
		sendStates:   make(map[civicauth.Channel]TaskState, len(required)),
		submitStates: make(map[civicauth.Channel]TaskState, len(required)),
	}
	for _, c := range required {
		f.verified[c] = false
		f.sendStates[c] = TaskIdle
		f.submitStates[c] = TaskIdle
	}

	return f, nil
}

// State reports the current lifecycle position.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ChannelVerified reports whether the channel is confirmed. Channels
// outside the required set count as satisfied.
func (f *Flow) ChannelVerified(channel civicauth.Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.verified[channel]; !ok {
		return true
	}
	return f.verified[channel]
}

// SendState reports the channel's current send task state.
func (f *Flow) SendState(channel civicauth.Channel) TaskState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendStates[channel]
}

// Session returns the established session, if any.
func (f *Flow) Session() *civicauth.TokenLoginResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Err returns the stored failure for a failed flow.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// SendCode dispatches a one-time code for the channel. At most one send
// per channel runs at a time; the in-flight mark is cleared on every
// exit path.
func (f *Flow) SendCode(ctx context.Context, channel civicauth.Channel) error {
	f.mu.Lock()
	if f.state == StateFailed {
		f.mu.Unlock()
		return ErrFlowFailed
	}
	if _, ok := f.verified[channel]; !ok {
		f.mu.Unlock()
		return ErrChannelNotRequired
	}
	if f.verified[channel] {
		f.mu.Unlock()
		return ErrChannelAlreadyVerified
	}
	if f.sendStates[channel] == TaskInFlight {
		f.mu.Unlock()
		return ErrSendInFlight
	}
	f.sendStates[channel] = TaskInFlight
	f.mu.Unlock()

	err := f.auth.RequestCode(ctx, f.handoff, channel)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFailed || f.state == StateSessionEstablished {
		// Late result; the flow moved on without this send.
		f.sendStates[channel] = TaskIdle
		return f.failure
	}
	if err != nil {
		f.sendStates[channel] = TaskFailed
		return err
	}
	f.sendStates[channel] = TaskSucceeded
	return nil
}

// SubmitCode confirms the channel with the given code. Codes that are
// not exactly six digits are rejected locally without contacting the
// engine. When the confirmation completes the required set, the upgrade
// token returned by the engine is captured for Finalize.
func (f *Flow) SubmitCode(ctx context.Context, channel civicauth.Channel, code string) error {
	if !isSixDigits(code) {
		return ErrCodeFormat
	}

	f.mu.Lock()
	if f.state == StateFailed {
		f.mu.Unlock()
		return ErrFlowFailed
	}
	if _, ok := f.verified[channel]; !ok {
		f.mu.Unlock()
		return ErrChannelNotRequired
	}
	if f.verified[channel] {
		f.mu.Unlock()
		return ErrChannelAlreadyVerified
	}
	if f.submitStates[channel] == TaskInFlight {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}
	f.submitStates[channel] = TaskInFlight
	f.mu.Unlock()

	result, err := f.auth.ConfirmCode(ctx, f.handoff, channel, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFailed || f.state == StateSessionEstablished {
		f.submitStates[channel] = TaskIdle
		return f.failure
	}
	if err != nil {
		f.submitStates[channel] = TaskFailed
		return err
	}

	f.submitStates[channel] = TaskSucceeded
	f.verified[channel] = true
	if result != nil && result.UpgradeToken != "" {
		f.upgradeToken = result.UpgradeToken
	}

	if f.allVerifiedLocked() {
		f.state = StateBothVerified
	}

	return nil
}

// Finalize performs the at-most-once session upgrade. A flow that
// already established its session returns it without a remote call,
// ErrUpgradeTokenMissing is reported when verification finished without
// a token, and any unexpected exchange error marks the flow failed.
func (f *Flow) Finalize(ctx context.Context) (*civicauth.TokenLoginResult, error) {
	f.mu.Lock()
	switch {
	case f.state == StateFailed:
		f.mu.Unlock()
		return nil, ErrFlowFailed
	case f.state == StateSessionEstablished:
		sess := f.session
		f.mu.Unlock()
		return sess, nil
	case f.state != StateBothVerified:
		f.mu.Unlock()
		return nil, ErrNotVerified
	case f.upgradeToken == "":
		f.mu.Unlock()
		return nil, ErrUpgradeTokenMissing
	case f.finalizing:
		f.mu.Unlock()
		return nil, ErrFinalizeInFlight
	}
	token := f.upgradeToken
	f.finalizing = true
	f.mu.Unlock()

	result, err := f.auth.LoginWithToken(ctx, token)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizing = false
	if err != nil {
		f.state = StateFailed
		f.failure = err
		return nil, err
	}

	f.upgradeToken = ""
	f.session = result
	f.state = StateSessionEstablished
	return result, nil
}

func (f *Flow) allVerifiedLocked() bool {
	for _, c := range f.required {
		if !f.verified[c] {
			return false
		}
	}
	return true
}

func isSixDigits(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
