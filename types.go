package civicauth

import (
	"context"
	"fmt"
)

// Role classifies an account as citizen or administrator. The enumeration is
// closed: every switch over Role must handle both values, and decoding an
// unknown value fails with [ErrRoleInvalid].
type Role uint8

const (
	// RoleCitizen is the default role for reporters of civic issues.
	RoleCitizen Role = iota
	// RoleAdmin is the role for municipal administrators.
	RoleAdmin
)

// String renders the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleCitizen:
		return "citizen"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// HomePath is the role's own dashboard route. The role router redirects an
// authenticated user with the wrong role here, never to the login page.
func (r Role) HomePath() string {
	switch r {
	case RoleAdmin:
		return "/admin/dashboard"
	default:
		return "/civic/dashboard"
	}
}

// ParseRole decodes a wire role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "citizen":
		return RoleCitizen, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleCitizen, ErrRoleInvalid
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleCitizen, RoleAdmin:
		return []byte(r.String()), nil
	default:
		return nil, ErrRoleInvalid
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Mode distinguishes the registration verification flow from the login-time
// second factor.
type Mode uint8

const (
	// ModeRegister verifies a freshly created account.
	ModeRegister Mode = iota
	// ModeLogin confirms the email channel on an already verified account.
	ModeLogin
)

// String renders the wire name of the mode.
func (m Mode) String() string {
	if m == ModeLogin {
		return "login"
	}
	return "register"
}

// Channel identifies a verification contact channel.
type Channel uint8

const (
	// ChannelWhatsApp delivers codes to the mobile number over WhatsApp.
	ChannelWhatsApp Channel = iota
	// ChannelEmail delivers codes to the email address.
	ChannelEmail
)

// String renders the wire name of the channel.
func (c Channel) String() string {
	if c == ChannelEmail {
		return "email"
	}
	return "whatsapp"
}

// ParseChannel decodes a wire channel name.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "whatsapp":
		return ChannelWhatsApp, nil
	case "email":
		return ChannelEmail, nil
	default:
		return ChannelWhatsApp, ErrChannelInvalid
	}
}

// RequiredChannels lists the channels that must be confirmed before a session
// upgrade token is issued. Citizen registration needs both; admin registration
// and login-mode confirmation need email only.
func RequiredChannels(mode Mode, role Role) []Channel {
	if mode == ModeRegister && role == RoleCitizen {
		return []Channel{ChannelWhatsApp, ChannelEmail}
	}
	return []Channel{ChannelEmail}
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus uint8

const (
	// AccountActive marks a fully verified, usable account.
	AccountActive AccountStatus = iota
	// AccountPendingVerification marks an account awaiting channel confirmation.
	AccountPendingVerification
	// AccountDisabled marks an administratively disabled account.
	AccountDisabled
)

// UserRecord is the account record exchanged with [UserProvider].
type UserRecord struct {
	UserID       string
	Email        string
	Mobile       string
	PasswordHash string
	Role         Role
	Status       AccountStatus
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	UserID       string
	Email        string
	Mobile       string
	PasswordHash string
	Role         Role
	Status       AccountStatus
}

// UserProvider is the interface callers implement to integrate civicauth with
// their account database. CreateUser must return
// [ErrProviderDuplicateIdentifier] on email collisions. DeleteUser is the
// compensating action when profile persistence fails after account creation.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdateAccountStatus(ctx context.Context, userID string, status AccountStatus) error
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	DeleteUser(ctx context.Context, userID string) error
}

// Profile carries the registration fields persisted alongside the account.
type Profile struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Mobile     string `json:"mobile"`
	City       string `json:"city,omitempty"`
	Address    string `json:"address,omitempty"`
	Department string `json:"department,omitempty"`
}

// ProfileStore persists the non-credential profile fields of a registration.
// No transactional guarantee links it to the account database; the engine
// compensates by deleting the account when SaveProfile fails.
type ProfileStore interface {
	SaveProfile(ctx context.Context, profile Profile) error
}

// CodeSender delivers a one-time code over the given channel. Real
// implementations talk to the WhatsApp/email gateway; test doubles record
// calls.
type CodeSender interface {
	Send(ctx context.Context, channel Channel, contact, code string) error
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Email      string
	Password   string
	Role       Role
	FirstName  string
	LastName   string
	Mobile     string
	City       string
	Address    string
	Department string
}

// Handoff carries the data a registration or login hands to the verification
// flow. It travels in navigation state, never in durable storage.
type Handoff struct {
	Email  string
	Mobile string
	Role   Role
	Mode   Mode
	UID    string
}

// Validate enforces the hand-off invariant: citizen registration requires
// both contact channels, every other path requires email.
func (h Handoff) Validate() error {
	if h.Email == "" {
		return ErrHandoffIncomplete
	}
	if h.Mode == ModeRegister && h.Role == RoleCitizen && h.Mobile == "" {
		return ErrHandoffIncomplete
	}
	return nil
}

// ContactFor returns the contact address the channel delivers to.
func (h Handoff) ContactFor(channel Channel) string {
	if channel == ChannelWhatsApp {
		return h.Mobile
	}
	return h.Email
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID  string
	Handoff Handoff
}

// LoginResult is returned by [Engine.Login]. When VerificationRequired is
// set, no session exists yet and the caller must drive the verification flow
// described by Handoff.
type LoginResult struct {
	AccessToken  string
	SessionToken string

	VerificationRequired bool
	Handoff              Handoff
}

// ConfirmResult is returned by [Engine.ConfirmCode]. UpgradeToken is set once
// every required channel for the pending verification is confirmed; it is
// exchanged exactly once through [Engine.LoginWithToken].
type ConfirmResult struct {
	Channel      Channel
	AllVerified  bool
	UpgradeToken string
}

// TokenLoginResult is returned by [Engine.LoginWithToken].
type TokenLoginResult struct {
	UserID       string
	Email        string
	Role         Role
	AccessToken  string
	SessionToken string
}

// AuthResult identifies the authenticated caller after session or token
// validation.
type AuthResult struct {
	UserID    string
	Email     string
	Role      Role
	SessionID string
}
