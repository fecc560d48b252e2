// Package auth implements the Auth Flow state machine of spec.md §4.2:
// the per-session progression from Menu through login or signup to
// Authed, grounded on the AuthState enum sketched (and left unimplemented)
// in the teacher's cmd/server/main.go.
package auth

import (
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"mudengine/internal/mfa"
)

// mfaIssuer names the TOTP issuer shown in authenticator apps, per
// SPEC_FULL.md's staff MFA supplement.
const mfaIssuer = "AmbonMUD"

// State names one step of the auth state machine. Unlike the teacher's
// int-keyed AuthState, the signup branch carries the data accumulated so
// far (username, first password) directly on the state value, per the
// sum-type redesign note in spec.md §9.
type State struct {
	Kind       StateKind
	Username   string
	Pass1      string
	PlayerID   string
	MFASecret  string
}

type StateKind string

const (
	KindUnauthed               StateKind = "unauthed"
	KindMenu                   StateKind = "menu"
	KindLoginUsername          StateKind = "login_username"
	KindLoginPassword          StateKind = "login_password"
	KindSignupUsername         StateKind = "signup_username"
	KindSignupPassword         StateKind = "signup_password"
	KindSignupPasswordConfirm  StateKind = "signup_password_confirm"
	KindMFAEnroll              StateKind = "mfa_enroll"
	KindMFACode                StateKind = "mfa_code"
	KindAuthed                 StateKind = "authed"
)

// Account is the subset of a persisted player record the auth flow needs.
// IsStaff and MFASecret drive the MFAPending branch named in
// SPEC_FULL.md: ordinary players never see it, staff accounts pass
// through KindMFAEnroll (first login, no secret yet) or KindMFACode
// (every later login) before reaching KindAuthed.
type Account struct {
	PlayerID     string
	Name         string
	PasswordHash string
	IsStaff      bool
	MFASecret    string
}

// Store is the narrow persistence contract the auth flow depends on; the
// persistence package's PlayerRepository satisfies a superset of it.
type Store interface {
	FindByNameLower(nameLower string) (Account, bool, error)
	CreateAccount(name, passwordHash string) (Account, error)
	SaveMFASecret(playerID, secret string) error
}

// OnlineNameChecker reports whether a name is already in use by a
// currently connected session on this engine, independent of persisted
// accounts (spec.md §4.2: "must check both persisted records and
// currently online players").
type OnlineNameChecker func(nameLower string) bool

// Result is what the engine does in response to one input line: a state
// transition plus the prompt/error text to render.
type Result struct {
	Next        State
	Prompt      string
	Error       string
	ClearScreen bool
}

// Flow drives the state machine; it holds no per-session data itself —
// callers thread the current State through each call.
type Flow struct {
	store           Store
	isOnline        OnlineNameChecker
	maxWrongRetries int
	guestCounter    *guestCounter
}

func NewFlow(store Store, isOnline OnlineNameChecker, maxWrongRetries int) *Flow {
	return &Flow{store: store, isOnline: isOnline, maxWrongRetries: maxWrongRetries, guestCounter: &guestCounter{}}
}

// Initial is the state a session starts in immediately after Connected.
func Initial() State { return State{Kind: KindMenu} }

// Step feeds one trimmed input line through the state machine.
func (f *Flow) Step(current State, line string) Result {
	line = strings.TrimSpace(line)

	switch current.Kind {
	case KindMenu:
		return f.stepMenu(line)
	case KindLoginUsername:
		return f.stepLoginUsername(line)
	case KindLoginPassword:
		return f.stepLoginPassword(current, line)
	case KindSignupUsername:
		return f.stepSignupUsername(line)
	case KindSignupPassword:
		return f.stepSignupPassword(current, line)
	case KindSignupPasswordConfirm:
		return f.stepSignupConfirm(current, line)
	case KindMFAEnroll:
		return f.stepMFAEnroll(current, line)
	case KindMFACode:
		return f.stepMFACode(current, line)
	default:
		return Result{Next: Initial(), Prompt: menuText}
	}
}

const menuText = "1) Login\r\n2) Create a character\r\n3) Guest\r\nChoice:"

func (f *Flow) stepMenu(line string) Result {
	switch line {
	case "1", "login":
		return Result{Next: State{Kind: KindLoginUsername}, Prompt: "Username:"}
	case "2", "create":
		return Result{Next: State{Kind: KindSignupUsername}, Prompt: "Choose a username:"}
	case "3", "guest":
		name, account, err := f.createGuest()
		if err != nil {
			return Result{Next: Initial(), Error: "Guest login failed.", Prompt: menuText}
		}
		_ = name
		return Result{Next: State{Kind: KindAuthed, Username: account.Name, PlayerID: account.PlayerID}, Prompt: "> "}
	default:
		return Result{Next: State{Kind: KindMenu}, Error: "Unknown choice.", Prompt: menuText}
	}
}

func (f *Flow) stepLoginUsername(line string) Result {
	if line == "" {
		return Result{Next: State{Kind: KindLoginUsername}, Error: "Username cannot be blank.", Prompt: "Username:"}
	}
	return Result{Next: State{Kind: KindLoginPassword, Username: line}, Prompt: "Password:"}
}

func (f *Flow) stepLoginPassword(current State, line string) Result {
	account, found, err := f.store.FindByNameLower(strings.ToLower(current.Username))
	if err != nil || !found {
		return Result{Next: Initial(), Error: "Login failed.", Prompt: menuText}
	}
	if cmpErr := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(line)); cmpErr != nil {
		return Result{Next: Initial(), Error: "Login failed.", Prompt: menuText}
	}
	return f.postLogin(account)
}

// postLogin routes a password-verified account either straight to
// KindAuthed (ordinary players) or through the staff MFAPending branch.
func (f *Flow) postLogin(account Account) Result {
	if !account.IsStaff {
		return Result{Next: State{Kind: KindAuthed, Username: account.Name, PlayerID: account.PlayerID}, Prompt: "> "}
	}

	if account.MFASecret == "" {
		enrollment, err := mfa.Enroll(mfaIssuer, account.Name)
		if err != nil {
			return Result{Next: Initial(), Error: "MFA enrollment failed.", Prompt: menuText}
		}
		return Result{
			Next: State{Kind: KindMFAEnroll, Username: account.Name, PlayerID: account.PlayerID, MFASecret: enrollment.Secret},
			Prompt: "Scan this into your authenticator app, then enter the 6-digit code:\r\n" + enrollment.AccountURL,
		}
	}

	return Result{
		Next:   State{Kind: KindMFACode, Username: account.Name, PlayerID: account.PlayerID, MFASecret: account.MFASecret},
		Prompt: "MFA code:",
	}
}

// stepMFAEnroll confirms the freshly generated secret with one valid
// code before persisting it, so a typo during enrollment never locks a
// staff account out of its own secret.
func (f *Flow) stepMFAEnroll(current State, line string) Result {
	if !mfa.Verify(current.MFASecret, strings.TrimSpace(line)) {
		return Result{Next: current, Error: "Invalid code. Try again.", Prompt: "Enter the 6-digit code:"}
	}
	if err := f.store.SaveMFASecret(current.PlayerID, current.MFASecret); err != nil {
		return Result{Next: Initial(), Error: "MFA enrollment failed.", Prompt: menuText}
	}
	return Result{Next: State{Kind: KindAuthed, Username: current.Username, PlayerID: current.PlayerID}, Prompt: "> "}
}

func (f *Flow) stepMFACode(current State, line string) Result {
	if !mfa.Verify(current.MFASecret, strings.TrimSpace(line)) {
		return Result{Next: Initial(), Error: "Login failed.", Prompt: menuText}
	}
	return Result{Next: State{Kind: KindAuthed, Username: current.Username, PlayerID: current.PlayerID}, Prompt: "> "}
}

func isValidUsername(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}

func (f *Flow) stepSignupUsername(line string) Result {
	if !isValidUsername(line) {
		return Result{Next: State{Kind: KindSignupUsername}, Error: "Usernames may only contain letters, digits, and underscores.", Prompt: "Choose a username:"}
	}
	lower := strings.ToLower(line)
	if f.isOnline != nil && f.isOnline(lower) {
		return Result{Next: State{Kind: KindSignupUsername}, Error: "That name is already taken.", Prompt: "Choose a username:"}
	}
	if _, found, err := f.store.FindByNameLower(lower); err == nil && found {
		return Result{Next: State{Kind: KindSignupUsername}, Error: "That name is already taken.", Prompt: "Choose a username:"}
	}
	return Result{Next: State{Kind: KindSignupPassword, Username: line}, Prompt: "Password (at least 6 characters):"}
}

func (f *Flow) stepSignupPassword(current State, line string) Result {
	if len(line) < 6 {
		return Result{Next: State{Kind: KindSignupPassword, Username: current.Username}, Error: "Password must be at least 6 characters.", Prompt: "Password (at least 6 characters):"}
	}
	return Result{Next: State{Kind: KindSignupPasswordConfirm, Username: current.Username, Pass1: line}, Prompt: "Confirm password:"}
}

func (f *Flow) stepSignupConfirm(current State, line string) Result {
	if line != current.Pass1 {
		return Result{Next: State{Kind: KindSignupPassword, Username: current.Username}, Error: "Passwords did not match.", Prompt: "Password (at least 6 characters):"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(current.Pass1), bcrypt.DefaultCost)
	if err != nil {
		return Result{Next: Initial(), Error: "Account creation failed.", Prompt: menuText}
	}

	account, err := f.store.CreateAccount(current.Username, string(hash))
	if err != nil {
		return Result{Next: Initial(), Error: "Account creation failed.", Prompt: menuText}
	}

	return Result{Next: State{Kind: KindAuthed, Username: account.Name, PlayerID: account.PlayerID}, Prompt: "> "}
}

// guestCounter assigns monotonically increasing Guest<N> names and bounds
// retries on name collision, per spec.md §4.2 ("Guest creation retries
// with an increasing counter").
type guestCounter struct {
	next int
}

const maxGuestRetries = 20

func (f *Flow) createGuest() (string, Account, error) {
	for i := 0; i < maxGuestRetries; i++ {
		f.guestCounter.next++
		name := "Guest" + strconv.Itoa(f.guestCounter.next)
		lower := strings.ToLower(name)
		if f.isOnline != nil && f.isOnline(lower) {
			continue
		}
		if _, found, err := f.store.FindByNameLower(lower); err == nil && found {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(name+strconv.Itoa(i)), bcrypt.DefaultCost)
		if err != nil {
			return "", Account{}, err
		}
		account, err := f.store.CreateAccount(name, string(hash))
		if err != nil {
			continue
		}
		return name, account, nil
	}
	return "", Account{}, errGuestExhausted
}

var errGuestExhausted = &guestExhaustedError{}

type guestExhaustedError struct{}

func (*guestExhaustedError) Error() string { return "guest login failed: no available guest name" }
