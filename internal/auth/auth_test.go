package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	accounts map[string]Account
}

func newFakeStore() *fakeStore { return &fakeStore{accounts: make(map[string]Account)} }

func (s *fakeStore) FindByNameLower(nameLower string) (Account, bool, error) {
	a, ok := s.accounts[nameLower]
	return a, ok, nil
}

func (s *fakeStore) CreateAccount(name, passwordHash string) (Account, error) {
	a := Account{PlayerID: "pid-" + name, Name: name, PasswordHash: passwordHash}
	s.accounts[strings.ToLower(name)] = a
	return a, nil
}

func (s *fakeStore) SaveMFASecret(playerID, secret string) error {
	for k, a := range s.accounts {
		if a.PlayerID == playerID {
			a.MFASecret = secret
			s.accounts[k] = a
			return nil
		}
	}
	return nil
}

func TestSignupHappyPath(t *testing.T) {
	store := newFakeStore()
	f := NewFlow(store, nil, 3)

	r := f.Step(Initial(), "2")
	if r.Next.Kind != KindSignupUsername {
		t.Fatalf("expected SignupUsername, got %v", r.Next.Kind)
	}

	r = f.Step(r.Next, "Alice")
	if r.Next.Kind != KindSignupPassword {
		t.Fatalf("expected SignupPassword, got %v", r.Next.Kind)
	}

	r = f.Step(r.Next, "secret1")
	if r.Next.Kind != KindSignupPasswordConfirm {
		t.Fatalf("expected SignupPasswordConfirm, got %v", r.Next.Kind)
	}

	r = f.Step(r.Next, "secret1")
	if r.Next.Kind != KindAuthed {
		t.Fatalf("expected Authed, got %v: %s", r.Next.Kind, r.Error)
	}
	if r.Next.Username != "Alice" {
		t.Fatalf("expected username Alice, got %s", r.Next.Username)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	f := NewFlow(newFakeStore(), nil, 3)
	state := State{Kind: KindSignupUsername}
	r := f.Step(state, "Bob")
	r = f.Step(r.Next, "abc")
	if r.Next.Kind != KindSignupPassword {
		t.Fatalf("expected to stay in SignupPassword on short password, got %v", r.Next.Kind)
	}
	if r.Error == "" {
		t.Fatal("expected an error message for a too-short password")
	}
}

func TestSignupRejectsMismatchedConfirm(t *testing.T) {
	f := NewFlow(newFakeStore(), nil, 3)
	state := State{Kind: KindSignupPasswordConfirm, Username: "Carl", Pass1: "correcthorse"}
	r := f.Step(state, "wrongconfirm")
	if r.Next.Kind != KindSignupPassword {
		t.Fatalf("expected rollback to SignupPassword on mismatch, got %v", r.Next.Kind)
	}
}

func TestSignupRejectsInvalidUsernameChars(t *testing.T) {
	f := NewFlow(newFakeStore(), nil, 3)
	r := f.Step(State{Kind: KindSignupUsername}, "bad name!")
	if r.Next.Kind != KindSignupUsername {
		t.Fatalf("expected to stay in SignupUsername, got %v", r.Next.Kind)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	store := newFakeStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	store.accounts["dave"] = Account{PlayerID: "pid-dave", Name: "Dave", PasswordHash: string(hash)}

	f := NewFlow(store, nil, 3)

	r := f.Step(State{Kind: KindLoginUsername}, "Dave")
	if r.Next.Kind != KindLoginPassword {
		t.Fatalf("expected LoginPassword, got %v", r.Next.Kind)
	}

	ok := f.Step(r.Next, "hunter2")
	if ok.Next.Kind != KindAuthed {
		t.Fatalf("expected Authed on correct password, got %v", ok.Next.Kind)
	}

	bad := f.Step(r.Next, "wrongpass")
	if bad.Next.Kind != KindMenu {
		t.Fatalf("expected reset to Menu on wrong password, got %v", bad.Next.Kind)
	}
}

func TestStaffLoginRequiresMFAEnrollmentThenCode(t *testing.T) {
	store := newFakeStore()
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	store.accounts["grace"] = Account{PlayerID: "pid-grace", Name: "Grace", PasswordHash: string(hash), IsStaff: true}

	f := NewFlow(store, nil, 3)

	r := f.Step(State{Kind: KindLoginUsername}, "Grace")
	r = f.Step(r.Next, "hunter2")
	if r.Next.Kind != KindMFAEnroll {
		t.Fatalf("expected MFAEnroll for a staff account with no secret yet, got %v", r.Next.Kind)
	}

	bad := f.Step(r.Next, "000000")
	if bad.Next.Kind != KindMFAEnroll {
		t.Fatalf("expected to stay in MFAEnroll on a wrong code, got %v", bad.Next.Kind)
	}

	code, err := totp.GenerateCode(r.Next.MFASecret, time.Now())
	if err != nil {
		t.Fatalf("generating code: %v", err)
	}
	ok := f.Step(r.Next, code)
	if ok.Next.Kind != KindAuthed {
		t.Fatalf("expected Authed once enrollment is confirmed, got %v", ok.Next.Kind)
	}

	stored := store.accounts["grace"]
	if stored.MFASecret == "" {
		t.Fatal("expected the confirmed secret to be persisted")
	}

	f2 := NewFlow(store, nil, 3)
	r2 := f2.Step(State{Kind: KindLoginUsername}, "Grace")
	r2 = f2.Step(r2.Next, "hunter2")
	if r2.Next.Kind != KindMFACode {
		t.Fatalf("expected MFACode on a later login with an enrolled secret, got %v", r2.Next.Kind)
	}

	code2, err := totp.GenerateCode(stored.MFASecret, time.Now())
	if err != nil {
		t.Fatalf("generating code: %v", err)
	}
	ok2 := f2.Step(r2.Next, code2)
	if ok2.Next.Kind != KindAuthed {
		t.Fatalf("expected Authed with a valid MFA code, got %v", ok2.Next.Kind)
	}
}

func TestDuplicateUsernameRejectedAgainstOnlineAndPersisted(t *testing.T) {
	store := newFakeStore()
	store.accounts["eve"] = Account{PlayerID: "pid-eve", Name: "Eve"}

	f := NewFlow(store, func(nameLower string) bool { return nameLower == "frank" }, 3)

	r := f.Step(State{Kind: KindSignupUsername}, "Eve")
	if r.Next.Kind != KindSignupUsername || r.Error == "" {
		t.Fatal("expected rejection of a persisted duplicate name")
	}

	r = f.Step(State{Kind: KindSignupUsername}, "Frank")
	if r.Next.Kind != KindSignupUsername || r.Error == "" {
		t.Fatal("expected rejection of a name currently online")
	}
}
