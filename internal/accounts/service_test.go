package accounts

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/haldvik/skribo/internal/store"
)

// fakeRegistry stands in for the note store's account surface.
type fakeRegistry struct {
	secrets map[string]string
	failure error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{secrets: map[string]string{}}
}

func (f *fakeRegistry) RegisterAccount(accountID, secretHash string) error {
	if f.failure != nil {
		return f.failure
	}
	if _, exists := f.secrets[accountID]; exists {
		return store.ErrAccountExists
	}
	f.secrets[accountID] = secretHash
	return nil
}

func (f *fakeRegistry) AccountSecret(accountID string) (string, error) {
	if f.failure != nil {
		return "", f.failure
	}
	secret, exists := f.secrets[accountID]
	if !exists {
		return "", store.ErrAccountNotFound
	}
	return secret, nil
}

func mustService(t *testing.T, registry Registry) *Service {
	t.Helper()
	service, err := NewService(registry, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return service
}

func TestRegisterStoresBcryptHash(t *testing.T) {
	registry := newFakeRegistry()
	service := mustService(t, registry)

	if err := service.Register("mara", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash := registry.secrets["mara"]
	if hash == "" || hash == "hunter2hunter2" {
		t.Fatalf("expected a hashed secret, got %q", hash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2hunter2")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegisterRejectsTakenAccount(t *testing.T) {
	registry := newFakeRegistry()
	service := mustService(t, registry)

	if err := service.Register("mara", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Register("mara", "other-secret"); !errors.Is(err, ErrAccountTaken) {
		t.Fatalf("expected ErrAccountTaken, got %v", err)
	}
}

func TestRegisterValidatesCredentials(t *testing.T) {
	service := mustService(t, newFakeRegistry())

	cases := []struct {
		accountID string
		secret    string
	}{
		{"", "long-enough"},
		{"mara", ""},
		{"mara", "short"},
		{strings.Repeat("x", 200), "long-enough"},
		{"mara", strings.Repeat("x", 200)},
	}
	for index, c := range cases {
		if err := service.Register(c.accountID, c.secret); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("case %d: expected ErrInvalidCredentials, got %v", index, err)
		}
	}
}

func TestAuthenticateAcceptsCorrectSecret(t *testing.T) {
	registry := newFakeRegistry()
	service := mustService(t, registry)

	if err := service.Register("mara", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Authenticate("mara", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticateRejectsWrongSecretAndUnknownAccountAlike(t *testing.T) {
	registry := newFakeRegistry()
	service := mustService(t, registry)

	if err := service.Register("mara", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wrongSecret := service.Authenticate("mara", "wrong-secret")
	unknownAccount := service.Authenticate("ghost", "hunter2hunter2")
	if !errors.Is(wrongSecret, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", wrongSecret)
	}
	if !errors.Is(unknownAccount, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", unknownAccount)
	}
	// Both paths return the same error so callers cannot probe for accounts.
	if wrongSecret.Error() != unknownAccount.Error() {
		t.Fatalf("expected indistinguishable failures, got %v vs %v", wrongSecret, unknownAccount)
	}
}

func TestAuthenticateSurfacesRegistryFailures(t *testing.T) {
	registry := newFakeRegistry()
	registry.failure = errors.New("backend down")
	service := mustService(t, registry)

	if err := service.Authenticate("mara", "hunter2hunter2"); errors.Is(err, ErrInvalidCredentials) || err == nil {
		t.Fatalf("expected the backend failure to surface, got %v", err)
	}
}

func TestNewServiceRequiresRegistry(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatalf("expected an error for a nil registry")
	}
}
