package accounts

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/haldvik/skribo/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong secrets alike,
	// so login failures do not leak which accounts exist.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrAccountTaken indicates a registration collision.
	ErrAccountTaken = errors.New("accounts: account id already taken")

	errMissingRegistry = errors.New("accounts: registry is required")
)

// Registry is the slice of the note store the account service needs.
type Registry interface {
	RegisterAccount(accountID, secretHash string) error
	AccountSecret(accountID string) (string, error)
}

// Service handles account registration and credential checks.
type Service struct {
	registry Registry
	logger   *zap.Logger
}

// NewService constructs the account service.
func NewService(registry Registry, logger *zap.Logger) (*Service, error) {
	if registry == nil {
		return nil, errMissingRegistry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, logger: logger}, nil
}

// Register creates a new account with a bcrypt-hashed secret.
func (s *Service) Register(accountID, secret string) error {
	if err := validateCredentials(accountID, secret); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.registry.RegisterAccount(accountID, string(hash)); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return ErrAccountTaken
		}
		return err
	}

	s.logger.Info("account registered", zap.String("account_id", accountID))
	return nil
}

// Authenticate checks the secret against the stored hash.
func (s *Service) Authenticate(accountID, secret string) error {
	storedHash, err := s.registry.AccountSecret(accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if storedHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func validateCredentials(accountID, secret string) error {
	if err := validation.Validate(accountID, validation.Required, validation.Length(1, 190)); err != nil {
		return ErrInvalidCredentials
	}
	if err := validation.Validate(secret, validation.Required, validation.Length(6, 190)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
