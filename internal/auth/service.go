package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/internal/mapper"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// Messages returned to clients. They deliberately do not say which part of a
// credential was wrong.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgUserExists         = "User already exists"
	msgInvalidResetToken  = "Invalid or expired token"
	msgResetRequested     = "If the account exists, a reset link has been sent"
	msgAccountInactive    = "Account is no longer active"
)

// Observer receives auth outcomes. *observability.Metrics satisfies it.
type Observer interface {
	RecordLogin(result string)
	RecordPasswordReset(stage, result string)
}

type nopObserver struct{}

func (nopObserver) RecordLogin(string)                 {}
func (nopObserver) RecordPasswordReset(string, string) {}

// Service implements the auth endpoints on top of the user collection.
type Service struct {
	users    store.Collection[model.User]
	tokens   *TokenIssuer
	resets   ResetTokenStore
	notifier ResetNotifier
	cfg      config.AuthConfig
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithNotifier sets the reset-token notifier. The default logs tokens.
func WithNotifier(n ResetNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService wires an auth service.
func NewService(users store.Collection[model.User], tokens *TokenIssuer, resets ResetTokenStore, cfg config.AuthConfig, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		users:    users,
		tokens:   tokens,
		resets:   resets,
		notifier: LogNotifier{Logger: logger},
		cfg:      cfg,
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the issuer used to sign and verify bearer tokens.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string        `json:"token"`
	User  mapper.UserVM `json:"user"`
}

// Login authenticates by email (case-insensitive) or username.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		s.observer.RecordLogin("failure")
		return nil, model.NewAuthError(msgInvalidCredentials)
	}

	user, found, err := s.findUser(ctx, func(u model.User) bool {
		return strings.EqualFold(u.Email, identifier) || (u.Username != "" && u.Username == identifier)
	})
	if err != nil {
		return nil, err
	}
	if !found || user.Disabled || !CheckPassword(user.PasswordHash, password) {
		s.observer.RecordLogin("failure")
		return nil, model.NewAuthError(msgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.observer.RecordLogin("success")
	return &LoginResult{Token: token, User: mapper.ToUserVM(user)}, nil
}

// Authenticate verifies a bearer token and loads the account it names. The
// role comes from the stored user, not the token, so a role change or a
// disabled account applies to tokens issued before it.
func (s *Service) Authenticate(ctx context.Context, token string) (model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return model.User{}, err
	}
	user, err := s.users.Get(ctx, claims.ID)
	if model.IsKind(err, model.ErrNotFound) {
		return model.User{}, model.NewAuthError(msgAccountInactive)
	}
	if err != nil {
		return model.User{}, err
	}
	if user.Disabled {
		return model.User{}, model.NewAuthError(msgAccountInactive)
	}
	return user, nil
}

// Me returns the caller's profile.
func (s *Service) Me(ctx context.Context, userID string) (mapper.UserVM, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return mapper.UserVM{}, err
	}
	return mapper.ToUserVM(user), nil
}

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Username  string     `json:"username,omitempty"`
	Password  string     `json:"password"`
	Role      model.Role `json:"role"`
	OfficeID  string     `json:"officeId,omitempty"`
	SectionID string     `json:"sectionId,omitempty"`
	Phone     string     `json:"phone,omitempty"`
}

// Register creates a staff account. A duplicate email or username is a
// VALIDATION_FAILURE with the message "User already exists".
func (s *Service) Register(ctx context.Context, in RegisterInput) (mapper.UserVM, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Role == "" {
		in.Role = model.RoleOfficer
	}

	var details []model.FieldError
	if in.Name == "" {
		details = append(details, model.FieldError{Field: "name", Code: model.CodeRequired, Message: "name is required"})
	}
	if !ValidEmail(in.Email) {
		details = append(details, model.FieldError{Field: "email", Code: model.CodeInvalidValue, Message: "email is not a valid address"})
	}
	if len(in.Password) < s.cfg.MinPasswordLen {
		details = append(details, model.FieldError{Field: "password", Code: model.CodeInvalidValue, Message: "password is too short"})
	}
	if !in.Role.Valid() {
		details = append(details, model.FieldError{Field: "role", Code: model.CodeInvalidValue, Message: "role is not recognised"})
	}
	if len(details) > 0 {
		return mapper.UserVM{}, model.NewFieldValidationError(details)
	}

	_, exists, err := s.findUser(ctx, func(u model.User) bool {
		return strings.EqualFold(u.Email, in.Email) || (in.Username != "" && u.Username == in.Username)
	})
	if err != nil {
		return mapper.UserVM{}, err
	}
	if exists {
		return mapper.UserVM{}, model.NewValidationError(msgUserExists)
	}

	hash, err := HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return mapper.UserVM{}, err
	}

	now := s.now().UTC()
	created, err := s.users.Create(ctx, model.User{
		Meta:         model.Meta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		Name:         in.Name,
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Role:         in.Role,
		OfficeID:     in.OfficeID,
		SectionID:    in.SectionID,
		Phone:        in.Phone,
	})
	if err != nil {
		return mapper.UserVM{}, err
	}
	s.logger.Info("user registered",
		zap.String("user_id", created.ID),
		zap.String("role", string(created.Role)),
	)
	return mapper.ToUserVM(created), nil
}

// ChangeRole sets a user's role.
func (s *Service) ChangeRole(ctx context.Context, userID string, role model.Role) (mapper.UserVM, error) {
	if !role.Valid() {
		return mapper.UserVM{}, model.NewFieldValidationError([]model.FieldError{
			{Field: "role", Code: model.CodeInvalidValue, Message: "role is not recognised"},
		})
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return mapper.UserVM{}, err
	}
	user.Role = role
	user.UpdatedAt = s.now().UTC()
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return mapper.UserVM{}, err
	}
	return mapper.ToUserVM(updated), nil
}

// ForgotResult is the response to a reset request. Token is only set when
// the server is configured to expose reset tokens.
type ForgotResult struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

// ForgotPassword issues a reset token for email. The response is the same
// whether or not the account exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) (*ForgotResult, error) {
	email = strings.TrimSpace(email)
	result := &ForgotResult{Message: msgResetRequested}

	user, found, err := s.findUser(ctx, func(u model.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if err != nil {
		return nil, err
	}
	if !found || user.Disabled {
		s.observer.RecordPasswordReset("requested", "unknown_account")
		return result, nil
	}

	token, err := NewResetToken()
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(user.Email)
	if err := s.resets.Put(ctx, key, token, s.cfg.ResetTokenTTL); err != nil {
		return nil, err
	}
	if err := s.notifier.SendResetToken(ctx, user.Email, token, s.now().Add(s.cfg.ResetTokenTTL)); err != nil {
		s.logger.Warn("reset notification failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.observer.RecordPasswordReset("requested", "success")

	if s.cfg.ExposeResetToken {
		result.Token = token
	}
	return result, nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	email = strings.TrimSpace(email)
	if len(newPassword) < s.cfg.MinPasswordLen {
		return model.NewFieldValidationError([]model.FieldError{
			{Field: "newPassword", Code: model.CodeInvalidValue, Message: "password is too short"},
		})
	}
	if email == "" || token == "" {
		s.observer.RecordPasswordReset("completed", "invalid_token")
		return model.NewValidationError(msgInvalidResetToken)
	}

	ok, err := s.resets.Consume(ctx, strings.ToLower(email), token)
	if err != nil {
		return err
	}
	if !ok {
		s.observer.RecordPasswordReset("completed", "invalid_token")
		return model.NewValidationError(msgInvalidResetToken)
	}

	user, found, err := s.findUser(ctx, func(u model.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if err != nil {
		return err
	}
	if !found {
		s.observer.RecordPasswordReset("completed", "invalid_token")
		return model.NewValidationError(msgInvalidResetToken)
	}

	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if _, err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.observer.RecordPasswordReset("completed", "success")
	s.logger.Info("password reset completed", zap.String("user_id", user.ID))
	return nil
}

func (s *Service) findUser(ctx context.Context, match func(model.User) bool) (model.User, bool, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return model.User{}, false, err
	}
	for _, u := range users {
		if match(u) {
			return u, true, nil
		}
	}
	return model.User{}, false, nil
}

// ValidEmail reports whether s is a bare email address.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
