package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/metrics"
)

type Service struct {
	users     UserRepository
	authz     *access.Authorizer
	passwords *PasswordHasher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewService(users UserRepository, authz *access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		authz:     authz,
		passwords: NewPasswordHasher(0),
		logger:    logger.With().Str("component", "identity").Logger(),
	}
}

// SetPasswordHasher replaces the default bcrypt hasher.
func (s *Service) SetPasswordHasher(h *PasswordHasher) {
	s.passwords = h
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Register creates an account. caller is nil for self-service sign-up;
// only an admin caller may create another admin.
func (s *Service) Register(ctx context.Context, caller *access.Caller, req RegisterRequest) (*User, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Role == access.RoleAdmin {
		if caller == nil {
			return nil, apperr.Forbidden("only an admin may create an admin account")
		}
		if err := s.authz.Check(*caller, access.UserCreate, access.Target{}); err != nil {
			return nil, err
		}
	}
	return s.create(ctx, &req)
}

// CreateAdmin bootstraps an admin account from the command line.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*User, error) {
	req := RegisterRequest{Name: name, Email: email, Password: password, Role: access.RoleAdmin}
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, &req)
}

func (s *Service) create(ctx context.Context, req *RegisterRequest) (*User, error) {
	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := req.newUser(hash)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user registered")
	return u, nil
}

// Authenticate checks credentials. Unknown emails, wrong passwords and
// deactivated accounts all yield the same invalid_credentials error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.passwords.burn(password)
			s.metrics.AuthAttempt("unknown_email")
			return nil, apperr.InvalidCredentials()
		}
		return nil, err
	}

	ok, err := s.passwords.Verify(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.AuthAttempt("bad_password")
		return nil, apperr.InvalidCredentials()
	}
	if !u.Active {
		s.metrics.AuthAttempt("inactive")
		return nil, apperr.InvalidCredentials()
	}
	s.metrics.AuthAttempt("success")
	return u, nil
}

func (s *Service) Get(ctx context.Context, caller access.Caller, id uuid.UUID) (*User, error) {
	if err := s.authz.Check(caller, access.UserRead, access.UserTarget(id)); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, id)
}

// Lookup fetches a user without an access check. It is meant for other
// services that have already authorized the surrounding operation.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// ResolveCaller maps a token subject to its current role. Deactivated
// accounts are rejected so revocation takes effect on the next request.
func (s *Service) ResolveCaller(ctx context.Context, id uuid.UUID) (access.Caller, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return access.Caller{}, apperr.Unauthorized("account no longer exists")
		}
		return access.Caller{}, err
	}
	if !u.Active {
		return access.Caller{}, apperr.Unauthorized("account is deactivated")
	}
	return u.Caller(), nil
}

func (s *Service) List(ctx context.Context, caller access.Caller, f ListFilter, limit, offset int) ([]*User, int, error) {
	if err := s.authz.Check(caller, access.UserList, access.Target{}); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.Field("role", "must be patient, doctor or admin")
	}
	return s.users.List(ctx, f, limit, offset)
}

// ListDoctors is the booking directory: every active doctor.
func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	active := true
	return s.users.List(ctx, ListFilter{Role: access.RoleDoctor, Active: &active}, limit, offset)
}

func (s *Service) UpdateProfile(ctx context.Context, caller access.Caller, id uuid.UUID, patch ProfilePatch) (*User, error) {
	if err := s.authz.Check(caller, access.UserUpdate, access.UserTarget(id)); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := patch.apply(u); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces the caller's own password after re-checking the
// current one. A wrong current password is invalid_credentials.
func (s *Service) ChangePassword(ctx context.Context, caller access.Caller, current, next string) error {
	if problem := passwordProblem(next); problem != "" {
		return apperr.Field("new_password", problem)
	}
	u, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(u.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.AuthAttempt("bad_password")
		return apperr.InvalidCredentials()
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("password changed")
	return nil
}

// SetRole moves a user to another role, replacing their profile with an
// empty one for the new role.
func (s *Service) SetRole(ctx context.Context, caller access.Caller, id uuid.UUID, role access.Role) (*User, error) {
	if err := s.authz.Check(caller, access.UserSetRole, access.UserTarget(id)); err != nil {
		return nil, err
	}
	if caller.ID == id {
		return nil, apperr.Forbidden("admins cannot change their own role")
	}
	if !role.Valid() {
		return nil, apperr.Field("role", "must be patient, doctor or admin")
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == role {
		return u, nil
	}

	from := u.Role
	u.Role = role
	u.Patient, u.Doctor = nil, nil
	switch role {
	case access.RolePatient:
		u.Patient = &PatientProfile{Allergies: []string{}}
	case access.RoleDoctor:
		u.Doctor = &DoctorProfile{}
	}
	if err := s.users.ReplaceRole(ctx, u); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	s.logger.Info().
		Str("user_id", id.String()).
		Str("from", string(from)).
		Str("to", string(role)).
		Str("by", caller.ID.String()).
		Msg("role changed")
	return u, nil
}

func (s *Service) Deactivate(ctx context.Context, caller access.Caller, id uuid.UUID) error {
	return s.setActive(ctx, caller, id, false)
}

func (s *Service) Activate(ctx context.Context, caller access.Caller, id uuid.UUID) error {
	return s.setActive(ctx, caller, id, true)
}

func (s *Service) setActive(ctx context.Context, caller access.Caller, id uuid.UUID, active bool) error {
	if err := s.authz.Check(caller, access.UserDeactivate, access.UserTarget(id)); err != nil {
		return err
	}
	if caller.ID == id {
		return apperr.Forbidden("admins cannot change their own account status")
	}
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", id.String()).Bool("active", active).Msg("account status changed")
	return nil
}

// CountByRole backs the admin dashboard.
func (s *Service) CountByRole(ctx context.Context) (map[access.Role]int, error) {
	return s.users.CountByRole(ctx)
}
