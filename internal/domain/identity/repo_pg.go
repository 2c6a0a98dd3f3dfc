package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `u.id, u.name, u.email, u.role, u.password_hash, u.active, u.created_at, u.updated_at,
	pp.user_id IS NOT NULL, COALESCE(pp.height, ''), COALESCE(pp.weight, ''), COALESCE(pp.blood_group, ''),
	COALESCE(pp.emergency_contact_name, ''), COALESCE(pp.emergency_contact_phone, ''), COALESCE(pp.allergies, '{}'),
	dp.user_id IS NOT NULL, COALESCE(dp.specialization, ''), COALESCE(dp.license_number, ''),
	COALESCE(dp.years_experience, 0), COALESCE(dp.affiliation, '')`

const userFrom = ` FROM users u
	LEFT JOIN patient_profiles pp ON pp.user_id = u.id
	LEFT JOIN doctor_profiles dp ON dp.user_id = u.id`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO users (id, name, email, role, password_hash, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at`,
			u.ID, u.Name, u.Email, string(u.Role), u.PasswordHash, u.Active,
		).Scan(&u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "users_email_key") {
				return apperr.DuplicateEmail(u.Email)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return r.insertProfile(ctx, u)
	})
}

func (r *userRepoPG) insertProfile(ctx context.Context, u *User) error {
	switch {
	case u.Patient != nil:
		p := u.Patient
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO patient_profiles (user_id, height, weight, blood_group,
				emergency_contact_name, emergency_contact_phone, allergies)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, p.Height, p.Weight, p.BloodGroup,
			p.EmergencyContactName, p.EmergencyContactPhone, allergiesOrEmpty(p.Allergies),
		)
		if err != nil {
			return fmt.Errorf("insert patient profile: %w", err)
		}
	case u.Doctor != nil:
		d := u.Doctor
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO doctor_profiles (user_id, specialization, license_number, years_experience, affiliation)
			VALUES ($1, $2, $3, $4, $5)`,
			u.ID, d.Specialization, d.LicenseNumber, d.YearsExperience, d.Affiliation,
		)
		if err != nil {
			return fmt.Errorf("insert doctor profile: %w", err)
		}
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+userFrom+` WHERE u.id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+userFrom+` WHERE lower(u.email) = lower($1)`, email))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE users SET name = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			u.ID, u.Name,
		).Scan(&u.UpdatedAt)
		if err != nil {
			if db.IsNoRows(err) {
				return apperr.NotFound("user")
			}
			return fmt.Errorf("update user: %w", err)
		}

		switch {
		case u.Patient != nil:
			p := u.Patient
			_, err = r.conn(ctx).Exec(ctx, `
				UPDATE patient_profiles SET height = $2, weight = $3, blood_group = $4,
					emergency_contact_name = $5, emergency_contact_phone = $6, allergies = $7
				WHERE user_id = $1`,
				u.ID, p.Height, p.Weight, p.BloodGroup,
				p.EmergencyContactName, p.EmergencyContactPhone, allergiesOrEmpty(p.Allergies),
			)
		case u.Doctor != nil:
			d := u.Doctor
			_, err = r.conn(ctx).Exec(ctx, `
				UPDATE doctor_profiles SET specialization = $2, license_number = $3,
					years_experience = $4, affiliation = $5
				WHERE user_id = $1`,
				u.ID, d.Specialization, d.LicenseNumber, d.YearsExperience, d.Affiliation,
			)
		}
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
}

func (r *userRepoPG) ReplaceRole(ctx context.Context, u *User) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE users SET role = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			u.ID, string(u.Role),
		).Scan(&u.UpdatedAt)
		if err != nil {
			if db.IsNoRows(err) {
				return apperr.NotFound("user")
			}
			return fmt.Errorf("update role: %w", err)
		}
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_profiles WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("drop patient profile: %w", err)
		}
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_profiles WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("drop doctor profile: %w", err)
		}
		return r.insertProfile(ctx, u)
	})
}

func (r *userRepoPG) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("u.role = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, db.LikeContains(q))
		where = append(where, fmt.Sprintf("(u.name ILIKE $%d OR u.email ILIKE $%d)", len(args), len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("u.active = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users u`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, limit, offset)
	query := `SELECT ` + userCols + userFrom + clause +
		fmt.Sprintf(` ORDER BY u.name, u.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) CountByRole(ctx context.Context) (map[access.Role]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("count by role: %w", err)
	}
	defer rows.Close()

	counts := map[access.Role]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan role count: %w", err)
		}
		counts[access.Role(role)] = n
	}
	return counts, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u          User
		role       string
		hasPatient bool
		hasDoctor  bool
		p          PatientProfile
		d          DoctorProfile
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &role, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt,
		&hasPatient, &p.Height, &p.Weight, &p.BloodGroup,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.Allergies,
		&hasDoctor, &d.Specialization, &d.LicenseNumber, &d.YearsExperience, &d.Affiliation,
	)
	if err != nil {
		return nil, err
	}
	u.Role = access.Role(role)
	if hasPatient {
		u.Patient = &p
	}
	if hasDoctor {
		u.Doctor = &d
	}
	return &u, nil
}

func allergiesOrEmpty(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
