package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

// User is a tagged variant on Role: Patient is set only for patients,
// Doctor only for doctors, and admins carry neither.
type User struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Role         access.Role     `json:"role"`
	PasswordHash string          `json:"-"`
	Active       bool            `json:"active"`
	Patient      *PatientProfile `json:"patient_profile,omitempty"`
	Doctor       *DoctorProfile  `json:"doctor_profile,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PatientProfile struct {
	Height                string   `json:"height"`
	Weight                string   `json:"weight"`
	BloodGroup            string   `json:"blood_group"`
	EmergencyContactName  string   `json:"emergency_contact_name"`
	EmergencyContactPhone string   `json:"emergency_contact_phone"`
	Allergies             []string `json:"allergies"`
}

type DoctorProfile struct {
	Specialization  string `json:"specialization"`
	LicenseNumber   string `json:"license_number"`
	YearsExperience int    `json:"years_experience"`
	Affiliation     string `json:"affiliation"`
}

// Caller returns the access identity of u.
func (u *User) Caller() access.Caller {
	return access.Caller{ID: u.ID, Role: u.Role}
}

// Validate checks that the variant matches the role. License numbers are
// required at registration only; a role change starts from an empty profile.
func (u *User) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(u.Name) == "" {
		fields["name"] = "is required"
	}
	switch u.Role {
	case access.RolePatient:
		if u.Patient == nil || u.Doctor != nil {
			fields["role"] = "patient must carry a patient profile only"
		} else {
			validatePatient(u.Patient, fields)
		}
	case access.RoleDoctor:
		if u.Doctor == nil || u.Patient != nil {
			fields["role"] = "doctor must carry a doctor profile only"
		} else {
			validateDoctor(u.Doctor, fields)
		}
	case access.RoleAdmin:
		if u.Patient != nil || u.Doctor != nil {
			fields["role"] = "admin carries no profile"
		}
	default:
		fields["role"] = "must be patient, doctor or admin"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid user", fields)
	}
	return nil
}

var bloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

func validatePatient(p *PatientProfile, fields map[string]string) {
	if p.BloodGroup != "" && !bloodGroups[p.BloodGroup] {
		fields["blood_group"] = "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-"
	}
}

func validateDoctor(d *DoctorProfile, fields map[string]string) {
	if d.YearsExperience < 0 {
		fields["years_experience"] = "must not be negative"
	}
}

// NormalizeEmail trims and lower-cases an address. Uniqueness is enforced on
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeAllergies trims entries, drops blanks and removes case-insensitive
// duplicates, keeping the first spelling.
func NormalizeAllergies(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

const (
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

func passwordProblem(pw string) string {
	switch {
	case len(pw) < minPasswordLen:
		return "must be at least 8 characters"
	case len(pw) > maxPasswordLen:
		return "must be at most 72 bytes"
	}
	return ""
}

// PasswordChange is the body of PUT /users/me/password.
type PasswordChange struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     access.Role     `json:"role"`
	Patient  *PatientProfile `json:"patient_profile,omitempty"`
	Doctor   *DoctorProfile  `json:"doctor_profile,omitempty"`
}

func (r *RegisterRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	if r.Role == "" {
		r.Role = access.RolePatient
	}
	if r.Patient != nil {
		r.Patient.Allergies = NormalizeAllergies(r.Patient.Allergies)
	}
}

func (r *RegisterRequest) validate() error {
	fields := map[string]string{}
	if r.Name == "" {
		fields["name"] = "is required"
	}
	if r.Email == "" {
		fields["email"] = "is required"
	} else if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		fields["email"] = "is not a valid address"
	}
	if problem := passwordProblem(r.Password); problem != "" {
		fields["password"] = problem
	}
	if !r.Role.Valid() {
		fields["role"] = "must be patient, doctor or admin"
	}
	if r.Role != access.RolePatient && r.Patient != nil {
		fields["patient_profile"] = "only patients have a patient profile"
	}
	if r.Role != access.RoleDoctor && r.Doctor != nil {
		fields["doctor_profile"] = "only doctors have a doctor profile"
	}
	if r.Role == access.RoleDoctor && (r.Doctor == nil || strings.TrimSpace(r.Doctor.LicenseNumber) == "") {
		fields["license_number"] = "is required for doctors"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid registration", fields)
	}
	return nil
}

// newUser builds the variant for the requested role. Missing patient
// profiles start out empty.
func (r *RegisterRequest) newUser(hash string) *User {
	u := &User{
		Name:         r.Name,
		Email:        r.Email,
		Role:         r.Role,
		PasswordHash: hash,
		Active:       true,
	}
	switch r.Role {
	case access.RolePatient:
		u.Patient = r.Patient
		if u.Patient == nil {
			u.Patient = &PatientProfile{}
		}
		if u.Patient.Allergies == nil {
			u.Patient.Allergies = []string{}
		}
	case access.RoleDoctor:
		u.Doctor = r.Doctor
	}
	return u
}

// ProfilePatch carries the fields a user may change about themself. Nil
// pointers are left untouched.
type ProfilePatch struct {
	Name    *string              `json:"name,omitempty"`
	Role    *string              `json:"role,omitempty"`
	Patient *PatientProfilePatch `json:"patient_profile,omitempty"`
	Doctor  *DoctorProfilePatch  `json:"doctor_profile,omitempty"`
}

type PatientProfilePatch struct {
	Height                *string   `json:"height,omitempty"`
	Weight                *string   `json:"weight,omitempty"`
	BloodGroup            *string   `json:"blood_group,omitempty"`
	EmergencyContactName  *string   `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string   `json:"emergency_contact_phone,omitempty"`
	Allergies             *[]string `json:"allergies,omitempty"`
}

type DoctorProfilePatch struct {
	Specialization  *string `json:"specialization,omitempty"`
	LicenseNumber   *string `json:"license_number,omitempty"`
	YearsExperience *int    `json:"years_experience,omitempty"`
	Affiliation     *string `json:"affiliation,omitempty"`
}

// apply mutates u. Patches aimed at the other variant are rejected.
func (p *ProfilePatch) apply(u *User) error {
	if p.Role != nil {
		return apperr.Field("role", "cannot be changed through a profile update")
	}
	if p.Patient != nil && u.Role != access.RolePatient {
		return apperr.Field("patient_profile", "only patients have a patient profile")
	}
	if p.Doctor != nil && u.Role != access.RoleDoctor {
		return apperr.Field("doctor_profile", "only doctors have a doctor profile")
	}

	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if pp := p.Patient; pp != nil {
		prof := u.Patient
		setString(&prof.Height, pp.Height)
		setString(&prof.Weight, pp.Weight)
		setString(&prof.BloodGroup, pp.BloodGroup)
		setString(&prof.EmergencyContactName, pp.EmergencyContactName)
		setString(&prof.EmergencyContactPhone, pp.EmergencyContactPhone)
		if pp.Allergies != nil {
			prof.Allergies = NormalizeAllergies(*pp.Allergies)
		}
	}
	if dp := p.Doctor; dp != nil {
		prof := u.Doctor
		setString(&prof.Specialization, dp.Specialization)
		setString(&prof.LicenseNumber, dp.LicenseNumber)
		setString(&prof.Affiliation, dp.Affiliation)
		if dp.YearsExperience != nil {
			prof.YearsExperience = *dp.YearsExperience
		}
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// ListFilter narrows the admin user directory.
type ListFilter struct {
	Role   access.Role
	Query  string
	Active *bool
}
