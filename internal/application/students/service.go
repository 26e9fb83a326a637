package students

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"math"
	"strings"
	"unicode"

	"certify-backend/internal/application/auth"
	"certify-backend/internal/application/authz"
	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"
	"certify-backend/internal/pkg/validation"

	"gorm.io/gorm"
)

// Service holds the DB for the student directory.
type Service struct {
	DB   *gorm.DB
	Gate authz.Gate
}

type ListInput struct {
	Search     string
	Department string
	Page       int
	Limit      int
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

// List returns students matching search (name, email or student number) and
// department, one page at a time.
func (s *Service) List(ctx context.Context, caller authz.Caller, in ListInput) ([]domain.User, Pagination, error) {
	if err := s.Gate.Authorize(caller, authz.ActionListStudents, authz.Resource{}); err != nil {
		return nil, Pagination{}, err
	}
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit < 1 {
		in.Limit = defaultLimit
	}
	if in.Limit > maxLimit {
		in.Limit = maxLimit
	}

	q := s.DB.WithContext(ctx).Model(&domain.User{}).Where("role = ?", constants.Student)
	if search := strings.ToLower(strings.TrimSpace(in.Search)); search != "" {
		like := "%" + escapeLike(search) + "%"
		q = q.Where("(LOWER(fullname) LIKE ? ESCAPE '\\' OR LOWER(email) LIKE ? ESCAPE '\\' OR LOWER(student_number) LIKE ? ESCAPE '\\')", like, like, like)
	}
	if dept := strings.TrimSpace(in.Department); dept != "" {
		q = q.Where("department = ?", dept)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, Pagination{}, apperr.Persistence("Failed to count students", err)
	}
	var out []domain.User
	if err := q.Order("fullname ASC").Limit(in.Limit).Offset((in.Page - 1) * in.Limit).Find(&out).Error; err != nil {
		return nil, Pagination{}, apperr.Persistence("Failed to list students", err)
	}
	return out, Pagination{
		Page:  in.Page,
		Limit: in.Limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(in.Limit))),
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type CreateInput struct {
	Email         string `json:"email" validate:"required,email,max=254"`
	Fullname      string `json:"name" validate:"required,max=120"`
	StudentNumber string `json:"student_id" validate:"max=32"`
	Department    string `json:"department" validate:"required,max=120"`
	Phone         string `json:"phone" validate:"max=32"`
	Password      string `json:"password"`
}

// Created is a new student plus the temporary password when one was generated.
type Created struct {
	User              *domain.User
	TemporaryPassword string
}

// Create adds a student account. Without a password a random temporary one is
// generated and returned once.
func (s *Service) Create(ctx context.Context, caller authz.Caller, in CreateInput) (*Created, error) {
	if err := s.Gate.Authorize(caller, authz.ActionCreateStudent, authz.Resource{}); err != nil {
		return nil, err
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Fullname = strings.TrimSpace(in.Fullname)
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.Department = strings.TrimSpace(in.Department)
	in.Phone = strings.TrimSpace(in.Phone)

	details := validation.Struct(in)
	if details == nil {
		details = map[string]string{}
	}
	if in.Fullname != "" && !validation.IsValidFullname(in.Fullname) {
		details["fullname"] = "Full name contains invalid characters (only letters, spaces, hyphens, and apostrophes allowed)"
	}
	if in.Password != "" && !validation.IsValidPassword(in.Password) {
		details["password"] = "Invalid password format"
	}
	if len(details) > 0 {
		return nil, apperr.Validation("Invalid student", details)
	}

	temporary := ""
	password := in.Password
	if password == "" {
		p, err := temporaryPassword()
		if err != nil {
			return nil, err
		}
		password, temporary = p, p
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Fullname:     titleCaseAndNormalize(in.Fullname),
		Email:        in.Email,
		PasswordHash: hash,
		Role:         constants.Student,
		Department:   in.Department,
	}
	if in.StudentNumber != "" {
		u.StudentNumber = &in.StudentNumber
	}
	if in.Phone != "" {
		u.Phone = &in.Phone
	}
	if err := s.DB.WithContext(ctx).Create(u).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Email or student id already registered")
		}
		return nil, apperr.Persistence("Failed to create student", err)
	}
	return &Created{User: u, TemporaryPassword: temporary}, nil
}

// temporaryPassword satisfies validation.IsValidPassword.
func temporaryPassword() (string, error) {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "Tmp-" + base64.RawURLEncoding.EncodeToString(b) + "7!", nil
}

func titleCaseAndNormalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	capitalize := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !capitalize {
				b.WriteRune(' ')
				capitalize = true
			}
			continue
		}
		if capitalize {
			b.WriteRune(unicode.ToUpper(r))
			capitalize = false
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
