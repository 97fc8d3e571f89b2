package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

var userColumns = []interface{}{
	goqu.I("u.id"), goqu.I("u.email"),
	goqu.L("COALESCE(u.first_name, '')"), goqu.L("COALESCE(u.last_name, '')"),
	goqu.L("COALESCE(u.role, '')"), goqu.I("u.password_hash"),
	goqu.I("u.is_active"), goqu.I("u.is_staff"), goqu.I("u.is_superuser"), goqu.I("u.date_joined"),
	goqu.I("p.phone_number"), goqu.I("p.address"), goqu.I("p.date_of_birth"), goqu.I("p.gender"),
	goqu.I("p.specialization"), goqu.I("p.department_id"), goqu.I("d.name"),
	goqu.I("p.created_at"), goqu.I("p.updated_at"),
}

func usersDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("users").As("u")).
		LeftJoin(goqu.T("profiles").As("p"), goqu.On(goqu.I("p.user_id").Eq(goqu.I("u.id")))).
		LeftJoin(goqu.T("departments").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("p.department_id")))).
		Select(userColumns...)
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u                User
		p                Profile
		created, updated *time.Time
	)
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.DateJoined,
		&p.PhoneNumber, &p.Address, &p.DateOfBirth, &p.Gender,
		&p.Specialization, &p.DepartmentID, &p.DepartmentName, &created, &updated)
	if err != nil {
		return nil, err
	}
	if created != nil {
		p.CreatedAt = *created
		if updated != nil {
			p.UpdatedAt = *updated
		}
		u.Profile = &p
	}
	return &u, nil
}

func (r *userRepoPG) queryUsers(ctx context.Context, ds *goqu.SelectDataset) ([]*User, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepoPG) getOne(ctx context.Context, ds *goqu.SelectDataset) (*User, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	u.Email = strings.ToLower(u.Email)
	var role *string
	if u.Role != "" {
		role = &u.Role
	}

	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, role, password_hash,
			is_active, is_staff, is_superuser)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING date_joined`,
		u.ID, u.Email, u.FirstName, u.LastName, role, u.PasswordHash,
		u.IsActive, u.IsStaff, u.IsSuperuser).Scan(&u.DateJoined)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return apperr.Conflict("a user with that email already exists")
		}
		return fmt.Errorf("insert user: %w", err)
	}

	p := &Profile{}
	err = q.QueryRow(ctx,
		`INSERT INTO profiles (user_id) VALUES ($1) RETURNING created_at, updated_at`,
		u.ID).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	u.Profile = p
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, usersDataset().Where(goqu.I("u.id").Eq(id.String())))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, usersDataset().Where(goqu.L("lower(u.email)").Eq(strings.ToLower(email))))
}

func (r *userRepoPG) exec(ctx context.Context, what, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, "set user active", `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

func (r *userRepoPG) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, "set password", `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *userRepoPG) SetRole(ctx context.Context, id uuid.UUID, role string, staff bool) error {
	return r.exec(ctx, "set role", `UPDATE users SET role = $2, is_staff = $3 WHERE id = $1`, id, role, staff)
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	if err := r.exec(ctx, "update user names",
		`UPDATE users SET first_name = $2, last_name = $3 WHERE id = $1`,
		u.ID, u.FirstName, u.LastName); err != nil {
		return err
	}
	p := u.Profile
	if p == nil {
		p = &Profile{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO profiles (user_id, phone_number, address, date_of_birth, gender,
			specialization, department_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			address = EXCLUDED.address,
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			specialization = EXCLUDED.specialization,
			department_id = EXCLUDED.department_id,
			updated_at = NOW()`,
		u.ID, p.PhoneNumber, p.Address, p.DateOfBirth, p.Gender, p.Specialization, p.DepartmentID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("department does not exist")
		}
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *userRepoPG) ListActiveByRole(ctx context.Context, role string) ([]*User, error) {
	return r.queryUsers(ctx, usersDataset().
		Where(goqu.I("u.role").Eq(role), goqu.I("u.is_active").IsTrue()).
		Order(goqu.I("u.last_name").Asc(), goqu.I("u.first_name").Asc()))
}

func (r *userRepoPG) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]*User, error) {
	ds := usersDataset().Where(goqu.I("u.role").Eq(auth.RoleDoctor), goqu.I("u.is_active").IsTrue())
	if departmentID != nil {
		ds = ds.Where(goqu.I("p.department_id").Eq(departmentID.String()))
	}
	return r.queryUsers(ctx, ds.Order(goqu.I("u.last_name").Asc(), goqu.I("u.first_name").Asc()))
}

func (r *userRepoPG) ListNursesInDepartmentOf(ctx context.Context, doctorID uuid.UUID) ([]*User, error) {
	dept := db.Goqu.From("profiles").
		Select("department_id").
		Where(goqu.C("user_id").Eq(doctorID.String()))
	return r.queryUsers(ctx, usersDataset().Where(
		goqu.I("u.role").Eq(auth.RoleNurse),
		goqu.I("u.is_active").IsTrue(),
		goqu.I("p.department_id").Eq(dept),
	))
}

func (r *userRepoPG) ListNonSuperusers(ctx context.Context, f UserFilter) ([]*User, int, error) {
	base := db.Goqu.From(goqu.T("users").As("u")).
		LeftJoin(goqu.T("profiles").As("p"), goqu.On(goqu.I("p.user_id").Eq(goqu.I("u.id")))).
		LeftJoin(goqu.T("departments").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("p.department_id")))).
		Where(goqu.I("u.is_superuser").IsFalse())
	if f.Role != "" {
		base = base.Where(goqu.I("u.role").Eq(f.Role))
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		base = base.Where(goqu.Or(
			goqu.I("u.email").ILike(pattern),
			goqu.I("u.first_name").ILike(pattern),
			goqu.I("u.last_name").ILike(pattern),
		))
	}

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build user count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	users, err := r.queryUsers(ctx, base.Select(userColumns...).
		Order(goqu.I("u.date_joined").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset)))
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *userRepoPG) ListRoles(ctx context.Context) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT name FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *userRepoPG) EnsureRoles(ctx context.Context, roles []string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO roles (name) SELECT unnest($1::text[]) ON CONFLICT DO NOTHING`, roles)
	if err != nil {
		return 0, fmt.Errorf("seed roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Department Repository ===========

type departmentRepoPG struct{ pool *pgxpool.Pool }

func NewDepartmentRepoPG(pool *pgxpool.Pool) DepartmentRepository {
	return &departmentRepoPG{pool: pool}
}

func (r *departmentRepoPG) Create(ctx context.Context, d *Department) error {
	d.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO departments (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at`,
		d.ID, d.Name, d.Description).Scan(&d.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "departments_name_key") {
			return apperr.Conflict("department %q already exists", d.Name)
		}
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (r *departmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	var d Department
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, description, created_at FROM departments WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("department not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	return &d, nil
}

func (r *departmentRepoPG) List(ctx context.Context) ([]*Department, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT id, name, description, created_at FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	var items []*Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

// =========== Session Repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)
		RETURNING created_at`,
		s.ID, s.UserID, s.ExpiresAt).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) Active(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND expires_at > NOW())`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return ok, nil
}

func (r *sessionRepoPG) DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Verification Code Repository ===========

type codeRepoPG struct{ pool *pgxpool.Pool }

func NewCodeRepoPG(pool *pgxpool.Pool) CodeRepository {
	return &codeRepoPG{pool: pool}
}

func (r *codeRepoPG) Upsert(ctx context.Context, c *VerificationCode) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO verification_codes (user_id, purpose, code, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, purpose) DO UPDATE
		SET code = EXCLUDED.code, created_at = EXCLUDED.created_at
		RETURNING created_at`,
		c.UserID, c.Purpose, c.Code).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert verification code: %w", err)
	}
	return nil
}

func (r *codeRepoPG) Get(ctx context.Context, userID uuid.UUID, purpose string) (*VerificationCode, error) {
	c := VerificationCode{UserID: userID, Purpose: purpose}
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT code, created_at FROM verification_codes WHERE user_id = $1 AND purpose = $2`,
		userID, purpose).Scan(&c.Code, &c.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("verification code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get verification code: %w", err)
	}
	return &c, nil
}

func (r *codeRepoPG) Delete(ctx context.Context, userID uuid.UUID, purpose string) error {
	_, err := connFor(ctx, r.pool).Exec(ctx,
		`DELETE FROM verification_codes WHERE user_id = $1 AND purpose = $2`, userID, purpose)
	if err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}

func (r *codeRepoPG) Consume(ctx context.Context, userID uuid.UUID, purpose, code string) (*VerificationCode, error) {
	c := VerificationCode{UserID: userID, Purpose: purpose, Code: code}
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		DELETE FROM verification_codes
		WHERE user_id = $1 AND purpose = $2 AND code = $3
		RETURNING created_at`,
		userID, purpose, code).Scan(&c.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("verification code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("consume verification code: %w", err)
	}
	return &c, nil
}
