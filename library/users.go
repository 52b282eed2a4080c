package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is lowered by tests.
var passwordCost = bcrypt.DefaultCost

const minPasswordLen = 6

// NewUser is the input for account provisioning.
type NewUser struct {
	LoginID     string
	Password    string
	Role        Role
	FirstName   string
	LastName    string
	Email       string
	IDNumber    string
	ClassOrDept string
}

// AddUser provisions an account. Only librarians may add users, except for
// the very first account, which must itself be a librarian.
func (lm *LibraryManager) AddUser(ctx context.Context, p Principal, u NewUser) (int64, error) {
	u.LoginID = strings.TrimSpace(u.LoginID)
	if u.LoginID == "" {
		return 0, invalid("login id is required")
	}
	if !u.Role.Valid() {
		return 0, invalid("unknown role %q", u.Role)
	}
	if len(u.Password) < minPasswordLen {
		return 0, invalid("password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), passwordCost)
	if err != nil {
		return 0, invalid("password cannot be used: %v", err)
	}

	var id int64
	err = lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
			return storeErr(err, "count users")
		}
		if n == 0 {
			if u.Role != RoleLibrarian {
				return invalid("the first account must be a librarian")
			}
		} else if err := lm.requireLibrarian(ctx, p); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO users(login_id, role, status, first_name, last_name, email, id_number, class_dept, password_hash)
            VALUES(?,?,?,?,?,?,?,?,?)`,
			u.LoginID, u.Role, AccountActive, strings.TrimSpace(u.FirstName), strings.TrimSpace(u.LastName),
			strings.TrimSpace(u.Email), strings.TrimSpace(u.IDNumber), strings.TrimSpace(u.ClassOrDept), string(hash))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrLoginTaken.WithMessage("login id %q already exists", u.LoginID)
			}
			return storeErr(err, "insert user")
		}
		id, err = res.LastInsertId()
		return storeErr(err, "insert user id")
	})
	if err != nil {
		return 0, err
	}
	lm.log.Info("user added", "user_id", id, "login_id", u.LoginID, "role", u.Role)
	return id, nil
}

// Authenticate verifies a login id and password and returns the principal
// for the account.
func (lm *LibraryManager) Authenticate(ctx context.Context, loginID, password string) (Principal, error) {
	u, err := getUserByLogin(ctx, lm.db.db, strings.TrimSpace(loginID))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if u.Status != AccountActive {
		return Principal{}, ErrUserInactive.WithMessage("account %q is inactive", u.LoginID)
	}
	return Principal{UserID: u.ID, Role: u.Role}, nil
}

// ChangePassword replaces the principal's own password.
func (lm *LibraryManager) ChangePassword(ctx context.Context, p Principal, current, next string) error {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return err
	}
	if len(next) < minPasswordLen {
		return invalid("new password must be at least %d characters", minPasswordLen)
	}
	if next == current {
		return invalid("new password must be different from the current password")
	}
	u, err := getUser(ctx, lm.db.db, p.UserID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials.WithMessage("current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), passwordCost)
	if err != nil {
		return invalid("password cannot be used: %v", err)
	}
	_, err = lm.db.db.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, string(hash), u.ID)
	return storeErr(err, "update password")
}

// SetUserStatus activates or deactivates an account. Accounts are never
// deleted.
func (lm *LibraryManager) SetUserStatus(ctx context.Context, p Principal, userID int64, status AccountStatus) error {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return err
	}
	if status != AccountActive && status != AccountInactive {
		return invalid("unknown account status %q", status)
	}
	res, err := lm.db.db.ExecContext(ctx, `UPDATE users SET status=? WHERE id=?`, status, userID)
	if err != nil {
		return storeErr(err, "update user status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	lm.log.Info("user status changed", "user_id", userID, "status", status, "by", p.UserID)
	return nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, p Principal, userID int64) (*User, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, userID); err != nil {
		return nil, err
	}
	return getUser(ctx, lm.db.db, userID)
}

func (lm *LibraryManager) GetUserByLogin(ctx context.Context, p Principal, loginID string) (*User, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	return getUserByLogin(ctx, lm.db.db, strings.TrimSpace(loginID))
}

// ListUsers returns all accounts, optionally restricted to one role.
func (lm *LibraryManager) ListUsers(ctx context.Context, p Principal, role Role) ([]*User, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	q := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		if !role.Valid() {
			return nil, invalid("unknown role %q", role)
		}
		q += ` WHERE role=?`
		args = append(args, role)
	}
	rows, err := lm.db.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, storeErr(err, "list users")
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storeErr(err, "scan user")
		}
		out = append(out, u)
	}
	return out, storeErr(rows.Err(), "list users")
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, login_id, role, status, first_name, last_name, email, id_number, class_dept, password_hash`

func scanUser(s rowScanner) (*User, error) {
	var u User
	if err := s.Scan(&u.ID, &u.LoginID, &u.Role, &u.Status, &u.FirstName, &u.LastName,
		&u.Email, &u.IDNumber, &u.ClassOrDept, &u.PasswordHash); err != nil {
		return nil, err
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, id int64) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound.WithMessage("user %d not found", id)
	}
	return u, storeErr(err, "get user")
}

func getUserByLogin(ctx context.Context, q querier, loginID string) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE login_id=?`, loginID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound.WithMessage("user %q not found", loginID)
	}
	return u, storeErr(err, "get user by login")
}
