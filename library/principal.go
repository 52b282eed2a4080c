package library

import (
	"context"
	"database/sql"
	"errors"
)

// Principal is the authenticated caller of an operation. It is passed in
// explicitly; nothing in this package reads session state.
type Principal struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func (p Principal) IsLibrarian() bool { return p.Role == RoleLibrarian }

func (p Principal) requireLibrarian() error {
	if !p.IsLibrarian() {
		return ErrForbidden.WithMessage("librarian access required")
	}
	return nil
}

// requireSelfOrLibrarian lets patrons act on their own records only.
func (p Principal) requireSelfOrLibrarian(userID int64) error {
	if p.UserID == 0 || !p.Role.Valid() {
		return ErrForbidden
	}
	if p.IsLibrarian() || p.UserID == userID {
		return nil
	}
	return ErrForbidden.WithMessage("you can only act on your own account")
}

// requireActive resolves the principal against the users table. A token or
// session outlives a deactivation, so the account status is read on every
// operation.
func (lm *LibraryManager) requireActive(ctx context.Context, p Principal) error {
	var status AccountStatus
	err := lm.db.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id=?`, p.UserID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserInactive.WithMessage("account %d not found", p.UserID)
	}
	if err != nil {
		return storeErr(err, "resolve principal")
	}
	if status != AccountActive {
		return ErrUserInactive.WithMessage("your account is inactive")
	}
	return nil
}

func (lm *LibraryManager) requireLibrarian(ctx context.Context, p Principal) error {
	if err := p.requireLibrarian(); err != nil {
		return err
	}
	return lm.requireActive(ctx, p)
}

func (lm *LibraryManager) requireSelfOrLibrarian(ctx context.Context, p Principal, userID int64) error {
	if err := p.requireSelfOrLibrarian(userID); err != nil {
		return err
	}
	return lm.requireActive(ctx, p)
}
