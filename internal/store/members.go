package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/erazemk/menjalnica/internal/model"
)

// MemberAttrs are the fields supplied when a member registers.
type MemberAttrs struct {
	Email        string
	DisplayName  string
	Location     string
	AvatarURL    string
	PasswordHash string
}

const memberColumns = `id, email, display_name, location, avatar_url, password_hash, points, created_at, deactivated_at`

func scanMember(s scanner) (*model.Member, error) {
	m := &model.Member{}
	err := s.Scan(&m.ID, &m.Email, &m.DisplayName, &m.Location, &m.AvatarURL,
		&m.PasswordHash, &m.Points, &m.CreatedAt, &m.DeactivatedAt)
	return m, err
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", model.ErrValidation)
	}
	return email, nil
}

// CreateMember registers a new member and credits welcomePoints through the
// points ledger, all in one transaction.
func CreateMember(ctx context.Context, db *sql.DB, attrs MemberAttrs, welcomePoints int64) (*model.Member, error) {
	email, err := NormalizeEmail(attrs.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(norm.NFC.String(attrs.DisplayName))
	if name == "" {
		return nil, fmt.Errorf("%w: display name required", model.ErrValidation)
	}
	if attrs.PasswordHash == "" {
		return nil, fmt.Errorf("%w: password required", model.ErrValidation)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	var member *model.Member
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO members (id, email, display_name, location, avatar_url, password_hash, points, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			id, email, name, strings.TrimSpace(attrs.Location), attrs.AvatarURL, attrs.PasswordHash, now,
		)
		if err != nil {
			err = dbError("creating member", err)
			if errors.Is(err, model.ErrConflict) {
				return fmt.Errorf("%w: email already registered", model.ErrConflict)
			}
			return err
		}

		if welcomePoints > 0 {
			if err := Credit(ctx, tx, id, welcomePoints, model.PointsWelcome, "", now); err != nil {
				return err
			}
		}

		member, err = GetMember(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// GetMember returns a member by ID, or nil if there is none.
func GetMember(ctx context.Context, q Querier, id string) (*model.Member, error) {
	m, err := scanMember(q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("getting member", err)
	}
	return m, nil
}

// GetMemberByEmail returns a member by email (including deactivated ones for
// auth checks), or nil if there is none.
func GetMemberByEmail(ctx context.Context, q Querier, email string) (*model.Member, error) {
	m, err := scanMember(q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("getting member by email", err)
	}
	return m, nil
}

// UpdateMemberProfile updates a member's profile fields. Points are not
// touched here.
func UpdateMemberProfile(ctx context.Context, q Querier, id, displayName, location, avatarURL string) error {
	displayName = strings.TrimSpace(norm.NFC.String(displayName))
	if displayName == "" {
		return fmt.Errorf("%w: display name required", model.ErrValidation)
	}

	_, err := q.ExecContext(ctx,
		`UPDATE members SET display_name = ?, location = ?, avatar_url = ?
		 WHERE id = ? AND deactivated_at IS NULL`,
		displayName, strings.TrimSpace(location), avatarURL, id,
	)
	if err != nil {
		return dbError("updating member", err)
	}
	return nil
}

// UpdateMemberPassword updates a member's password hash.
func UpdateMemberPassword(ctx context.Context, q Querier, id, passwordHash string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE members SET password_hash = ? WHERE id = ? AND deactivated_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return dbError("updating member password", err)
	}
	return nil
}

// DeactivateMember soft-deactivates a member at time at. Members are never
// deleted. Open swap requests are closed by the swap engine, not here.
func DeactivateMember(ctx context.Context, q Querier, id string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE members SET deactivated_at = ? WHERE id = ? AND deactivated_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return dbError("deactivating member", err)
	}
	return nil
}
