package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
)

// AccountStore хранит учётные записи и сессии провайдера аутентификации
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore создает хранилище учётных записей
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountColumns = `id, email, password_hash, email_confirmed, profile_seed,
	otp_hash, otp_expires_at, otp_attempts, created_at, last_login_at`

// CreateAccount создает учётную запись. Занятый email - Conflict.
func (s *AccountStore) CreateAccount(ctx context.Context, a *models.Account) error {
	ctx, cancel := Bound(ctx)
	defer cancel()

	seed, err := json.Marshal(a.ProfileSeed)
	if err != nil {
		return fmt.Errorf("ошибка сериализации данных профиля: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO auth_accounts (email, password_hash, profile_seed, otp_hash, otp_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.Email, a.PasswordHash, seed, nullText(a.OTPHash), a.OTPExpiresAt).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Wrap(apperr.KindConflict, "Пользователь с таким email уже зарегистрирован", err)
		}
		return fmt.Errorf("ошибка при создании учётной записи: %w", err)
	}
	return nil
}

// GetAccountByEmail возвращает учётную запись по email
func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	ctx, cancel := Bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// GetAccountByID возвращает учётную запись по ID
func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	ctx, cancel := Bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// SetOneTimeCode сохраняет хеш нового кода и сбрасывает счётчик попыток
func (s *AccountStore) SetOneTimeCode(ctx context.Context, accountID, codeHash string, expiresAt time.Time) error {
	return s.exec(ctx, "ошибка при сохранении кода подтверждения", `
		UPDATE auth_accounts
		SET otp_hash = $2, otp_expires_at = $3, otp_attempts = 0
		WHERE id = $1
	`, accountID, codeHash, expiresAt)
}

// RegisterCodeAttempt увеличивает счётчик неудачных попыток ввода кода
func (s *AccountStore) RegisterCodeAttempt(ctx context.Context, accountID string) error {
	return s.exec(ctx, "ошибка при учёте попытки ввода кода", `
		UPDATE auth_accounts SET otp_attempts = otp_attempts + 1 WHERE id = $1
	`, accountID)
}

// ConfirmEmail отмечает email подтверждённым и стирает код
func (s *AccountStore) ConfirmEmail(ctx context.Context, accountID string) error {
	return s.exec(ctx, "ошибка при подтверждении email", `
		UPDATE auth_accounts
		SET email_confirmed = TRUE, otp_hash = NULL, otp_expires_at = NULL, otp_attempts = 0
		WHERE id = $1
	`, accountID)
}

// TouchLogin обновляет время последнего входа
func (s *AccountStore) TouchLogin(ctx context.Context, accountID string) error {
	return s.exec(ctx, "ошибка при обновлении времени входа", `
		UPDATE auth_accounts SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1
	`, accountID)
}

// CreateSession создает сессию учётной записи
func (s *AccountStore) CreateSession(ctx context.Context, accountID string) (*models.AuthSession, error) {
	ctx, cancel := Bound(ctx)
	defer cancel()

	sess := &models.AuthSession{AccountID: accountID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO auth_sessions (account_id) VALUES ($1)
		RETURNING id, login_time
	`, accountID).Scan(&sess.ID, &sess.LoginTime)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании сессии: %w", err)
	}
	return sess, nil
}

// GetSession возвращает сессию по ID
func (s *AccountStore) GetSession(ctx context.Context, sessionID string) (*models.AuthSession, error) {
	ctx, cancel := Bound(ctx)
	defer cancel()

	var (
		sess    models.AuthSession
		revoked pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, login_time, revoked_at FROM auth_sessions WHERE id = $1
	`, sessionID).Scan(&sess.ID, &sess.AccountID, &sess.LoginTime, &revoked)
	if err != nil {
		return nil, notFoundOr(err, "Сессия не найдена", "ошибка при получении сессии")
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

// RevokeSession завершает сессию
func (s *AccountStore) RevokeSession(ctx context.Context, sessionID string) error {
	return s.exec(ctx, "ошибка при завершении сессии", `
		UPDATE auth_sessions SET revoked_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID)
}

func (s *AccountStore) exec(ctx context.Context, message, sql string, args ...any) error {
	ctx, cancel := Bound(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a         models.Account
		seed      []byte
		otpHash   pgtype.Text
		otpExpiry pgtype.Timestamptz
		lastLogin pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.EmailConfirmed, &seed,
		&otpHash, &otpExpiry, &a.OTPAttempts, &a.CreatedAt, &lastLogin)
	if err != nil {
		return nil, notFoundOr(err, "Учётная запись не найдена", "ошибка при получении учётной записи")
	}

	if len(seed) > 0 {
		if err := json.Unmarshal(seed, &a.ProfileSeed); err != nil {
			return nil, fmt.Errorf("ошибка разбора данных профиля: %w", err)
		}
	}
	if otpHash.Valid {
		a.OTPHash = otpHash.String
	}
	if otpExpiry.Valid {
		t := otpExpiry.Time
		a.OTPExpiresAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

func notFoundOr(err error, notFound, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, notFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return apperr.Wrap(apperr.KindNotFound, notFound, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
