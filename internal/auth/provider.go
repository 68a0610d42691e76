// Package auth - провайдер аутентификации: регистрация по email и паролю,
// подтверждение одноразовым кодом, сессии на JWT.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

const (
	// CodeTTL - срок действия одноразового кода
	CodeTTL = 15 * time.Minute
	// MaxCodeAttempts - сколько раз можно ошибиться с кодом до запроса нового
	MaxCodeAttempts = 5

	minPasswordLength = 8
)

// Accounts - хранилище учётных записей и сессий
type Accounts interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	SetOneTimeCode(ctx context.Context, accountID, codeHash string, expiresAt time.Time) error
	RegisterCodeAttempt(ctx context.Context, accountID string) error
	ConfirmEmail(ctx context.Context, accountID string) error
	TouchLogin(ctx context.Context, accountID string) error
	CreateSession(ctx context.Context, accountID string) (*models.AuthSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.AuthSession, error)
	RevokeSession(ctx context.Context, sessionID string) error
}

// Profiles создаёт профиль при первом подтверждённом входе
type Profiles interface {
	EnsureProfile(ctx context.Context, seed models.ProfileSeed) (models.User, error)
}

// Event - вид изменения сессии
type Event string

const (
	EventSignedIn  Event = "SIGNED_IN"
	EventSignedOut Event = "SIGNED_OUT"
)

// SessionChange передаётся подписчикам OnSessionChange
type SessionChange struct {
	Event   Event
	Session models.Session
}

// Provider - провайдер аутентификации
type Provider struct {
	accounts Accounts
	tokens   *utils.JWTService
	mailer   Mailer
	profiles Profiles
	now      func() time.Time

	mu        sync.Mutex
	listeners map[uint64]func(SessionChange)
	nextID    uint64
}

// NewProvider создает провайдер аутентификации
func NewProvider(accounts Accounts, tokens *utils.JWTService, mailer Mailer, profiles Profiles) *Provider {
	return &Provider{
		accounts:  accounts,
		tokens:    tokens,
		mailer:    mailer,
		profiles:  profiles,
		now:       time.Now,
		listeners: make(map[uint64]func(SessionChange)),
	}
}

// SignUp регистрирует учётную запись и отправляет код подтверждения.
// Возвращённая сессия не подтверждена и не содержит токена.
func (p *Provider) SignUp(ctx context.Context, email, password string, seed models.ProfileSeed) (models.Session, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return models.Session{}, apperr.Validation("Неверный формат email")
	}
	if len(password) < minPasswordLength {
		return models.Session{}, apperr.Validation(fmt.Sprintf("Пароль должен быть не короче %d символов", minPasswordLength))
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Session{}, fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	code, codeHash, err := newCode()
	if err != nil {
		return models.Session{}, err
	}
	expiresAt := p.now().Add(CodeTTL)

	acc := &models.Account{
		Email:        email,
		PasswordHash: string(passwordHash),
		ProfileSeed:  seed,
		OTPHash:      codeHash,
		OTPExpiresAt: &expiresAt,
	}
	if err := p.accounts.CreateAccount(ctx, acc); err != nil {
		return models.Session{}, err
	}

	if err := p.mailer.SendCode(email, code); err != nil {
		// Учётная запись создана, код можно запросить повторно
		log.Printf("Ошибка отправки кода на %s: %v", email, err)
	}
	return models.Session{UserID: acc.ID, Email: email}, nil
}

// SignIn выполняет вход по email и паролю. Неподтверждённый email - Unauthorized.
func (p *Provider) SignIn(ctx context.Context, email, password string) (models.Session, error) {
	acc, err := p.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return models.Session{}, apperr.Unauthorized("Неверный email или пароль")
	}
	if err != nil {
		return models.Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return models.Session{}, apperr.Unauthorized("Неверный email или пароль")
	}
	if !acc.EmailConfirmed {
		return models.Session{}, apperr.Unauthorized("Email не подтверждён")
	}
	return p.openSession(ctx, acc)
}

// SignOut завершает сессию токена
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.tokens.ParseToken(token)
	if err != nil {
		return apperr.Unauthorized("Недействительный токен")
	}
	if err := p.accounts.RevokeSession(ctx, claims.SessionID); err != nil {
		return err
	}
	p.emit(SessionChange{Event: EventSignedOut, Session: models.Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
	}})
	return nil
}

// GetSession проверяет токен и возвращает действующую сессию
func (p *Provider) GetSession(ctx context.Context, token string) (models.Session, error) {
	claims, err := p.tokens.ParseToken(token)
	if err != nil {
		return models.Session{}, apperr.Unauthorized("Недействительный или просроченный токен")
	}

	sess, err := p.accounts.GetSession(ctx, claims.SessionID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return models.Session{}, apperr.Unauthorized("Сессия не найдена")
	}
	if err != nil {
		return models.Session{}, err
	}
	if sess.RevokedAt != nil || sess.AccountID != claims.Subject {
		return models.Session{}, apperr.Unauthorized("Сессия завершена")
	}

	acc, err := p.accounts.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		return models.Session{}, err
	}
	if !acc.EmailConfirmed {
		return models.Session{}, apperr.Unauthorized("Email не подтверждён")
	}

	session := models.Session{
		UserID:         acc.ID,
		Email:          acc.Email,
		EmailConfirmed: true,
		SessionID:      sess.ID,
		Token:          token,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Caller возвращает вызывающего по токену; роль берётся из профиля
func (p *Provider) Caller(ctx context.Context, token string) (models.Caller, error) {
	session, err := p.GetSession(ctx, token)
	if err != nil {
		return models.Caller{}, err
	}
	u, err := p.profiles.EnsureProfile(ctx, models.ProfileSeed{UserID: session.UserID, Email: session.Email})
	if err != nil {
		return models.Caller{}, err
	}
	return models.Caller{
		UserID:  session.UserID,
		Email:   session.Email,
		IsAdmin: u.Role == models.RoleAdmin,
	}, nil
}

// VerifyOneTimeCode подтверждает email кодом из письма и открывает сессию
func (p *Provider) VerifyOneTimeCode(ctx context.Context, email, code string) (models.Session, error) {
	acc, err := p.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return models.Session{}, apperr.Unauthorized("Неверный код")
	}
	if err != nil {
		return models.Session{}, err
	}
	if acc.EmailConfirmed {
		return models.Session{}, apperr.Conflict("Email уже подтверждён")
	}
	if acc.OTPAttempts >= MaxCodeAttempts {
		return models.Session{}, apperr.Unauthorized("Слишком много попыток, запросите новый код")
	}
	if acc.OTPHash == "" || acc.OTPExpiresAt == nil || !p.now().Before(*acc.OTPExpiresAt) {
		return models.Session{}, apperr.Unauthorized("Срок действия кода истёк, запросите новый")
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.OTPHash), []byte(strings.TrimSpace(code))) != nil {
		if err := p.accounts.RegisterCodeAttempt(ctx, acc.ID); err != nil {
			log.Printf("Ошибка учёта попытки ввода кода: %v", err)
		}
		return models.Session{}, apperr.Unauthorized("Неверный код")
	}

	if err := p.accounts.ConfirmEmail(ctx, acc.ID); err != nil {
		return models.Session{}, err
	}
	acc.EmailConfirmed = true
	return p.openSession(ctx, acc)
}

// ResendOneTimeCode отправляет новый код. Для неизвестного email ничего не
// делает, чтобы не раскрывать, зарегистрирован ли адрес.
func (p *Provider) ResendOneTimeCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	acc, err := p.accounts.GetAccountByEmail(ctx, email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if acc.EmailConfirmed {
		return apperr.Conflict("Email уже подтверждён")
	}

	code, codeHash, err := newCode()
	if err != nil {
		return err
	}
	if err := p.accounts.SetOneTimeCode(ctx, acc.ID, codeHash, p.now().Add(CodeTTL)); err != nil {
		return err
	}
	return p.mailer.SendCode(email, code)
}

// OnSessionChange подписывает на входы и выходы. Возвращает функцию отписки.
func (p *Provider) OnSessionChange(fn func(SessionChange)) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) openSession(ctx context.Context, acc *models.Account) (models.Session, error) {
	seed := acc.ProfileSeed
	seed.UserID, seed.Email = acc.ID, acc.Email
	if _, err := p.profiles.EnsureProfile(ctx, seed); err != nil {
		return models.Session{}, err
	}

	sess, err := p.accounts.CreateSession(ctx, acc.ID)
	if err != nil {
		return models.Session{}, err
	}
	token, expiresAt, err := p.tokens.GenerateToken(acc.ID, sess.ID, acc.Email)
	if err != nil {
		return models.Session{}, err
	}
	if err := p.accounts.TouchLogin(ctx, acc.ID); err != nil {
		log.Printf("Ошибка обновления времени входа: %v", err)
	}

	session := models.Session{
		UserID:         acc.ID,
		Email:          acc.Email,
		EmailConfirmed: true,
		SessionID:      sess.ID,
		Token:          token,
		ExpiresAt:      expiresAt,
	}
	p.emit(SessionChange{Event: EventSignedIn, Session: session})
	return session, nil
}

func (p *Provider) emit(change SessionChange) {
	p.mu.Lock()
	listeners := make([]func(SessionChange), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// newCode выдаёт шестизначный код и его bcrypt-хеш
func newCode() (code, hash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", "", fmt.Errorf("ошибка генерации кода: %w", err)
	}
	code = fmt.Sprintf("%06d", n.Int64())
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("ошибка хеширования кода: %w", err)
	}
	return code, string(h), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
