package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

const minPasswordLength = 8

func validRole(role string) bool {
	switch role {
	case "member", "co_lead", "admin", "super_admin":
		return true
	}
	return false
}

type UserRegisterOptions struct {
	ID          string
	OrgID       string
	Email       string
	Password    string
	DisplayName string
	Role        string
	ActorID     string
}

func (e Engine) RegisterUser(ctx context.Context, opts UserRegisterOptions) (domain.User, error) {
	if opts.Email == "" || opts.Password == "" || opts.DisplayName == "" {
		return domain.User{}, errors.New("email, password and display_name are required")
	}
	if len(opts.Password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("invalid password: must be at least %d characters", minPasswordLength)
	}
	orgID := opts.OrgID
	if orgID == "" {
		orgID = e.orgID()
	}
	if orgID == "" {
		return domain.User{}, errors.New("organization is required")
	}
	if _, err := e.Repo.GetOrganization(ctx, orgID); err != nil {
		return domain.User{}, fmt.Errorf("organization %s: %w", orgID, err)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, fmt.Errorf("email %s is already registered", opts.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	role := opts.Role
	if role == "" {
		role = "member"
	}
	if !validRole(role) {
		return domain.User{}, fmt.Errorf("invalid role %s", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	u := domain.User{
		ID:           id,
		OrgID:        orgID,
		Email:        opts.Email,
		DisplayName:  opts.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    e.timestamp(),
	}
	actor := opts.ActorID
	if actor == "" {
		// Self-registration.
		actor = u.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.registered", orgID, "user", u.ID, actor, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks the password for the account behind the email. The
// error stays deliberately vague so a caller cannot probe which part failed.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	if email == "" || password == "" {
		return domain.User{}, errors.New("email and password are required")
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, errors.New("invalid email or password")
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, errors.New("invalid email or password")
	}
	return u, nil
}

func (e Engine) AssignUserRole(ctx context.Context, userID, role, actorID string) (domain.User, error) {
	if !validRole(role) {
		return domain.User{}, fmt.Errorf("invalid role %s", role)
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	previous := u.Role
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUserRole(ctx, tx, userID, role); err != nil {
		return u, fmt.Errorf("update role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.role_changed", u.OrgID, "user", u.ID, actorID, events.EventPayload{
		"from_role": previous,
		"to_role":   role,
	}); err != nil {
		return u, err
	}
	if err := tx.Commit(); err != nil {
		return u, err
	}
	u.Role = role
	return u, nil
}

func (e Engine) CreateOrganization(ctx context.Context, id, name, actorID string) (domain.Organization, error) {
	if name == "" {
		return domain.Organization{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.New().String()
	}
	org := domain.Organization{ID: id, Name: name, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOrganization(ctx, tx, org); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "organization.created", org.ID, "organization", org.ID, actorID, events.EventPayload{"name": org.Name}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return org, nil
}

// CreateAPIKey mints a key for the user and returns the raw secret exactly
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (domain.APIKey, string, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	raw, err := generateAPIKey()
	if err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "apikey.created", u.OrgID, "apikey", key.ID, actorID, events.EventPayload{"user_id": u.ID}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
