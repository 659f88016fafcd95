package services

import (
	"context"
	"fmt"

	"github.com/soochol/deskflow/internal/crypto"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

// ConnectionService manages tenant connections. Secrets are encrypted
// before they reach the repository and only decrypted by Resolve.
type ConnectionService struct {
	repo repository.ConnectionRepository
	enc  *crypto.Encryptor
}

func NewConnectionService(repo repository.ConnectionRepository, enc *crypto.Encryptor) *ConnectionService {
	return &ConnectionService{repo: repo, enc: enc}
}

// Create validates, encrypts secrets and stores a new connection.
func (s *ConnectionService) Create(ctx context.Context, conn *deskflow.Connection) (deskflow.ConnectionSafe, error) {
	if conn.ID == "" {
		conn.ID = deskflow.GenerateID("conn")
	}
	if err := validateConnection(conn, true); err != nil {
		return deskflow.ConnectionSafe{}, err
	}
	stored := *conn
	if err := s.encryptSecrets(&stored); err != nil {
		return deskflow.ConnectionSafe{}, err
	}
	if err := s.repo.Create(ctx, &stored); err != nil {
		return deskflow.ConnectionSafe{}, deskflow.WrapStore("create connection", err)
	}
	return stored.Safe(), nil
}

// Get returns the masked view of a connection.
func (s *ConnectionService) Get(ctx context.Context, tenantID, id string) (deskflow.ConnectionSafe, error) {
	conn, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return deskflow.ConnectionSafe{}, deskflow.WrapStore("get connection", err)
	}
	return conn.Safe(), nil
}

// Resolve retrieves a connection and decrypts its secrets for runtime use.
func (s *ConnectionService) Resolve(ctx context.Context, tenantID, id string) (*deskflow.Connection, error) {
	conn, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, deskflow.WrapStore("get connection", err)
	}
	cp := *conn
	if err := s.decryptSecrets(&cp); err != nil {
		return nil, fmt.Errorf("connection %q: %w", id, err)
	}
	return &cp, nil
}

// List returns the tenant's connections in safe (masked) form.
func (s *ConnectionService) List(ctx context.Context, tenantID string) ([]deskflow.ConnectionSafe, error) {
	conns, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, deskflow.WrapStore("list connections", err)
	}
	safe := make([]deskflow.ConnectionSafe, len(conns))
	for i, c := range conns {
		safe[i] = c.Safe()
	}
	return safe, nil
}

// Update replaces a connection. Empty secrets keep the stored ones, so
// clients can edit a connection without re-entering its password.
func (s *ConnectionService) Update(ctx context.Context, conn *deskflow.Connection) (deskflow.ConnectionSafe, error) {
	if err := validateConnection(conn, false); err != nil {
		return deskflow.ConnectionSafe{}, err
	}
	cur, err := s.repo.Get(ctx, conn.TenantID, conn.ID)
	if err != nil {
		return deskflow.ConnectionSafe{}, deskflow.WrapStore("get connection", err)
	}
	stored := *conn
	if err := s.encryptSecrets(&stored); err != nil {
		return deskflow.ConnectionSafe{}, err
	}
	if conn.Password == "" {
		stored.Password = cur.Password
	}
	if conn.Token == "" {
		stored.Token = cur.Token
	}
	if err := s.repo.Update(ctx, &stored); err != nil {
		return deskflow.ConnectionSafe{}, deskflow.WrapStore("update connection", err)
	}
	return stored.Safe(), nil
}

// Delete removes a connection.
func (s *ConnectionService) Delete(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete connection", s.repo.Delete(ctx, tenantID, id))
}

func validateConnection(conn *deskflow.Connection, creating bool) error {
	var problems []deskflow.Problem
	add := func(path, msg string) {
		problems = append(problems, deskflow.Problem{Path: path, Message: msg})
	}
	if conn.TenantID == "" {
		add("tenant_id", "is required")
	}
	if conn.Name == "" {
		add("name", "is required")
	}
	switch conn.Type {
	case deskflow.ConnTypeSlack:
		if conn.ExtraString("webhook_url") == "" && conn.Host == "" {
			add("extras.webhook_url", "is required for slack")
		}
	case deskflow.ConnTypeTelegram:
		if conn.Token == "" && creating {
			add("token", "is required for telegram")
		}
	case deskflow.ConnTypeSMTP:
		if conn.Host == "" {
			add("host", "is required for smtp")
		}
	case deskflow.ConnTypeHTTP:
		if conn.Host == "" {
			add("host", "is required for http")
		}
	case deskflow.ConnTypeOAuth2:
		if conn.ExtraString("token_url") == "" {
			add("extras.token_url", "is required for oauth2")
		}
	default:
		add("type", fmt.Sprintf("unknown connection type %q", conn.Type))
	}
	return deskflow.Validation(problems)
}

func (s *ConnectionService) encryptSecrets(conn *deskflow.Connection) error {
	var err error
	if conn.Password, err = s.enc.Seal(conn.TenantID, conn.Password); err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	if conn.Token, err = s.enc.Seal(conn.TenantID, conn.Token); err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	return nil
}

func (s *ConnectionService) decryptSecrets(conn *deskflow.Connection) error {
	var err error
	if conn.Password, err = s.enc.Open(conn.TenantID, conn.Password); err != nil {
		return fmt.Errorf("open password: %w", err)
	}
	if conn.Token, err = s.enc.Open(conn.TenantID, conn.Token); err != nil {
		return fmt.Errorf("open token: %w", err)
	}
	return nil
}
