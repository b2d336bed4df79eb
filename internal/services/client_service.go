package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// Registrar accepts client registrations. *auth.Dispatcher implements it.
type Registrar interface {
	Register(ctx context.Context, client models.OAuthClient) error
}

// ClientRequest describes a client to register. A non-empty Secret makes
// the client confidential.
type ClientRequest struct {
	ID          string
	Name        string
	RedirectURI string
	Scope       string
	Secret      string
}

type ClientService interface {
	// CreateClient hashes the secret, if any, and registers the client.
	CreateClient(ctx context.Context, req ClientRequest) (models.OAuthClient, error)
}

type clientService struct {
	registrar Registrar
	cost      int
	log       logrus.FieldLogger
}

func NewClientService(registrar Registrar, log logrus.FieldLogger) ClientService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &clientService{registrar: registrar, cost: bcrypt.DefaultCost, log: log}
}

func (s *clientService) CreateClient(ctx context.Context, req ClientRequest) (models.OAuthClient, error) {
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		return models.OAuthClient{}, fmt.Errorf("client %s: %w", req.ID, err)
	}

	client := models.OAuthClient{
		ID:          req.ID,
		Name:        req.Name,
		RedirectURI: req.RedirectURI,
		Scope:       scope,
	}
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.Name == "" {
		client.Name = client.ID
	}
	if req.Secret != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Secret), s.cost)
		if err != nil {
			return models.OAuthClient{}, fmt.Errorf("hashing secret for client %s: %w", client.ID, err)
		}
		client.Confidential = true
		client.SecretHash = string(hashed)
	}

	if err := s.registrar.Register(ctx, client); err != nil {
		return models.OAuthClient{}, err
	}
	s.log.WithFields(logrus.Fields{
		"client_id":    client.ID,
		"redirect_uri": client.RedirectURI,
		"scope":        client.Scope.String(),
		"confidential": client.Confidential,
	}).Info("Registered OAuth client")
	return client, nil
}
