// Package template stores email templates and renders them on demand.
//
// Every placeholder a template uses must be declared in its Variables
// list when it is saved; rendering itself stays permissive and replaces
// unknown placeholders with their default or nothing.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/templating"
)

// Sentinel errors for the template service.
var (
	ErrNotFound            = errors.New("template not found")
	ErrInvalidTemplate     = errors.New("invalid template")
	ErrUndeclaredVariables = errors.New("template uses undeclared variables")
)

// ImplicitVariables are supplied for every campaign recipient and need no
// declaration.
var ImplicitVariables = []string{"contactId", "email", "firstName", "lastName", "unsubscribeUrl"}

// Repository defines the data access contract for templates.
type Repository interface {
	Get(ctx context.Context, name string) (*domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	// Save inserts or overwrites the template with the same name.
	Save(ctx context.Context, tpl *domain.Template) error
	Delete(ctx context.Context, name string) error
}

// Service validates, stores and renders templates.
type Service struct {
	repo   Repository
	engine *templating.Engine
	now    func() time.Time
}

// NewService creates a template service.
func NewService(repo Repository, engine *templating.Engine) *Service {
	return &Service{repo: repo, engine: engine, now: time.Now}
}

// Save validates tpl and stores it, replacing any earlier version.
func (s *Service) Save(ctx context.Context, tpl *domain.Template) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if strings.TrimSpace(tpl.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidTemplate)
	}
	if tpl.HTMLContent == "" && tpl.TextContent == "" {
		return fmt.Errorf("%w: html or text content is required", ErrInvalidTemplate)
	}
	switch tpl.Engine {
	case "", domain.EngineSimple, domain.EngineLiquid:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidTemplate, tpl.Engine)
	}
	if err := s.engine.Compile(tpl); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if missing := templating.UndeclaredVariables(tpl, ImplicitVariables...); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUndeclaredVariables, strings.Join(missing, ", "))
	}

	now := s.now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	tpl.Engine = tpl.EffectiveEngine()

	if err := s.repo.Save(ctx, tpl); err != nil {
		return err
	}
	s.engine.Forget(tpl.Name)
	logger.Info("template saved", "name", tpl.Name, "engine", string(tpl.Engine))
	return nil
}

// Get returns a template by name.
func (s *Service) Get(ctx context.Context, name string) (*domain.Template, error) {
	return s.repo.Get(ctx, name)
}

// List returns every template, ordered by name.
func (s *Service) List(ctx context.Context) ([]domain.Template, error) {
	return s.repo.List(ctx)
}

// Delete removes a template.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.repo.Delete(ctx, name); err != nil {
		return err
	}
	s.engine.Forget(name)
	return nil
}

// Render expands a stored template with vars.
func (s *Service) Render(ctx context.Context, name string, vars map[string]string) (domain.RenderedContent, error) {
	tpl, err := s.repo.Get(ctx, name)
	if err != nil {
		return domain.RenderedContent{}, err
	}
	return s.engine.RenderTemplate(tpl, vars)
}

// Preview renders like Render and also lists the declared variables the
// caller left out.
func (s *Service) Preview(ctx context.Context, name string, vars map[string]string) (domain.RenderedContent, []string, error) {
	tpl, err := s.repo.Get(ctx, name)
	if err != nil {
		return domain.RenderedContent{}, nil, err
	}
	return s.engine.RenderStrict(tpl, vars)
}
