// Package policy stores per-user access statements and answers permission checks.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

// Collection is the record collection policies are stored in.
const Collection = "policy"

const resourcePrefix = "urn:x-adapt:"

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// CRUD lists every asset action, in grant order.
var CRUD = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrInvalidEffect  = errors.New("invalid policy effect")
)

// Gate is the permission contract the asset core depends on.
type Gate interface {
	Check(ctx context.Context, userID string, action Action, resource string) (bool, error)
	CreatePolicy(ctx context.Context, userID string) (Policy, error)
	Grant(ctx context.Context, p Policy, actions []Action, resource string, effect Effect) error
}

// Statement grants or denies actions on a resource. Resource may be a path.Match glob.
type Statement struct {
	Actions  []Action `json:"actions"`
	Resource string   `json:"resource"`
	Effect   Effect   `json:"effect"`
}

type Policy struct {
	ID         string      `json:"_id"`
	UserID     string      `json:"userId"`
	Statements []Statement `json:"statements"`
}

// BuildResource returns the resource identifier for path within a tenant.
func BuildResource(tenantID, resourcePath string) string {
	return resourcePrefix + tenantID + resourcePath
}

// Service is a Gate backed by a record store.
type Service struct {
	store  records.Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store records.Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "policy")),
	}
}

// CreatePolicy inserts an empty policy owned by userID.
func (s *Service) CreatePolicy(ctx context.Context, userID string) (Policy, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Policy{}, fmt.Errorf("user id is required")
	}
	doc, err := s.store.Create(ctx, Collection, records.Document{
		"userId":     userID,
		"statements": []any{},
	})
	if err != nil {
		return Policy{}, fmt.Errorf("create policy: %w", err)
	}
	return Policy{ID: doc.ID(), UserID: userID}, nil
}

// Grant appends a statement to an existing policy.
func (s *Service) Grant(ctx context.Context, p Policy, actions []Action, resource string, effect Effect) error {
	if effect != EffectAllow && effect != EffectDeny {
		return fmt.Errorf("%w: %q", ErrInvalidEffect, effect)
	}
	if len(actions) == 0 || strings.TrimSpace(resource) == "" {
		return fmt.Errorf("grant requires actions and a resource")
	}
	docs, err := s.store.Retrieve(ctx, Collection, records.ByID(p.ID), records.Options{})
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if len(docs) != 1 {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, p.ID)
	}
	current := decodePolicy(docs[0])
	current.Statements = append(current.Statements, Statement{
		Actions:  actions,
		Resource: resource,
		Effect:   effect,
	})
	if err := s.store.Update(ctx, Collection, records.ByID(p.ID), records.Document{
		"statements": encodeStatements(current.Statements),
	}); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

// Check reports whether userID may perform action on resource. An explicit deny wins over any allow.
func (s *Service) Check(ctx context.Context, userID string, action Action, resource string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	docs, err := s.store.Retrieve(ctx, Collection, records.Eq{Field: "userId", Value: userID}, records.Options{})
	if err != nil {
		return false, fmt.Errorf("load policies: %w", err)
	}
	allowed := false
	for _, doc := range docs {
		for _, st := range decodePolicy(doc).Statements {
			if !st.covers(action, resource) {
				continue
			}
			if st.Effect == EffectDeny {
				return false, nil
			}
			if st.Effect == EffectAllow {
				allowed = true
			}
		}
	}
	return allowed, nil
}

func (st Statement) covers(action Action, resource string) bool {
	actionMatch := false
	for _, a := range st.Actions {
		if a == action || a == "*" {
			actionMatch = true
			break
		}
	}
	if !actionMatch {
		return false
	}
	if st.Resource == resource {
		return true
	}
	ok, err := path.Match(st.Resource, resource)
	return err == nil && ok
}

func decodePolicy(doc records.Document) Policy {
	p := Policy{ID: doc.ID()}
	p.UserID, _ = doc["userId"].(string)
	raw, _ := doc["statements"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var st Statement
		st.Resource, _ = m["resource"].(string)
		effect, _ := m["effect"].(string)
		st.Effect = Effect(effect)
		actions, _ := m["actions"].([]any)
		for _, a := range actions {
			if name, ok := a.(string); ok {
				st.Actions = append(st.Actions, Action(name))
			}
		}
		p.Statements = append(p.Statements, st)
	}
	return p
}

func encodeStatements(statements []Statement) []any {
	out := make([]any, 0, len(statements))
	for _, st := range statements {
		actions := make([]any, 0, len(st.Actions))
		for _, a := range st.Actions {
			actions = append(actions, string(a))
		}
		out = append(out, map[string]any{
			"actions":  actions,
			"resource": st.Resource,
			"effect":   string(st.Effect),
		})
	}
	return out
}
