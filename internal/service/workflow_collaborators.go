package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/workflow"
)

const defaultNumberPrefix = "EDO"

// NumberAssigner issues the registration number of a document leaving DRAFT. It runs
// inside the send transaction and may be called again if that transaction is retried.
type NumberAssigner interface {
	Assign(ctx context.Context, doc *models.Document) (string, error)
}

// NumberAssignerFunc adapts a function to NumberAssigner.
type NumberAssignerFunc func(ctx context.Context, doc *models.Document) (string, error)

// Assign implements NumberAssigner.
func (f NumberAssignerFunc) Assign(ctx context.Context, doc *models.Document) (string, error) {
	return f(ctx, doc)
}

// PrefixNumberAssigner produces numbers shaped like EDO-2026-1F3A9C0B.
type PrefixNumberAssigner struct {
	prefix string
	clock  clock.Clock
}

// NewPrefixNumberAssigner constructs the default assigner.
func NewPrefixNumberAssigner(prefix string, clk clock.Clock) *PrefixNumberAssigner {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultNumberPrefix
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &PrefixNumberAssigner{prefix: strings.ToUpper(prefix), clock: clk}
}

// Assign implements NumberAssigner.
func (a *PrefixNumberAssigner) Assign(_ context.Context, _ *models.Document) (string, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%04d-%s", a.prefix, a.clock.Now().UTC().Year(), suffix), nil
}

// PermissionChecker is the external authorization decision. documentID is empty for
// actions that are not bound to an existing document.
type PermissionChecker interface {
	MayAct(ctx context.Context, actorID string, action workflow.Action, documentID string) (bool, error)
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context, actorID string, action workflow.Action, documentID string) (bool, error)

// MayAct implements PermissionChecker.
func (f PermissionFunc) MayAct(ctx context.Context, actorID string, action workflow.Action, documentID string) (bool, error) {
	return f(ctx, actorID, action, documentID)
}

// AllowAll grants every action.
var AllowAll PermissionChecker = PermissionFunc(func(context.Context, string, workflow.Action, string) (bool, error) {
	return true, nil
})
