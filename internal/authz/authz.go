// ABOUTME: Feature authorization backed by a casbin RBAC model
// ABOUTME: Users map to roles, roles map to feature codes or ".*" prefix patterns

package authz

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/2389/bizhub/internal/store"
)

//go:embed model.conf
var modelContent string

// Source supplies the grants and role assignments policies are built from.
type Source interface {
	ListGrants(ctx context.Context) ([]store.FeatureGrant, error)
	ListAllRoles(ctx context.Context) ([]store.UserRole, error)
}

// snapshot is one immutable load of the policy set.
type snapshot struct {
	enforcer *casbin.Enforcer
	// exact holds non-wildcard feature codes named by grants.
	exact []string
}

// Authorizer answers feature access questions for users. Reads are lock-free;
// Reload swaps in a freshly built enforcer.
type Authorizer struct {
	src     Source
	catalog []string
	state   atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// New builds an Authorizer and loads policies from src. catalog lists the
// feature codes the portal knows about; wildcard grants expand against it.
func New(ctx context.Context, src Source, catalog []string, logger *slog.Logger) (*Authorizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authorizer{
		src:     src,
		catalog: dedupeSorted(catalog),
		logger:  logger.With("component", "authz"),
	}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func roleSubject(role store.RoleName) string {
	return "role:" + string(role)
}

// Reload rebuilds the enforcer from the current grants and role assignments.
func (a *Authorizer) Reload(ctx context.Context) error {
	m, err := model.NewModelFromString(modelContent)
	if err != nil {
		return fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return fmt.Errorf("create casbin enforcer: %w", err)
	}

	grants, err := a.src.ListGrants(ctx)
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	assignments, err := a.src.ListAllRoles(ctx)
	if err != nil {
		return fmt.Errorf("list role assignments: %w", err)
	}

	// Owners see everything regardless of stored grants.
	policies := [][]string{{roleSubject(store.RoleOwner), "*"}}
	seen := map[string]bool{roleSubject(store.RoleOwner) + " *": true}
	var exact []string
	for _, g := range grants {
		// AddPolicies rejects the whole batch when any rule repeats.
		key := roleSubject(g.Role) + " " + g.Feature
		if seen[key] {
			continue
		}
		seen[key] = true
		policies = append(policies, []string{roleSubject(g.Role), g.Feature})
		if !strings.HasSuffix(g.Feature, "*") {
			exact = append(exact, g.Feature)
		}
	}
	if _, err := enforcer.AddPolicies(policies); err != nil {
		return fmt.Errorf("add policies: %w", err)
	}

	if len(assignments) > 0 {
		groupings := make([][]string, 0, len(assignments))
		for _, ur := range assignments {
			groupings = append(groupings, []string{ur.UserID, roleSubject(ur.Role)})
		}
		if _, err := enforcer.AddGroupingPolicies(groupings); err != nil {
			return fmt.Errorf("add role assignments: %w", err)
		}
	}

	a.state.Store(&snapshot{enforcer: enforcer, exact: dedupeSorted(exact)})
	a.logger.Info("policies loaded", "grants", len(grants), "assignments", len(assignments))
	return nil
}

// Allowed reports whether userID may use the feature code. Errors deny.
func (a *Authorizer) Allowed(userID, code string) bool {
	if userID == "" || code == "" {
		return false
	}
	snap := a.state.Load()
	if snap == nil {
		return false
	}

	allowed, err := snap.enforcer.Enforce(userID, code)
	if err != nil {
		a.logger.Error("enforce failed", "user_id", userID, "feature", code, "error", err)
		return false
	}
	return allowed
}

// Features returns every known feature code userID may use, sorted.
// Wildcard grants are expanded against the catalog plus exactly granted codes.
func (a *Authorizer) Features(userID string) []string {
	snap := a.state.Load()
	if snap == nil || userID == "" {
		return []string{}
	}

	candidates := dedupeSorted(append(append([]string{}, a.catalog...), snap.exact...))
	features := []string{}
	for _, code := range candidates {
		if a.Allowed(userID, code) {
			features = append(features, code)
		}
	}
	return features
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
