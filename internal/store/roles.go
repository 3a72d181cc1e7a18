// ABOUTME: Role assignment and feature grant store methods for authorization
// ABOUTME: Roles attach to users; feature grants attach feature codes to roles

package store

import (
	"context"
	"fmt"
	"time"
)

// AddRole adds a role to a user. This operation is idempotent - adding an
// existing role succeeds silently.
func (s *SQLiteStore) AddRole(ctx context.Context, userID string, role RoleName) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	query := `
		INSERT OR IGNORE INTO user_roles (user_id, role, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, userID, role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("adding role: %w", err)
	}

	s.logger.Debug("added role", "user_id", userID, "role", role)
	return nil
}

// RemoveRole removes a role from a user. This operation is idempotent -
// removing a non-existent role succeeds silently.
func (s *SQLiteStore) RemoveRole(ctx context.Context, userID string, role RoleName) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID, role)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}

	s.logger.Debug("removed role", "user_id", userID, "role", role)
	return nil
}

// ListRoles returns all roles assigned to a user. Returns an empty slice
// if the user has no roles.
func (s *SQLiteStore) ListRoles(ctx context.Context, userID string) ([]RoleName, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, RoleName(role))
	}

	return roles, rows.Err()
}

// ListAllRoles returns every role assignment, ordered by user then role.
func (s *SQLiteStore) ListAllRoles(ctx context.Context) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role, created_at FROM user_roles ORDER BY user_id, role`)
	if err != nil {
		return nil, fmt.Errorf("listing role assignments: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var ur UserRole
		var role, createdAt string
		if err := rows.Scan(&ur.UserID, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning role assignment: %w", err)
		}
		ur.Role = RoleName(role)
		ur.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, ur)
	}

	return out, rows.Err()
}

// GrantFeature gives a role access to a feature code or prefix pattern.
// Idempotent.
func (s *SQLiteStore) GrantFeature(ctx context.Context, role RoleName, feature string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !ValidFeature(feature) {
		return fmt.Errorf("%w: %q", ErrInvalidFeature, feature)
	}

	query := `
		INSERT OR IGNORE INTO feature_grants (role, feature, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, role, feature, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("granting feature: %w", err)
	}

	s.logger.Info("granted feature", "role", role, "feature", feature)
	return nil
}

// RevokeFeature removes a grant. Idempotent.
func (s *SQLiteStore) RevokeFeature(ctx context.Context, role RoleName, feature string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feature_grants WHERE role = ? AND feature = ?`, role, feature)
	if err != nil {
		return fmt.Errorf("revoking feature: %w", err)
	}

	s.logger.Info("revoked feature", "role", role, "feature", feature)
	return nil
}

// ListGrants returns every feature grant ordered by role then feature.
func (s *SQLiteStore) ListGrants(ctx context.Context) ([]FeatureGrant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, feature, created_at FROM feature_grants ORDER BY role, feature`)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var grants []FeatureGrant
	for rows.Next() {
		var g FeatureGrant
		var role, createdAt string
		if err := rows.Scan(&role, &g.Feature, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		g.Role = RoleName(role)
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		grants = append(grants, g)
	}

	return grants, rows.Err()
}
