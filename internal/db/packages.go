package db

import "context"

// ReplacePendingPackages implements the heartbeat pipeline's "replace
// pending packages" step: delete the server's prior rows, then insert the
// reported set, unique by name (spec §4.11 step 7).
func (q *Queries) ReplacePendingPackages(ctx context.Context, serverID string, packages []PendingPackage) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM pending_packages WHERE server_id = $1`, serverID); err != nil {
		return err
	}

	seen := make(map[string]bool, len(packages))
	for _, p := range packages {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		_, err := q.db.Exec(ctx, `
			INSERT INTO pending_packages (server_id, name, current_version, new_version, repository, is_security)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			serverID, p.Name, p.CurrentVersion, p.NewVersion, p.Repository, p.IsSecurity,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListPendingPackages returns a server's outstanding package updates.
func (q *Queries) ListPendingPackages(ctx context.Context, serverID string) ([]PendingPackage, error) {
	rows, err := q.db.Query(ctx, `SELECT server_id, name, current_version, new_version, repository, is_security
		FROM pending_packages WHERE server_id = $1 ORDER BY name`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingPackage
	for rows.Next() {
		var p PendingPackage
		if err := rows.Scan(&p.ServerID, &p.Name, &p.CurrentVersion, &p.NewVersion, &p.Repository, &p.IsSecurity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
