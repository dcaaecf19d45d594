// Package store is the Postgres persistence layer. Every incident mutation
// writes its timeline event in the same transaction as the row update, and
// every tenant-scoped list embeds the caller's authz.Scope predicate instead
// of building its own membership SQL.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/klaxonhq/klaxon/db"
)

// Principal identifies who performed a mutation: a real user or one of the
// fixed per-source system users seeded by db.SystemUsers. Events persist the
// kind so automatic actions stay distinguishable from human ones.
type Principal struct {
	Kind string // db.PrincipalKindUser or db.PrincipalKindSystem
	ID   string
}

// UserPrincipal attributes an action to a real user.
func UserPrincipal(userID string) Principal {
	return Principal{Kind: db.PrincipalKindUser, ID: userID}
}

// SystemPrincipal attributes an action to a per-source system user.
func SystemPrincipal(userID string) Principal {
	return Principal{Kind: db.PrincipalKindSystem, ID: userID}
}

// Stores bundles every DAO over one connection pool. Handlers and workers
// take the interfaces they need; main wires this once.
type Stores struct {
	Incidents    IncidentStore
	Policies     PolicyStore
	Schedules    ScheduleStore
	Groups       GroupStore
	Integrations IntegrationStore
	Monitors     MonitorStore
	Providers    ProviderStore
	Tokens       TokenStore
}

func New(pg *sql.DB) *Stores {
	return &Stores{
		Incidents:    NewPGIncidentStore(pg),
		Policies:     NewPGPolicyStore(pg),
		Schedules:    NewPGScheduleStore(pg),
		Groups:       NewPGGroupStore(pg),
		Integrations: NewPGIntegrationStore(pg),
		Monitors:     NewPGMonitorStore(pg),
		Providers:    NewPGProviderStore(pg),
		Tokens:       NewPGTokenStore(pg),
	}
}

// execer lets statement helpers run against either *sql.DB or *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullStr maps "" to SQL NULL for optional uuid/text columns.
func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func timePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}
