// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pgstore is the Postgres reference implementation of the entity
// CRUD contract (coordination.Store). One table holds every entity kind as a
// JSONB row keyed by (tenant_id, entity_type, entity_id); every statement
// filters by tenant_id, so no query can cross tenants. Writes are atomic
// single-row upserts/deletes, the semantic contract the substrate requires
// of any storage engine, expressed as parameterized SQL rather than anything
// engine-specific.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS caliber_entities (
    tenant_id   UUID        NOT NULL,
    entity_type SMALLINT    NOT NULL,
    entity_id   UUID        NOT NULL,
    data        JSONB       NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, entity_type, entity_id)
);
CREATE INDEX IF NOT EXISTS caliber_entities_tenant_type_idx
    ON caliber_entities (tenant_id, entity_type);
`

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, caliberr.Storage("pg_open", err.Error()).WithCause(err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, caliberr.Storage("pg_ping", err.Error()).WithCause(err)
	}
	return db, nil
}

// Migrate creates the entity table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return caliberr.Storage("pg_migrate", err.Error()).WithCause(err)
	}
	return nil
}

// Store is a coordination.Store[T] over the shared entity table, fixed to
// one entity type at construction.
type Store[T any] struct {
	db         *sql.DB
	entityType entity.Type
}

// New constructs a Store for entityType over db.
func New[T any](db *sql.DB, entityType entity.Type) *Store[T] {
	return &Store[T]{db: db, entityType: entityType}
}

// Put upserts a single row atomically.
func (s *Store[T]) Put(ctx context.Context, tenant id.ID, entityID id.ID, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return caliberr.Storage("pg_marshal", err.Error()).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO caliber_entities (tenant_id, entity_type, entity_id, data, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, entity_type, entity_id)
DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		tenant, int16(s.entityType), entityID, data, time.Now().UTC())
	if err != nil {
		return caliberr.Storage("pg_upsert", err.Error()).WithCause(err)
	}
	return nil
}

// Get returns the row for (tenant, entityID), or nil when absent.
func (s *Store[T]) Get(ctx context.Context, tenant id.ID, entityID id.ID) (*T, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
SELECT data FROM caliber_entities
WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`,
		tenant, int16(s.entityType), entityID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, caliberr.Storage("pg_select", err.Error()).WithCause(err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, caliberr.Storage("pg_unmarshal", err.Error()).WithCause(err)
	}
	return &v, nil
}

// Delete removes the row. Deleting an absent row is not an error.
func (s *Store[T]) Delete(ctx context.Context, tenant id.ID, entityID id.ID) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM caliber_entities
WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`,
		tenant, int16(s.entityType), entityID)
	if err != nil {
		return caliberr.Storage("pg_delete", err.Error()).WithCause(err)
	}
	return nil
}

// List returns every row of this store's entity type for tenant, in
// creation order (entity ids are time-ordered, so id order is time order).
func (s *Store[T]) List(ctx context.Context, tenant id.ID) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT data FROM caliber_entities
WHERE tenant_id = $1 AND entity_type = $2
ORDER BY entity_id`,
		tenant, int16(s.entityType))
	if err != nil {
		return nil, caliberr.Storage("pg_list", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, caliberr.Storage("pg_scan", err.Error()).WithCause(err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, caliberr.Storage("pg_unmarshal", err.Error()).WithCause(err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, caliberr.Storage("pg_rows", err.Error()).WithCause(err)
	}
	return out, nil
}

// DeleteTenant removes every row for tenant across all entity types,
// returning the count. Used by tenant offboarding alongside cache and
// vector-index invalidation.
func DeleteTenant(ctx context.Context, db *sql.DB, tenant id.ID) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM caliber_entities WHERE tenant_id = $1`, tenant)
	if err != nil {
		return 0, caliberr.Storage("pg_delete_tenant", err.Error()).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, caliberr.Storage("pg_rows_affected", err.Error()).WithCause(err)
	}
	return n, nil
}
