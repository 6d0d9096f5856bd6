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

// Package vectorindex provides similarity lookup over Artifact and Note
// embeddings, backed by chromem-go for embedded, zero-service vector
// storage. CALIBER does not generate embeddings (that is delegated to an
// adapter), so every entry here carries a pre-computed vector, and the
// embedding function handed to chromem is a sentinel that refuses to run.
//
// Collections are named per (tenant, entity type), so a search issued for
// one tenant structurally cannot return another tenant's vectors.
package vectorindex

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// Config configures the index. A zero PersistPath keeps vectors in memory
// only.
type Config struct {
	PersistPath string
	Compress    bool
}

// Match is one similarity result.
type Match struct {
	EntityID id.ID             `json:"entity_id"`
	Score    float32           `json:"score"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index is the embedded vector index.
type Index struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	embeddingFunc chromem.EmbeddingFunc
}

// New constructs an Index. With a PersistPath the database is loaded from
// (or created at) that path; otherwise it lives in memory.
func New(cfg Config) (*Index, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, caliberr.Storage("vector_db_open", err.Error()).WithCause(err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Identity sentinel: vectors arrive pre-computed, so chromem must never
	// fall back to embedding text itself.
	identity := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("embedding must be pre-computed by an adapter")
	}

	return &Index{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identity,
	}, nil
}

func collectionName(tenant id.ID, entityType entity.Type) string {
	return "tenant_" + tenant.String() + "_" + entityType.String()
}

func (i *Index) collection(tenant id.ID, entityType entity.Type) (*chromem.Collection, error) {
	name := collectionName(tenant, entityType)

	i.mu.RLock()
	if col, ok := i.collections[name]; ok {
		i.mu.RUnlock()
		return col, nil
	}
	i.mu.RUnlock()

	i.mu.Lock()
	defer i.mu.Unlock()
	if col, ok := i.collections[name]; ok {
		return col, nil
	}
	col, err := i.db.GetOrCreateCollection(name, nil, i.embeddingFunc)
	if err != nil {
		return nil, caliberr.Storage("vector_collection", err.Error()).WithCause(err)
	}
	i.collections[name] = col
	return col, nil
}

func (i *Index) upsert(ctx context.Context, tenant id.ID, entityType entity.Type, entityID id.ID, embedding []float32, content string, metadata map[string]string) error {
	if len(embedding) == 0 {
		return caliberr.Validation("missing_embedding", "entity has no embedding to index").
			WithDetail("entity_id", entityID.String())
	}
	col, err := i.collection(tenant, entityType)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        entityID.String(),
		Content:   content,
		Metadata:  metadata,
		Embedding: embedding,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return caliberr.Storage("vector_upsert", err.Error()).WithCause(err)
	}
	return nil
}

// IndexArtifact adds (or replaces) an artifact's embedding.
func (i *Index) IndexArtifact(ctx context.Context, a *entity.Artifact) error {
	return i.upsert(ctx, a.TenantID, entity.TypeArtifact, a.ID, a.Embedding, a.Content, map[string]string{
		"type":          a.Type,
		"name":          a.Name,
		"trajectory_id": a.TrajectoryID.String(),
		"scope_id":      a.ScopeID.String(),
	})
}

// IndexNote adds (or replaces) a note's embedding.
func (i *Index) IndexNote(ctx context.Context, n *entity.Note) error {
	return i.upsert(ctx, n.TenantID, entity.TypeNote, n.ID, n.Embedding, n.Content, map[string]string{
		"type":              n.Type,
		"title":             n.Title,
		"abstraction_level": string(n.AbstractionLevel),
	})
}

func (i *Index) search(ctx context.Context, tenant id.ID, entityType entity.Type, embedding []float32, topK int) ([]Match, error) {
	col, err := i.collection(tenant, entityType)
	if err != nil {
		return nil, err
	}
	if count := col.Count(); count == 0 {
		return nil, nil
	} else if topK > count {
		topK = count
	}
	results, err := col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, caliberr.Storage("vector_query", err.Error()).WithCause(err)
	}
	out := make([]Match, 0, len(results))
	for _, r := range results {
		entityID, err := id.Parse(r.ID)
		if err != nil {
			continue
		}
		out = append(out, Match{EntityID: entityID, Score: r.Similarity, Content: r.Content, Metadata: r.Metadata})
	}
	return out, nil
}

// SearchArtifacts returns the topK most similar artifacts for tenant.
func (i *Index) SearchArtifacts(ctx context.Context, tenant id.ID, embedding []float32, topK int) ([]Match, error) {
	return i.search(ctx, tenant, entity.TypeArtifact, embedding, topK)
}

// SearchNotes returns the topK most similar notes for tenant.
func (i *Index) SearchNotes(ctx context.Context, tenant id.ID, embedding []float32, topK int) ([]Match, error) {
	return i.search(ctx, tenant, entity.TypeNote, embedding, topK)
}

// Delete removes one entity's vector.
func (i *Index) Delete(ctx context.Context, tenant id.ID, entityType entity.Type, entityID id.ID) error {
	col, err := i.collection(tenant, entityType)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, entityID.String()); err != nil {
		return caliberr.Storage("vector_delete", err.Error()).WithCause(err)
	}
	return nil
}

// DropTenant removes every collection belonging to tenant, the vector-index
// side of tenant-wide invalidation.
func (i *Index) DropTenant(tenant id.ID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, entityType := range []entity.Type{entity.TypeArtifact, entity.TypeNote} {
		name := collectionName(tenant, entityType)
		if err := i.db.DeleteCollection(name); err != nil {
			return caliberr.Storage("vector_drop_tenant", err.Error()).WithCause(err)
		}
		delete(i.collections, name)
	}
	return nil
}
