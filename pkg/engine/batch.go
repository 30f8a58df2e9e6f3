package engine

import (
	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/naming"
)

// Batch is a validated set of configuration documents prepared for
// dispatch. Holding a Batch implies every uniqueness and referential
// constraint was checked; the dispatcher only accepts batches, never raw
// documents.
type Batch struct {
	// Documents are the loaded documents in load order.
	Documents []config.Document

	namer    *naming.Namer
	backends map[string]config.Backend
}

// NewBatch validates the documents as one batch and indexes backend
// declarations for reference resolution. The returned error carries every
// violation found, not only the first. A nil namer uses the default name
// templates.
func NewBatch(docs []config.Document, namer *naming.Namer) (*Batch, error) {
	if namer == nil {
		namer = naming.Default()
	}
	if violations := ValidateBatch(docs, namer); len(violations) > 0 {
		return nil, NewBatchError(violations)
	}

	backends := make(map[string]config.Backend)
	for _, doc := range docs {
		for _, product := range doc.Products {
			for _, backend := range product.Backends {
				if backend.Declared() {
					backends[backend.ID] = backend
				}
			}
		}
	}

	return &Batch{
		Documents: docs,
		namer:     namer,
		backends:  backends,
	}, nil
}

// Namer returns the name deriver shared by the batch.
func (b *Batch) Namer() *naming.Namer {
	return b.namer
}

// ResolveBackend returns the full declaration behind a backend entry.
// Reference entries take the declaration's private endpoint but keep their
// own mount path, since the path belongs to the usage link, not the
// backend. Validated batches always resolve.
func (b *Batch) ResolveBackend(entry config.Backend) config.Backend {
	if entry.Declared() {
		return entry
	}
	decl, ok := b.backends[entry.ID]
	if !ok {
		return entry
	}
	decl.Path = entry.Path
	return decl
}
