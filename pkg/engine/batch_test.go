package engine

import (
	"testing"

	"github.com/section6nz/3scale-sync/pkg/config"
)

func TestBatch_ResolveBackend_Declaration(t *testing.T) {
	doc := validDoc("a.yml", "alpha")
	declared := config.Backend{ID: "svc", PrivateBaseURL: "https://svc.internal", Path: "/"}
	doc.Products[0].Backends = []config.Backend{declared}
	batch := testBatch(t, doc)

	if got := batch.ResolveBackend(declared); got != declared {
		t.Errorf("Expected declaration returned as-is, got %+v", got)
	}
}

func TestBatch_ResolveBackend_ReferenceTakesDeclaredURL(t *testing.T) {
	a := validDoc("a.yml", "alpha")
	a.Products[0].Backends = []config.Backend{{ID: "svc", PrivateBaseURL: "https://svc.internal", Path: "/"}}
	b := validDoc("b.yml", "beta")
	reference := config.Backend{ID: "svc", Path: "/mounted"}
	b.Products[0].Backends = []config.Backend{reference}
	batch := testBatch(t, a, b)

	got := batch.ResolveBackend(reference)

	if got.PrivateBaseURL != "https://svc.internal" {
		t.Errorf("Expected the declared private URL, got %s", got.PrivateBaseURL)
	}
	// The mount path belongs to the referencing product.
	if got.Path != "/mounted" {
		t.Errorf("Expected the reference's own path, got %s", got.Path)
	}
}

func TestBatch_Namer_DefaultsWhenNil(t *testing.T) {
	batch := testBatch(t, validDoc("a.yml", "alpha"))

	namer := batch.Namer()
	if namer == nil {
		t.Fatal("Expected a default namer")
	}
	if got := namer.BackendName("dev", "svc"); got != "dev_svc_backend" {
		t.Errorf("Expected default backend template, got %s", got)
	}
}
