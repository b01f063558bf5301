package session

import (
	"errors"
	"testing"

	"lockstep/pkg/types"
)

func TestCodeRegistry_GenerateFormat(t *testing.T) {
	registry := NewCodeRegistry()

	for i := 0; i < 100; i++ {
		code, err := registry.Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !types.IsValidSessionCode(code) {
			t.Fatalf("generated code %q is not four uppercase letters", code)
		}
	}
}

func TestCodeRegistry_AllocateUniqueCodes(t *testing.T) {
	registry := NewCodeRegistry()

	seen := make(map[types.SessionCode]bool)
	for i := 0; i < 500; i++ {
		code, id, err := registry.Allocate()
		if err != nil {
			t.Fatalf("Allocate failed on iteration %d: %v", i, err)
		}
		if seen[code] {
			t.Fatalf("code %q allocated twice among live sessions", code)
		}
		seen[code] = true

		resolved, found := registry.Resolve(code)
		if !found || resolved != id {
			t.Fatalf("code %q did not resolve to session %d", code, id)
		}
	}

	if registry.Count() != 500 {
		t.Errorf("expected 500 live codes, got %d", registry.Count())
	}
}

func TestCodeRegistry_MonotonicSessionIDs(t *testing.T) {
	registry := NewCodeRegistry()

	_, first, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	_, second, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if second <= first {
		t.Errorf("session ids must be monotonic: got %d then %d", first, second)
	}

	// Releasing a session must not recycle its id.
	registry.Release(first)
	_, third, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if third == first {
		t.Errorf("session id %d was reused after release", first)
	}
}

func TestCodeRegistry_SeedIDsContinuesCounter(t *testing.T) {
	registry := NewCodeRegistry()
	registry.SeedIDs(7)

	_, id, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != 8 {
		t.Errorf("seeded registry must continue past the seed, got %d", id)
	}

	// Seeding backwards must not rewind the counter.
	registry.SeedIDs(3)
	_, next, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if next != 9 {
		t.Errorf("stale seed must not rewind ids, got %d", next)
	}
}

func TestCodeRegistry_ReleaseFreesCode(t *testing.T) {
	registry := NewCodeRegistry()

	code, id, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	registry.Release(id)

	if _, found := registry.Resolve(code); found {
		t.Errorf("released code %q still resolves", code)
	}
	if registry.Count() != 0 {
		t.Errorf("expected 0 live codes after release, got %d", registry.Count())
	}

	// Idempotent release.
	registry.Release(id)
}

func TestCodeRegistry_RegisterRejectsLiveCode(t *testing.T) {
	registry := NewCodeRegistry()

	code, _, err := registry.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if _, err := registry.Register(code); !errors.Is(err, ErrCodeAlreadyRegistered) {
		t.Errorf("expected ErrCodeAlreadyRegistered, got %v", err)
	}
}

func TestCodeRegistry_ResolveUnknownCode(t *testing.T) {
	registry := NewCodeRegistry()

	if _, found := registry.Resolve("ZZZZ"); found {
		t.Error("unknown code must not resolve")
	}
}
