package registry_test

import (
	"testing"

	"github.com/nullstream/eventstream/registry"
)

type depositMadeV1 struct{ Amount string }
type depositMadeV2 struct {
	Amount   string
	Currency string
}

func TestBuilderFreezeLookup(t *testing.T) {
	b := registry.NewBuilder()
	if err := b.Register(depositMadeV1{}, "DepositMade", 1, nil); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if err := b.Register(depositMadeV2{}, "DepositMade", 2, nil); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	reg := b.Freeze()

	latest, ok := reg.ByName("DepositMade")
	if !ok || latest.SchemaVersion != 2 {
		t.Fatalf("expected latest version 2, got %+v ok=%v", latest, ok)
	}

	v1, ok := reg.ByNameAndVersion("DepositMade", 1)
	if !ok || v1.SchemaVersion != 1 {
		t.Fatalf("expected v1 entry, got %+v ok=%v", v1, ok)
	}

	byType, ok := reg.ByType(depositMadeV2{})
	if !ok || byType.SchemaVersion != 2 {
		t.Fatalf("expected type lookup to resolve v2, got %+v ok=%v", byType, ok)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	b := registry.NewBuilder()
	if err := b.Register(depositMadeV1{}, "DepositMade", 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Register(depositMadeV1{}, "DepositMade", 1, nil); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestRegisterAfterFreezeFails(t *testing.T) {
	b := registry.NewBuilder()
	_ = b.Register(depositMadeV1{}, "DepositMade", 1, nil)
	b.Freeze()
	if err := b.Register(depositMadeV2{}, "DepositMade", 2, nil); err == nil {
		t.Fatalf("expected registration after freeze to fail")
	}
}
