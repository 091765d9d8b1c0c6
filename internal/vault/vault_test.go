package vault

import (
	"context"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/tjfontaine/routex-demo/internal/storage/memory"
)

func exerciseVault(t *testing.T, v Vault) {
	t.Helper()
	ctx := context.Background()

	got, err := v.Load(ctx, "c-1")
	if err != nil || got != nil {
		t.Fatalf("Load() on empty vault = %v, %v", got, err)
	}

	data := []byte{0x00, 0xff, 'x'}
	if err := v.Save(ctx, "c-1", data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err = v.Load(ctx, "c-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Load() = %v, want %v", got, data)
	}

	if other, _ := v.Load(ctx, "c-2"); other != nil {
		t.Errorf("Load(c-2) = %v, entries leaked across connections", other)
	}

	if err := v.Forget(ctx, "c-1"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if got, _ := v.Load(ctx, "c-1"); got != nil {
		t.Errorf("Load() after Forget = %v", got)
	}
	if err := v.Forget(ctx, "c-1"); err != nil {
		t.Errorf("second Forget() error = %v", err)
	}
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	exerciseVault(t, NewKeyring(""))
}

func TestStore(t *testing.T) {
	exerciseVault(t, NewStore(memory.New()))
}

func TestNop(t *testing.T) {
	v := Nop{}
	if err := v.Save(context.Background(), "c-1", []byte("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, _ := v.Load(context.Background(), "c-1"); got != nil {
		t.Errorf("Load() = %v", got)
	}
}
