package userstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/civicsetu/civicauth"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client), mr
}

func testInput() civicauth.CreateUserInput {
	return civicauth.CreateUserInput{
		UserID:       "u1",
		Email:        "asha@example.com",
		Mobile:       "+911234567890",
		PasswordHash: "$argon2id$fake",
		Role:         civicauth.RoleCitizen,
		Status:       civicauth.AccountPendingVerification,
	}
}

func TestCreateAndLookup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, testInput())
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if created.UserID != "u1" || created.Status != civicauth.AccountPendingVerification {
		t.Fatalf("unexpected record: %+v", created)
	}

	byID, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID != created {
		t.Fatalf("GetUserByID = %+v, want %+v", byID, created)
	}

	byEmail, err := store.GetUserByEmail(ctx, "asha@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail != created {
		t.Fatalf("GetUserByEmail = %+v, want %+v", byEmail, created)
	}
}

func TestEmailLookupIsCaseInsensitive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := store.GetUserByEmail(ctx, "ASHA@Example.COM"); err != nil {
		t.Fatalf("case-folded lookup failed: %v", err)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	second := testInput()
	second.UserID = "u2"
	_, err := store.CreateUser(ctx, second)
	if !errors.Is(err, civicauth.ErrProviderDuplicateIdentifier) {
		t.Fatalf("duplicate create err = %v, want ErrProviderDuplicateIdentifier", err)
	}

	// The original record is untouched.
	got, err := store.GetUserByEmail(ctx, "asha@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("index now points at %q, want u1", got.UserID)
	}
}

func TestLookupMissing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetUserByID(ctx, "nope"); !errors.Is(err, civicauth.ErrUserNotFound) {
		t.Fatalf("GetUserByID err = %v, want ErrUserNotFound", err)
	}
	if _, err := store.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, civicauth.ErrUserNotFound) {
		t.Fatalf("GetUserByEmail err = %v, want ErrUserNotFound", err)
	}
}

func TestUpdateAccountStatus(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.UpdateAccountStatus(ctx, "u1", civicauth.AccountActive); err != nil {
		t.Fatalf("UpdateAccountStatus failed: %v", err)
	}

	got, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.Status != civicauth.AccountActive {
		t.Fatalf("status = %v, want AccountActive", got.Status)
	}
	if got.PasswordHash != "$argon2id$fake" {
		t.Fatalf("status update clobbered the hash: %q", got.PasswordHash)
	}

	if err := store.UpdateAccountStatus(ctx, "missing", civicauth.AccountActive); !errors.Is(err, civicauth.ErrUserNotFound) {
		t.Fatalf("update of missing user err = %v, want ErrUserNotFound", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.UpdatePasswordHash(ctx, "u1", "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePasswordHash failed: %v", err)
	}

	got, err := store.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.PasswordHash != "$argon2id$new" {
		t.Fatalf("hash = %q, want $argon2id$new", got.PasswordHash)
	}
	if got.Email != "asha@example.com" || got.Mobile != "+911234567890" {
		t.Fatalf("hash update clobbered other fields: %+v", got)
	}
}

func TestDeleteUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	if _, err := store.GetUserByID(ctx, "u1"); !errors.Is(err, civicauth.ErrUserNotFound) {
		t.Fatalf("record survived delete: err = %v", err)
	}

	// The email index is released too, so the address can register again.
	if _, err := store.CreateUser(ctx, testInput()); err != nil {
		t.Fatalf("re-create after delete failed: %v", err)
	}

	// Deleting an absent user is a no-op.
	if err := store.DeleteUser(ctx, "missing"); err != nil {
		t.Fatalf("delete of missing user failed: %v", err)
	}
}

func TestCorruptRecord(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := mr.Set("cu:mangled", "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := store.GetUserByID(ctx, "mangled"); err == nil {
		t.Fatal("expected decode error for corrupt record")
	}
	if err := store.UpdateAccountStatus(ctx, "mangled", civicauth.AccountActive); err == nil {
		t.Fatal("expected decode error for corrupt record")
	}
}
