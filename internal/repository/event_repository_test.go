package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestEventRepositoryReserve(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	repo := NewEventRepository(rdb, time.Minute)

	first, err := repo.Reserve(ctx, "proj", "ev-1")
	if err != nil || !first {
		t.Fatalf("first Reserve() = %v, %v", first, err)
	}
	again, _ := repo.Reserve(ctx, "proj", "ev-1")
	if again {
		t.Fatal("duplicate event id reserved twice")
	}
	other, _ := repo.Reserve(ctx, "other", "ev-1")
	if !other {
		t.Fatal("event ids are scoped per project")
	}

	if err := repo.Release(ctx, "proj", "ev-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if ok, _ := repo.Reserve(ctx, "proj", "ev-1"); !ok {
		t.Fatal("released id should be reservable")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := repo.Reserve(ctx, "other", "ev-1"); !ok {
		t.Fatal("reservation should expire")
	}
}
