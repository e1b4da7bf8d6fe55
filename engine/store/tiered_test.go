package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/engine/store/memstore"
)

type countingStore struct {
	store.RankingStore
	gets, puts int
	putErr     error
}

func (c *countingStore) GetRanking(ctx context.Context, k domain.RankingKey) (domain.RankingRecord, error) {
	c.gets++
	return c.RankingStore.GetRanking(ctx, k)
}

func (c *countingStore) UpsertRanking(ctx context.Context, r domain.RankingRecord) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	return c.RankingStore.UpsertRanking(ctx, r)
}

func rec(app string) domain.RankingRecord {
	return domain.RankingRecord{AppID: app, Combo: "sleep sounds", Locale: "en", Platform: domain.PlatformIOS,
		TotalResults: domain.IntPtr(12), CheckedAt: time.Now()}
}

func TestTiered_ReadThroughFillsHot(t *testing.T) {
	ctx := context.Background()
	durableMem := memstore.New()
	_ = durableMem.RegisterApp(ctx, domain.App{ID: "app-1"})
	_ = durableMem.UpsertRanking(ctx, rec("app-1"))

	hot := &countingStore{RankingStore: memstore.New(memstore.WithoutAppCheck())}
	durable := &countingStore{RankingStore: durableMem}
	tiered := store.NewTiered(hot, durable, nil)

	for i := 0; i < 3; i++ {
		got, err := tiered.GetRanking(ctx, rec("app-1").Key())
		if err != nil || *got.TotalResults != 12 {
			t.Fatalf("GetRanking = %+v, %v", got, err)
		}
	}
	if durable.gets != 1 || hot.puts != 1 {
		t.Errorf("expected one durable read and one fill, got gets=%d puts=%d", durable.gets, hot.puts)
	}
}

func TestTiered_FailedPersistNeverReachesHot(t *testing.T) {
	ctx := context.Background()
	hot := &countingStore{RankingStore: memstore.New(memstore.WithoutAppCheck())}
	durable := &countingStore{RankingStore: memstore.New()}
	tiered := store.NewTiered(hot, durable, nil)

	err := tiered.UpsertRanking(ctx, rec("unregistered"))
	if !errors.Is(err, domain.ErrReferential) {
		t.Fatalf("expected ErrReferential, got %v", err)
	}
	if hot.puts != 0 {
		t.Fatal("ephemeral result must not be cached")
	}
	if _, err := tiered.GetRanking(ctx, rec("unregistered").Key()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTiered_HotFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	durableMem := memstore.New(memstore.WithoutAppCheck())
	_ = durableMem.UpsertRanking(ctx, rec("app-1"))
	hot := &countingStore{RankingStore: memstore.New(memstore.WithoutAppCheck()), putErr: errors.New("redis down")}
	tiered := store.NewTiered(hot, durableMem, nil)

	if _, err := tiered.GetRanking(ctx, rec("app-1").Key()); err != nil {
		t.Fatalf("hot tier errors must not surface: %v", err)
	}
	if err := tiered.UpsertRanking(ctx, rec("app-1")); err != nil {
		t.Fatalf("hot tier write errors must not surface: %v", err)
	}
}
