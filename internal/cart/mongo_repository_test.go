package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) *MongoRepository {
	if testing.Short() {
		t.Skip("skipping mongodb integration test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))
	return repo
}

func kurta(size string) domain.CartLine {
	return domain.CartLine{ProductID: 1, ProductName: "Linen Kurta", UnitPrice: 500, Size: size, Color: "Indigo"}
}

func TestMongoRepository_AddLine(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	added, err := repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = repo.AddLine(ctx, "user-1", kurta("L"))
	require.NoError(t, err)
	assert.True(t, added)

	cart, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.False(t, cart.CreatedAt.IsZero())
}

func TestMongoRepository_AddLine_Concurrent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AddLine(ctx, "user-race", kurta("M"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := repo.GetCart(ctx, "user-race")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestMongoRepository_UpdateQuantity(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)
	_, err = repo.AddLine(ctx, "user-1", kurta("L"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateQuantity(ctx, "user-1", kurta("L").Key(), 3))

	cart, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.Equal(t, 3, cart.Lines[1].Quantity)

	err = repo.UpdateQuantity(ctx, "user-1", kurta("S").Key(), 3)
	assert.ErrorIs(t, err, domain.ErrLineNotFound)

	err = repo.UpdateQuantity(ctx, "user-1", kurta("M").Key(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestMongoRepository_RemoveLine(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)
	_, err = repo.AddLine(ctx, "user-1", kurta("L"))
	require.NoError(t, err)

	require.NoError(t, repo.RemoveLine(ctx, "user-1", kurta("M").Key()))
	require.NoError(t, repo.RemoveLine(ctx, "user-1", kurta("M").Key()))
	require.NoError(t, repo.RemoveLine(ctx, "nobody", kurta("M").Key()))

	cart, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "L", cart.Lines[0].Size)
}

func TestMongoRepository_DeleteCart(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCart(ctx, "user-1"))

	_, err = repo.GetCart(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.ErrorIs(t, repo.DeleteCart(ctx, "user-1"), ErrCartNotFound)
}

func TestMongoRepository_DeleteCartIfUnchangedSince(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.AddLine(ctx, "user-1", kurta("M"))
	require.NoError(t, err)
	cart, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)

	deleted, err := repo.DeleteCartIfUnchangedSince(ctx, "user-1", cart.UpdatedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, deleted, "cart updated after the cutoff is kept")
	_, err = repo.GetCart(ctx, "user-1")
	require.NoError(t, err)

	deleted, err = repo.DeleteCartIfUnchangedSince(ctx, "user-1", cart.UpdatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = repo.GetCart(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCartNotFound)

	deleted, err = repo.DeleteCartIfUnchangedSince(ctx, "user-1", time.Now())
	require.NoError(t, err)
	assert.False(t, deleted)
}
