package database

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(testContext(t), &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "data", "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var base = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func queueItem(id string, status models.QueueStatus, offset time.Duration) *models.ModerationQueueItem {
	return &models.ModerationQueueItem{
		ID:          id,
		ContentType: models.ContentTypeChallenge,
		ContentID:   "c-" + id,
		Status:      status,
		ContentData: map[string]any{"title": "Find the oldest oak"},
		CreatedAt:   base.Add(offset),
		UpdatedAt:   base.Add(offset),
	}
}

func TestQueueItemRoundTrip(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	risk := 0.42
	item := queueItem("q1", models.QueueStatusPending, 0)
	item.FirebaseUID = strPtr("uid-1")
	item.MediaURL = strPtr("https://x.com/v.mp4")
	item.RiskScore = &risk
	item.Flags = []string{"text:hate"}
	item.AIAnalysis = &models.ContentAnalysisResult{
		RiskScore: 0.42,
		VideoAnalysis: &models.VideoAnalysisResult{
			JobID:  "mock-1",
			Status: models.JobInProgress,
		},
		FlaggedCategories: []string{"text:hate"},
		Timestamp:         "2025-04-01T09:00:00Z",
	}
	require.NoError(t, store.CreateQueueItem(testContext(t), item))

	got, err := store.GetQueueItem(testContext(t), "q1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ContentData, got.ContentData)
	assert.Equal(t, "uid-1", *got.FirebaseUID)
	assert.InDelta(t, 0.42, *got.RiskScore, 1e-9)
	assert.Equal(t, []string{"text:hate"}, got.Flags)
	assert.True(t, got.AIAnalysis.HasPendingVideo())
	assert.Nil(t, got.ModeratorID)
	assert.Nil(t, got.ModeratedAt)
	assert.True(t, base.Equal(got.CreatedAt))

	pending, err := store.ListPendingVideoItems(testContext(t), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q1", pending[0].ID)
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	item, err := store.GetQueueItem(testContext(t), "nope")
	require.NoError(t, err)
	assert.Nil(t, item)

	c, err := store.GetChallenge(testContext(t), "nope")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUpdateQueueItemCompareAndSwap(t *testing.T) {
	t.Parallel()
	store := setupStore(t)
	require.NoError(t, store.CreateQueueItem(testContext(t), queueItem("q1", models.QueueStatusPending, 0)))

	item, err := store.GetQueueItem(testContext(t), "q1")
	require.NoError(t, err)

	now := base.Add(time.Hour)
	item.Status = models.QueueStatusApproved
	item.ModeratorID = strPtr("mod-1")
	item.ModeratedAt = &now
	item.UpdatedAt = now

	ok, err := store.UpdateQueueItem(testContext(t), item, models.QueueStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer still believing the item is pending loses.
	item.Status = models.QueueStatusRejected
	ok, err = store.UpdateQueueItem(testContext(t), item, models.QueueStatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetQueueItem(testContext(t), "q1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusApproved, got.Status)
	assert.Equal(t, "mod-1", *got.ModeratorID)
	require.NotNil(t, got.ModeratedAt)
	assert.True(t, now.Equal(*got.ModeratedAt))
}

func TestListQueueItems(t *testing.T) {
	t.Parallel()
	store := setupStore(t)
	for i, status := range []models.QueueStatus{
		models.QueueStatusPending, models.QueueStatusFlagged, models.QueueStatusPending, models.QueueStatusApproved,
	} {
		id := string(rune('a' + i))
		require.NoError(t, store.CreateQueueItem(testContext(t), queueItem(id, status, time.Duration(i)*time.Minute)))
	}

	all, err := store.ListQueueItems(testContext(t), models.QueueFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].ID, "oldest first")

	pending, err := store.ListQueueItems(testContext(t), models.QueueFilter{Status: models.QueueStatusPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"a", "c"}, []string{pending[0].ID, pending[1].ID})

	page, err := store.ListQueueItems(testContext(t), models.QueueFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
}

func challenge(id, creator string, status models.ChallengeStatus, offset time.Duration) *models.Challenge {
	return &models.Challenge{
		ID:          id,
		Title:       "Sunrise at the pier",
		Description: "Photograph the sunrise from the end of the pier",
		Status:      status,
		Difficulty:  models.DifficultyEasy,
		FirebaseUID: creator,
		CreatorID:   creator,
		Location:    json.RawMessage(`{"lat":52.1,"lng":4.3}`),
		Tags:        json.RawMessage(`["photo","sunrise"]`),
		CreatedAt:   base.Add(offset),
		UpdatedAt:   base.Add(offset),
	}
}

func TestChallengeLifecycle(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	c := challenge("ch1", "u1", models.ChallengeDraft, 0)
	require.NoError(t, store.CreateChallenge(testContext(t), c))

	got, err := store.GetChallenge(testContext(t), "ch1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":52.1,"lng":4.3}`, string(got.Location))
	assert.Nil(t, got.Rules)
	assert.Nil(t, got.StartDate)

	got.Status = models.ChallengePendingApproval
	ok, err := store.UpdateChallenge(testContext(t), got, models.ChallengeDraft)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateChallenge(testContext(t), got, models.ChallengeDraft)
	require.NoError(t, err)
	assert.False(t, ok, "status already moved on")

	ok, err = store.IncrementChallengeViews(testContext(t), "ch1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IncrementChallengeViews(testContext(t), "ch1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetChallenge(testContext(t), "ch1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ViewCount)
	assert.Equal(t, models.ChallengePendingApproval, got.Status)

	deleted, err := store.DeleteChallenge(testContext(t), "ch1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteChallenge(testContext(t), "ch1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListChallengesFilters(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	featured := challenge("ch3", "u2", models.ChallengeActive, 2*time.Minute)
	featured.IsFeatured = true
	for _, c := range []*models.Challenge{
		challenge("ch1", "u1", models.ChallengeDraft, 0),
		challenge("ch2", "u1", models.ChallengeActive, time.Minute),
		featured,
	} {
		require.NoError(t, store.CreateChallenge(testContext(t), c))
	}

	all, err := store.ListChallenges(testContext(t), models.ChallengeFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ch3", all[0].ID, "newest first")

	mine, err := store.ListChallenges(testContext(t), models.ChallengeFilter{CreatorID: "u1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	yes := true
	onlyFeatured, err := store.ListChallenges(testContext(t), models.ChallengeFilter{
		Status:   models.ChallengeActive,
		Featured: &yes,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, onlyFeatured, 1)
	assert.Equal(t, "ch3", onlyFeatured[0].ID)
}

func TestListChallengesPrivateBeforePaging(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	public := challenge("pub", "u1", models.ChallengeActive, 0)
	for i, id := range []string{"priv1", "priv2"} {
		c := challenge(id, "u1", models.ChallengeDraft, time.Duration(i+1)*time.Minute)
		c.IsPrivate = true
		require.NoError(t, store.CreateChallenge(testContext(t), c))
	}
	require.NoError(t, store.CreateChallenge(testContext(t), public))

	page, err := store.ListChallenges(testContext(t), models.ChallengeFilter{ViewerUID: "u2", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "pub", page[0].ID)

	own, err := store.ListChallenges(testContext(t), models.ChallengeFilter{ViewerUID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	anon, err := store.ListChallenges(testContext(t), models.ChallengeFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, anon, 1)

	everything, err := store.ListChallenges(testContext(t), models.ChallengeFilter{IncludePrivate: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, everything, 3)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(testContext(t), &config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
