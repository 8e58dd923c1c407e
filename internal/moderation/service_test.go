package moderation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lorepin/lorepin/internal/analysis"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/errs"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	inputs  []models.ContentInput
	result  *models.ContentAnalysisResult
	video   *models.VideoAnalysisResult
	pollErr error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, in models.ContentInput) *models.ContentAnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.result != nil {
		return f.result
	}
	return &models.ContentAnalysisResult{FlaggedCategories: []string{}}
}

func (f *fakeAnalyzer) PollVideo(_ context.Context, existing *models.ContentAnalysisResult) (*models.ContentAnalysisResult, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return analysis.UpdateWithVideoResults(existing, f.video), nil
}

var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func setupTest(t *testing.T, analyzer *fakeAnalyzer) (*Service, *database.SQLStore) {
	t.Helper()
	store, err := database.Open(testContext(t), &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "lorepin.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, analyzer).WithClock(func() time.Time { return now }), store
}

func enqueue(t *testing.T, s *Service) *models.ModerationQueueItem {
	t.Helper()
	item, err := s.AddToQueue(testContext(t), Submission{
		ContentType: models.ContentTypeComment,
		ContentID:   "comment-1",
		ContentData: map[string]any{"text": "Nice spot for a picnic"},
	})
	require.NoError(t, err)
	return item
}

func TestAddToQueueValidation(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})

	_, err := s.AddToQueue(testContext(t), Submission{ContentType: "poem", ContentID: "1"})
	assert.True(t, errs.IsValidation(err))

	_, err = s.AddToQueue(testContext(t), Submission{ContentType: models.ContentTypeComment, ContentID: "  "})
	assert.True(t, errs.IsValidation(err))
}

func TestAddToQueueScoresContent(t *testing.T) {
	t.Parallel()
	analyzer := &fakeAnalyzer{result: &models.ContentAnalysisResult{
		RiskScore:         0.3,
		FlaggedCategories: []string{"text:harassment"},
	}}
	s, _ := setupTest(t, analyzer)

	item, err := s.AddToQueue(testContext(t), Submission{
		ContentType: models.ContentTypeChallenge,
		ContentID:   "ch-1",
		FirebaseUID: "uid-9",
		ContentData: map[string]any{
			"title":       "Night swim",
			"description": "Swim across the lake",
			"difficulty":  "hard",
			"caption":     42,
		},
		MediaURL: "https://cdn.example.com/clips/lake.MP4?sig=abc",
	})
	require.NoError(t, err)

	require.Len(t, analyzer.inputs, 1)
	assert.Equal(t, "Night swim\nSwim across the lake", analyzer.inputs[0].Text)
	assert.Equal(t, "https://cdn.example.com/clips/lake.MP4?sig=abc", analyzer.inputs[0].VideoURL)
	assert.Empty(t, analyzer.inputs[0].ImageURL)

	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.InDelta(t, 0.3, *item.RiskScore, 1e-9)
	assert.Equal(t, []string{"text:harassment"}, item.Flags)
	assert.Equal(t, "uid-9", *item.FirebaseUID)

	stored, err := s.Get(testContext(t), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Flags, stored.Flags)
}

func TestAddToQueueWithoutAnalysableInput(t *testing.T) {
	t.Parallel()
	analyzer := &fakeAnalyzer{}
	s, _ := setupTest(t, analyzer)

	item, err := s.AddToQueue(testContext(t), Submission{ContentType: models.ContentTypeUserProfile, ContentID: "u1"})
	require.NoError(t, err)

	assert.Empty(t, analyzer.inputs)
	require.NotNil(t, item.RiskScore)
	assert.Zero(t, *item.RiskScore)
	assert.Nil(t, item.AIAnalysis)
}

func TestAddToQueueEscalatesFlaggedContent(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{result: &models.ContentAnalysisResult{
		RiskScore:         0.9,
		Flagged:           true,
		FlaggedCategories: []string{"image:nsfw"},
	}})

	item, err := s.AddToQueue(testContext(t), Submission{
		ContentType: models.ContentTypeSubmission,
		ContentID:   "s1",
		MediaURL:    "https://cdn.example.com/p.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFlagged, item.Status)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	statuses := []models.QueueStatus{
		models.QueueStatusPending, models.QueueStatusApproved, models.QueueStatusRejected, models.QueueStatusFlagged,
	}
	allowed := map[[2]models.QueueStatus]bool{
		{models.QueueStatusPending, models.QueueStatusApproved}: true,
		{models.QueueStatusPending, models.QueueStatusRejected}: true,
		{models.QueueStatusPending, models.QueueStatusFlagged}:  true,
		{models.QueueStatusFlagged, models.QueueStatusApproved}: true,
		{models.QueueStatusFlagged, models.QueueStatusRejected}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]models.QueueStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestUpdateStatusRecordsDecision(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})
	item := enqueue(t, s)

	flagged, err := s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusFlagged}, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFlagged, flagged.Status)

	rejected, err := s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{
		Status:          models.QueueStatusRejected,
		RejectionReason: "Spam",
		Notes:           "third report this week",
	}, "mod-2")
	require.NoError(t, err)

	stored, err := s.Get(testContext(t), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusRejected, stored.Status)
	assert.Equal(t, "mod-2", *stored.ModeratorID)
	assert.Equal(t, "Spam", *stored.RejectionReason)
	assert.Equal(t, "third report this week", *stored.Notes)
	require.NotNil(t, stored.ModeratedAt)
	assert.True(t, now.Equal(*stored.ModeratedAt))
	assert.Equal(t, rejected.Status, stored.Status)
}

func TestUpdateStatusRejectWithoutReason(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})
	item := enqueue(t, s)

	rejected, err := s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{
		Status:          models.QueueStatusRejected,
		RejectionReason: "   ",
	}, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusRejected, rejected.Status)
	assert.Nil(t, rejected.RejectionReason)

	stored, err := s.Get(testContext(t), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusRejected, stored.Status)
	assert.Nil(t, stored.RejectionReason)
	assert.Equal(t, "mod-1", *stored.ModeratorID)
}

func TestUpdateStatusGuards(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})
	item := enqueue(t, s)

	_, err := s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: "maybe"}, "mod")
	assert.True(t, errs.IsValidation(err))

	_, err = s.UpdateStatus(testContext(t), "missing", models.StatusUpdateRequest{Status: models.QueueStatusApproved}, "mod")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusPending}, "mod")
	assert.True(t, errs.IsValidation(err))

	_, err = s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusApproved}, "mod")
	require.NoError(t, err)

	_, err = s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusRejected, RejectionReason: "x"}, "mod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reopen")
}

func TestReopen(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})
	item := enqueue(t, s)

	_, err := s.Reopen(testContext(t), item.ID, "mod", "")
	assert.True(t, errs.IsValidation(err), "pending items cannot be reopened")

	_, err = s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusRejected, RejectionReason: "Spam"}, "mod")
	require.NoError(t, err)

	reopened, err := s.Reopen(testContext(t), item.ID, "mod-2", "appeal accepted")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, reopened.Status)
	assert.Nil(t, reopened.ModeratorID)
	assert.Nil(t, reopened.ModeratedAt)
	assert.Nil(t, reopened.RejectionReason)
	assert.Equal(t, "appeal accepted", *reopened.Notes)

	_, err = s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{Status: models.QueueStatusApproved}, "mod-2")
	assert.NoError(t, err)
}

// racyStore lets another writer change an item between the service's read and write.
type racyStore struct {
	*database.SQLStore
	interfere func()
}

func (r *racyStore) UpdateQueueItem(ctx context.Context, item *models.ModerationQueueItem, expected models.QueueStatus) (bool, error) {
	if r.interfere != nil {
		r.interfere()
		r.interfere = nil
	}
	return r.SQLStore.UpdateQueueItem(ctx, item, expected)
}

func TestUpdateStatusConflict(t *testing.T) {
	t.Parallel()
	_, store := setupTest(t, &fakeAnalyzer{})
	racy := &racyStore{SQLStore: store}
	s := NewService(racy, &fakeAnalyzer{}).WithClock(func() time.Time { return now })
	item := enqueue(t, s)

	racy.interfere = func() {
		other, err := store.GetQueueItem(testContext(t), item.ID)
		require.NoError(t, err)
		other.Status = models.QueueStatusApproved
		ok, err := store.UpdateQueueItem(testContext(t), other, models.QueueStatusPending)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := s.UpdateStatus(testContext(t), item.ID, models.StatusUpdateRequest{
		Status:          models.QueueStatusRejected,
		RejectionReason: "Spam",
	}, "mod-1")
	assert.ErrorIs(t, err, errs.ErrConflict)

	stored, err := s.Get(testContext(t), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusApproved, stored.Status, "first writer wins")
}

func pendingVideoAnalysis() *models.ContentAnalysisResult {
	return &models.ContentAnalysisResult{
		VideoAnalysis: &models.VideoAnalysisResult{
			JobID:            "mock-1",
			Status:           models.JobInProgress,
			ModerationLabels: []models.ModerationLabel{},
		},
		FlaggedCategories: []string{},
	}
}

func TestUpdateVideoAnalysis(t *testing.T) {
	t.Parallel()
	analyzer := &fakeAnalyzer{
		result: pendingVideoAnalysis(),
		video: &models.VideoAnalysisResult{
			JobID:                 "mock-1",
			Status:                models.JobSucceeded,
			NSFWDetected:          true,
			HighestNSFWConfidence: 80,
			ModerationLabels:      []models.ModerationLabel{{Name: "Nudity", Confidence: 80}},
		},
	}
	s, store := setupTest(t, analyzer)

	item, err := s.AddToQueue(testContext(t), Submission{
		ContentType: models.ContentTypeSubmission,
		ContentID:   "s1",
		MediaURL:    "https://x.com/v.mp4",
	})
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusPending, item.Status)

	updated, err := s.UpdateVideoAnalysis(testContext(t), item.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.QueueStatusFlagged, updated.Status, "flagged video escalates pending items")
	assert.InDelta(t, 0.8, *updated.RiskScore, 1e-9)
	assert.Contains(t, updated.Flags, "video:Nudity")
	assert.Equal(t, models.JobSucceeded, updated.AIAnalysis.VideoAnalysis.Status)

	again, err := s.UpdateVideoAnalysis(testContext(t), item.ID)
	require.NoError(t, err)
	assert.Nil(t, again, "nothing left to poll")

	pending, err := store.ListPendingVideoItems(testContext(t), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.UpdateVideoAnalysis(testContext(t), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRefreshPendingVideos(t *testing.T) {
	t.Parallel()
	analyzer := &fakeAnalyzer{
		result: pendingVideoAnalysis(),
		video:  &models.VideoAnalysisResult{JobID: "mock-1", Status: models.JobSucceeded},
	}
	s, _ := setupTest(t, analyzer)

	for _, id := range []string{"s1", "s2"} {
		_, err := s.AddToQueue(testContext(t), Submission{
			ContentType: models.ContentTypeSubmission,
			ContentID:   id,
			MediaURL:    "https://x.com/" + id + ".webm",
		})
		require.NoError(t, err)
	}

	n, err := s.RefreshPendingVideos(testContext(t), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := s.List(testContext(t), models.QueueFilter{Status: models.QueueStatusPending})
	require.NoError(t, err)
	require.Len(t, items, 2, "clean videos stay pending for a human")
	for _, item := range items {
		assert.False(t, item.AIAnalysis.HasPendingVideo())
	}
}

func TestRefreshPendingVideosSkipsFailures(t *testing.T) {
	t.Parallel()
	analyzer := &fakeAnalyzer{result: pendingVideoAnalysis(), pollErr: errors.New("provider down")}
	s, _ := setupTest(t, analyzer)

	_, err := s.AddToQueue(testContext(t), Submission{
		ContentType: models.ContentTypeSubmission,
		ContentID:   "s1",
		MediaURL:    "https://x.com/v.mp4",
	})
	require.NoError(t, err)

	n, err := s.RefreshPendingVideos(testContext(t), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListValidatesStatus(t *testing.T) {
	t.Parallel()
	s, _ := setupTest(t, &fakeAnalyzer{})

	_, err := s.List(testContext(t), models.QueueFilter{Status: "weird"})
	assert.True(t, errs.IsValidation(err))

	enqueue(t, s)
	items, err := s.List(testContext(t), models.QueueFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
