package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/fanout"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendToToken(ctx context.Context, token string, msg dispatch.Message) (string, error) {
	args := m.Called(ctx, token, msg)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendToTopic(ctx context.Context, topic string, msg dispatch.Message) (string, error) {
	args := m.Called(ctx, topic, msg)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) (*dispatch.BatchOutcome, error) {
	args := m.Called(ctx, tokens, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.BatchOutcome), args.Error(1)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) ListRecipients(ctx context.Context) ([]dispatch.Recipient, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Recipient), args.Error(1)
}

type mockPruningDirectory struct {
	mockDirectory
}

func (m *mockPruningDirectory) Prune(ctx context.Context, tokens []string) error {
	return m.Called(ctx, tokens).Error(0)
}

type countingObserver struct {
	batches []int
}

func (o *countingObserver) ObserveBatch(size, _, _ int) { o.batches = append(o.batches, size) }
func (o *countingObserver) ObserveRequest(dispatch.AudienceKind, string, time.Duration) {
}

// --- Helpers ---

func token(i int) string {
	return fmt.Sprintf("device-token-%016d", i)
}

func recipients(n int) []dispatch.Recipient {
	out := make([]dispatch.Recipient, n)
	for i := range out {
		out[i] = dispatch.Recipient{ID: fmt.Sprintf("user-%d", i), Token: token(i)}
	}
	return out
}

var broadcastReq = &dispatch.Request{
	Title:    "Hi",
	Body:     "there",
	Audience: dispatch.Audience{Kind: dispatch.AudienceAll},
}

// --- Tests ---

func TestDispatch_Broadcast(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("1200 tokens go out as 500, 500, 200 in order", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)
		observer := &countingObserver{}

		dir.On("ListRecipients", ctx).Return(recipients(1200), nil)

		var sizes []int
		var firsts []string
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				batch := args.Get(1).([]string)
				sizes = append(sizes, len(batch))
				firsts = append(firsts, batch[0])
			}).
			Return(&dispatch.BatchOutcome{SuccessCount: 500}, nil).Twice()
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				batch := args.Get(1).([]string)
				sizes = append(sizes, len(batch))
				firsts = append(firsts, batch[0])
			}).
			Return(&dispatch.BatchOutcome{SuccessCount: 195, FailureCount: 5}, nil).Once()

		d := fanout.New(sender, dir, fanout.Config{Observer: observer}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.NoError(t, err)
		require.NotNil(t, result.Summary)
		assert.False(t, result.NoRecipients)
		assert.Equal(t, []int{500, 500, 200}, sizes)
		assert.Equal(t, []string{token(0), token(500), token(1000)}, firsts)
		assert.Equal(t, []int{500, 500, 200}, observer.batches)

		s := result.Summary
		assert.NotEmpty(t, s.DispatchID)
		assert.Equal(t, 1200, s.TotalTokens)
		assert.Equal(t, 1195, s.SuccessCount)
		assert.Equal(t, 5, s.FailureCount)
		assert.Equal(t, []dispatch.BatchResult{
			{Index: 0, Size: 500, SuccessCount: 500},
			{Index: 500, Size: 500, SuccessCount: 500},
			{Index: 1000, Size: 200, SuccessCount: 195, FailureCount: 5},
		}, s.Batches)
		sender.AssertNumberOfCalls(t, "SendMulticast", 3)
	})

	t.Run("Invalid and duplicate records are skipped", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)

		records := []dispatch.Recipient{
			{ID: "a", Token: token(1)},
			{ID: "b", Token: token(1)},
			{ID: "c", Token: "short"},
			{ID: "d", Token: nil},
			{ID: "e", Token: 42},
			{ID: "f", Token: token(2)},
		}
		dir.On("ListRecipients", ctx).Return(records, nil)
		sender.On("SendMulticast", ctx, []string{token(1), token(2)}, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 2}, nil).Once()

		d := fanout.New(sender, dir, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Summary.TotalTokens)
		sender.AssertExpectations(t)
	})

	t.Run("No valid recipients is not an error", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)
		dir.On("ListRecipients", ctx).Return([]dispatch.Recipient{{ID: "x", Token: "placeholder"}}, nil)

		d := fanout.New(sender, dir, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.NoError(t, err)
		assert.True(t, result.NoRecipients)
		assert.Equal(t, 0, result.Summary.TotalTokens)
		sender.AssertNotCalled(t, "SendMulticast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Directory failure aborts with no summary", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)
		dir.On("ListRecipients", ctx).Return(nil, errors.New("permission denied"))

		d := fanout.New(sender, dir, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.ErrorIs(t, err, dispatch.ErrDirectoryLookup)
		require.NotNil(t, result)
		assert.Nil(t, result.Summary)
		sender.AssertNotCalled(t, "SendMulticast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Batch failure aborts remaining batches and keeps completed ones", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)
		dir.On("ListRecipients", ctx).Return(recipients(1200), nil)

		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 500}, nil).Once()
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Return(nil, errors.New("deadline exceeded")).Once()

		d := fanout.New(sender, dir, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.ErrorIs(t, err, dispatch.ErrDispatch)
		require.NotNil(t, result.Summary)
		assert.Len(t, result.Summary.Batches, 1)
		assert.Equal(t, 500, result.Summary.SuccessCount)
		sender.AssertNumberOfCalls(t, "SendMulticast", 2)
	})

	t.Run("Custom batch size", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockDirectory)
		dir.On("ListRecipients", ctx).Return(recipients(25), nil)
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 10}, nil).Twice()
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 5}, nil).Once()

		d := fanout.New(sender, dir, fanout.Config{BatchSize: 10}, logger)
		result, err := d.Dispatch(ctx, broadcastReq)

		require.NoError(t, err)
		assert.Len(t, result.Summary.Batches, 3)
		assert.Equal(t, 25, result.Summary.SuccessCount)
	})

	t.Run("Invalid tokens are pruned when enabled", func(t *testing.T) {
		sender := new(mockSender)
		dir := new(mockPruningDirectory)
		dir.On("ListRecipients", ctx).Return(recipients(3), nil)
		sender.On("SendMulticast", ctx, mock.Anything, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 2, FailureCount: 1, InvalidTokens: []string{token(1)}}, nil)
		dir.On("Prune", mock.Anything, []string{token(1)}).Return(nil).Once()

		d := fanout.New(sender, dir, fanout.Config{PruneInvalidTokens: true}, logger)
		_, err := d.Dispatch(ctx, broadcastReq)

		require.NoError(t, err)
		dir.AssertExpectations(t)
	})
}

func TestDispatch_DirectPaths(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Single token", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendToToken", ctx, "abc", mock.Anything).Return("projects/p/messages/1", nil).Once()

		d := fanout.New(sender, nil, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, &dispatch.Request{
			Title: "Hi", Body: "there",
			Audience: dispatch.Audience{Kind: dispatch.AudienceToken, Token: "abc"},
		})

		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/1", result.Receipt)
		assert.Nil(t, result.Summary)
		sender.AssertExpectations(t)
		sender.AssertNotCalled(t, "SendMulticast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Topic", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendToTopic", ctx, "news", mock.MatchedBy(func(m dispatch.Message) bool {
			return m.Content.Title == "Hi" && m.Data["type"] == "info"
		})).Return("projects/p/messages/2", nil).Once()

		d := fanout.New(sender, nil, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, &dispatch.Request{
			Title: "Hi", Body: "there",
			Audience: dispatch.Audience{Kind: dispatch.AudienceTopic, Topic: "news"},
		})

		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/2", result.Receipt)
		sender.AssertExpectations(t)
	})

	t.Run("Explicit token list is one call, not deduplicated", func(t *testing.T) {
		sender := new(mockSender)
		tokens := []string{"a", "a", "b"}
		sender.On("SendMulticast", ctx, tokens, mock.Anything).
			Return(&dispatch.BatchOutcome{SuccessCount: 2, FailureCount: 1}, nil).Once()

		d := fanout.New(sender, nil, fanout.Config{}, logger)
		result, err := d.Dispatch(ctx, &dispatch.Request{
			Title: "Hi", Body: "there",
			Audience: dispatch.Audience{Kind: dispatch.AudienceTokens, Tokens: tokens},
		})

		require.NoError(t, err)
		assert.Equal(t, 3, result.Summary.TotalTokens)
		assert.Equal(t, 2, result.Summary.SuccessCount)
		assert.Equal(t, 1, result.Summary.FailureCount)
		sender.AssertExpectations(t)
	})

	t.Run("Send failure is a dispatch error", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendToToken", ctx, "abc", mock.Anything).Return("", errors.New("boom"))

		d := fanout.New(sender, nil, fanout.Config{}, logger)
		_, err := d.Dispatch(ctx, &dispatch.Request{
			Title: "Hi", Body: "there",
			Audience: dispatch.Audience{Kind: dispatch.AudienceToken, Token: "abc"},
		})

		assert.ErrorIs(t, err, dispatch.ErrDispatch)
	})

	t.Run("Broadcast without a directory", func(t *testing.T) {
		d := fanout.New(new(mockSender), nil, fanout.Config{}, logger)
		_, err := d.Dispatch(ctx, broadcastReq)
		assert.ErrorIs(t, err, dispatch.ErrDirectoryLookup)
	})
}
