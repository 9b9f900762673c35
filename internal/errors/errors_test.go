package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/holdings-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})

	t.Run("wrapped categorized error is found", func(t *testing.T) {
		base := NewMissingFeedError(types.ChainFantom, FeedPrices, io.EOF)
		wrapped := fmt.Errorf("load chain: %w", base)

		got := Categorize(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, CategoryMissingFeed, got.Category)
		assert.Equal(t, "fantom", got.Details["chain"])
		assert.ErrorIs(t, wrapped, io.EOF)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		got := Categorize(io.ErrUnexpectedEOF)
		assert.Equal(t, CategorySystem, got.Category)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	})
}

func TestIsChainFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing feed", NewMissingFeedError(types.ChainEthereum, FeedTransactions, nil), true},
		{"schema", NewSchemaViolationError(types.ChainEthereum, FeedMetadata, []string{"ticker"}), true},
		{"row conversion", NewRowConversionError(FeedTransactions, 4, "value", nil), false},
		{"coverage", NewCoverageMismatchError(types.ChainEthereum, 1, 2), false},
		{"unexpected", io.ErrClosedPipe, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsChainFatal(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewProviderError("dune", io.EOF)))
	assert.True(t, IsRetryable(NewServiceUnavailableError("coingecko")))
	assert.False(t, IsRetryable(NewSchemaViolationError(types.ChainEthereum, FeedPrices, nil)))
	assert.False(t, IsRetryable(nil))
}
