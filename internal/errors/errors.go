package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/holdings-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryMissingFeed represents an input feed absent for a chain
	CategoryMissingFeed ErrorCategory = "missing_feed"
	// CategorySchema represents a feed lacking a required column
	CategorySchema ErrorCategory = "schema_violation"
	// CategoryRowConversion represents a feed row with an unparseable field
	CategoryRowConversion ErrorCategory = "row_conversion"
	// CategoryCoverage represents a balance/price coverage mismatch
	CategoryCoverage ErrorCategory = "coverage_mismatch"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryProvider represents data provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "system"
)

// Feed names used in MissingFeed and SchemaViolation details.
const (
	FeedTransactions = "transactions"
	FeedMetadata     = "metadata"
	FeedPrices       = "prices"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Pipeline errors

// NewMissingFeedError reports that a chain's input feed could not be found.
// The chain is excluded from the run.
func NewMissingFeedError(chain types.ChainID, feed string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMissingFeed,
		StatusCode: http.StatusNotFound,
		Code:       "MISSING_FEED",
		Message:    fmt.Sprintf("%s feed missing for chain %s", feed, chain),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain": string(chain),
			"feed":  feed,
		},
	}
}

// NewSchemaViolationError reports required columns absent from a feed.
func NewSchemaViolationError(chain types.ChainID, feed string, missing []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySchema,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "SCHEMA_VIOLATION",
		Message:    fmt.Sprintf("%s feed for chain %s lacks required columns %v", feed, chain, missing),
		Details: map[string]interface{}{
			"chain":   string(chain),
			"feed":    feed,
			"missing": missing,
		},
	}
}

// NewRowConversionError reports a single unusable row. line is 1-based and
// counts the header; 0 means unknown.
func NewRowConversionError(feed string, line int, field string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRowConversion,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "ROW_CONVERSION",
		Message:    fmt.Sprintf("%s row %d: cannot convert %s", feed, line, field),
		Cause:      cause,
		Details: map[string]interface{}{
			"feed":  feed,
			"line":  line,
			"field": field,
		},
	}
}

// NewCoverageMismatchError describes (period, contract) pairs present on one
// side of the balance/price join only. It is informational.
func NewCoverageMismatchError(chain types.ChainID, balanceOnly, priceOnly int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCoverage,
		StatusCode: http.StatusOK,
		Code:       "COVERAGE_MISMATCH",
		Message:    fmt.Sprintf("chain %s: %d balance cells without price, %d price cells without balance", chain, balanceOnly, priceOnly),
		Details: map[string]interface{}{
			"chain":       string(chain),
			"balanceOnly": balanceOnly,
			"priceOnly":   priceOnly,
		},
	}
}

// Request and system errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Data provider errors

// NewProviderError creates a data provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderRateLimitError creates a provider rate limit error
func NewProviderRateLimitError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMIT",
		Message:    fmt.Sprintf("data provider rate limit exceeded: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// Is reports whether err carries the given category anywhere in its chain.
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsChainFatal reports whether err must exclude the chain from the run.
// Row conversion and coverage errors are absorbed into diagnostics instead.
func IsChainFatal(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, CategoryRowConversion) && !Is(err, CategoryCoverage)
}
