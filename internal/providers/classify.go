package providers

import "github.com/aj-archipelago/cortex/internal/cortexerr"

// Kind maps a FailoverReason to the gateway's vendor-neutral cortexerr.Kind
// (§7), so the pathway executor and agent loop never need to know about
// provider-specific failure vocabularies.
func (r FailoverReason) Kind() cortexerr.Kind {
	switch r {
	case FailoverInvalidRequest, FailoverContentFilter:
		return cortexerr.InputValidation
	case FailoverRateLimit, FailoverServerError:
		return cortexerr.Retryable
	case FailoverTimeout:
		return cortexerr.Timeout
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return cortexerr.NonRetryable
	default:
		return cortexerr.NonRetryable
	}
}

// ToCortexError converts a ProviderError into a cortexerr.Error, preserving
// model and provider context.
func (e *ProviderError) ToCortexError() *cortexerr.Error {
	ce := cortexerr.New(e.Reason.Kind(), e)
	ce.Model = e.Model
	ce.Endpoint = e.Provider
	return ce
}

// ClassifyToKind inspects err (a raw error or a *ProviderError) and returns
// the gateway's vendor-neutral Kind directly.
func ClassifyToKind(err error) cortexerr.Kind {
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.Kind()
	}
	return ClassifyError(err).Kind()
}
