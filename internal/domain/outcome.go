package domain

import "net/http"

// OutcomeKind discriminates the variants of CompletionOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRemoteError
	OutcomeTimeout
	OutcomeConnectionFailure
	OutcomeMalformedResponse
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRemoteError:
		return "remote_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeConnectionFailure:
		return "connection_failure"
	case OutcomeMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// CompletionOutcome is the result of a single completion call.
// Reply is set for OutcomeSuccess, StatusCode for OutcomeRemoteError,
// Detail for every failure kind.
type CompletionOutcome struct {
	Kind       OutcomeKind
	Reply      string
	StatusCode int
	Detail     string
}

func Success(reply string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeSuccess, Reply: reply}
}

func RemoteError(status int, detail string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeRemoteError, StatusCode: status, Detail: detail}
}

func Timeout(detail string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeTimeout, Detail: detail}
}

func ConnectionFailure(detail string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeConnectionFailure, Detail: detail}
}

func MalformedResponse(detail string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeMalformedResponse, Detail: detail}
}

// Retryable reports whether a later identical attempt could plausibly
// succeed. The client never retries; this only informs the caller.
func (o CompletionOutcome) Retryable() bool {
	switch o.Kind {
	case OutcomeTimeout, OutcomeConnectionFailure:
		return true
	case OutcomeRemoteError:
		return o.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
