package chat

import "errors"

var (
	// ErrInvalidParticipant means channel derivation was called with a
	// missing user id. Programmer error; nothing downstream can proceed.
	ErrInvalidParticipant = errors.New("chat: invalid participant id")

	// ErrChannelUnavailable means the backend could not materialize the
	// channel. Recoverable; the caller should not fetch or send.
	ErrChannelUnavailable = errors.New("chat: channel unavailable")

	// ErrSendFailed means the persist call failed. The optimistic local
	// copy stays in the cache marked failed.
	ErrSendFailed = errors.New("chat: send failed")

	// ErrStaleFetch means a newer fetch started while this one was in
	// flight; the result was discarded instead of clobbering fresher state.
	ErrStaleFetch = errors.New("chat: stale fetch discarded")
)
