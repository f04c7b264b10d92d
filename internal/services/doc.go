// Package services defines the [Source] interface for reading workspaces from a board API and implements it for Trello.
//
// # Trello Implementation
//
// [TrelloService] authenticates with an API key and token sent as query parameters, or with an
// OAuth2 access token attached by an [oauth2.Transport]. Attachment downloads use the OAuth
// Authorization header instead.
//
// Outbound calls are paced by a token bucket and retried with exponential backoff:
//   - 5xx and transport errors consume one of [RetryPolicy.MaxAttempts]
//   - 429 waits for Retry-After (default 10s) without consuming an attempt
//   - any other 4xx is terminal ([shared.ErrNotFound] for 404)
//
// # Run Cache
//
// [RunCache] memoizes card, label and list listings per board for the duration of one migration run.
// It is created per run and never shared between jobs.
//
// # Error Handling
//
// Services use sentinel errors from the shared package:
//   - [shared.ErrMissingCredentials] : no key/token or access token configured
//   - [shared.ErrAPIRequest] : request rejected by the API
//   - [shared.ErrNotFound] : resource does not exist
//   - [shared.ErrRetriesExhausted] : transient failures outlasted the retry policy
//   - [shared.ErrFileTooLarge] : download exceeded the caller's byte limit
package services
