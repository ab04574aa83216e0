package core

import (
	"math"
	"net/url"
	"time"
)

// Prompt values
//
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"

	// PromptContinue replaces the prompt parameter on the request we send the
	// user back to after an interactive login. It is not "login", so the
	// returning request can not challenge again because of its prompt.
	PromptContinue = "continue"
)

// ErrorCodeLoginRequired is returned to the client when authentication is
// required, but the client asked for no user interaction.
//
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
const ErrorCodeLoginRequired = "login_required"

// DecisionKind is the outcome of evaluating an authorization request against
// the current session.
type DecisionKind int

const (
	// DecisionProceed means the existing session can be used.
	DecisionProceed DecisionKind = iota
	// DecisionChallengeInteractive means the user should be sent to log in,
	// returning to RedirectTarget afterwards.
	DecisionChallengeInteractive
	// DecisionChallengeSilent means the client should be sent ErrorCode
	// instead of any user interaction.
	DecisionChallengeSilent
)

func (d DecisionKind) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionChallengeInteractive:
		return "challenge_interactive"
	case DecisionChallengeSilent:
		return "challenge_silent"
	default:
		return "unknown"
	}
}

// Decision is the terminal result for an authorization request.
type Decision struct {
	Kind DecisionKind
	// RedirectTarget is the path and query to return to after login. Only set
	// for DecisionChallengeInteractive.
	RedirectTarget string
	// ErrorCode is set for DecisionChallengeSilent.
	ErrorCode string
}

// FreshnessRequest carries what is known about the session and the incoming
// authorization request.
type FreshnessRequest struct {
	SessionPresent  bool
	SessionIssuedAt *time.Time
	// MaxAge is the max_age parameter in seconds, if it was sent. It is
	// expected to have been validated by the caller.
	MaxAge  *int64
	Prompts []string
	// ChallengedAt is when this user agent was last sent to sign in, if it
	// was. A session issued since then, returning with PromptContinue, has
	// just answered that challenge and satisfies MaxAge.
	ChallengedAt *time.Time
	Now          time.Time
	// RequestURL is the authorization request, used to build the redirect
	// target. Only the path and query are used.
	RequestURL *url.URL
}

// HasPrompt returns true if the prompt value was requested.
func (f FreshnessRequest) HasPrompt(prompt string) bool {
	for _, p := range f.Prompts {
		if p == prompt {
			return true
		}
	}
	return false
}

// Evaluate decides if an authorization request can proceed using the current
// session.
func Evaluate(req FreshnessRequest) Decision {
	if !req.SessionPresent || req.HasPrompt(PromptLogin) {
		return challenge(req)
	}

	if req.MaxAge != nil && req.SessionIssuedAt != nil && !req.answersChallenge() &&
		exceedsMaxAge(req.Now.Sub(*req.SessionIssuedAt), *req.MaxAge) {
		return challenge(req)
	}

	return Decision{Kind: DecisionProceed}
}

// answersChallenge returns true if the request is the user returning from a
// sign in we sent them to, with the session that sign in created.
func (f FreshnessRequest) answersChallenge() bool {
	return f.HasPrompt(PromptContinue) && f.ChallengedAt != nil &&
		f.SessionIssuedAt != nil && !f.SessionIssuedAt.Before(*f.ChallengedAt)
}

// maxAgeLimit is the largest max_age, in seconds, a time.Duration can hold.
// Anything larger can never be exceeded.
const maxAgeLimit = int64(math.MaxInt64 / time.Second)

func exceedsMaxAge(elapsed time.Duration, maxAge int64) bool {
	if maxAge > maxAgeLimit {
		return false
	}
	return elapsed > time.Duration(maxAge)*time.Second
}

func challenge(req FreshnessRequest) Decision {
	if req.HasPrompt(PromptNone) {
		return Decision{Kind: DecisionChallengeSilent, ErrorCode: ErrorCodeLoginRequired}
	}
	return Decision{
		Kind:           DecisionChallengeInteractive,
		RedirectTarget: ContinueURL(req.RequestURL),
	}
}

// ContinueURL returns the path and query of u, with the prompt parameter
// replaced by PromptContinue.
func ContinueURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	q.Set("prompt", PromptContinue)
	return (&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: q.Encode()}).String()
}
