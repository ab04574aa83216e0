package core

import (
	"math"
	"net/url"
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	issued := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}
	maxAge := func(s int64) *int64 { return &s }

	reqURL := mustURL("/connect/authorize?client_id=client&prompt=login&scope=openid")

	for _, tc := range []struct {
		Name       string
		Req        FreshnessRequest
		Want       DecisionKind
		WantTarget string
	}{
		{
			Name:       "no session",
			Req:        FreshnessRequest{RequestURL: reqURL},
			Want:       DecisionChallengeInteractive,
			WantTarget: "/connect/authorize?client_id=client&prompt=continue&scope=openid",
		},
		{
			Name: "no session, prompt none",
			Req:  FreshnessRequest{Prompts: []string{PromptNone}},
			Want: DecisionChallengeSilent,
		},
		{
			Name: "no session, fresh max_age",
			Req:  FreshnessRequest{MaxAge: maxAge(3600), SessionIssuedAt: issued(time.Second)},
			Want: DecisionChallengeInteractive,
		},
		{
			Name: "session",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(time.Hour)},
			Want: DecisionProceed,
		},
		{
			Name: "session, prompt consent",
			Req:  FreshnessRequest{SessionPresent: true, Prompts: []string{PromptConsent}},
			Want: DecisionProceed,
		},
		{
			Name: "session, prompt continue",
			Req:  FreshnessRequest{SessionPresent: true, Prompts: []string{PromptContinue}},
			Want: DecisionProceed,
		},
		{
			Name: "session, prompt none",
			Req:  FreshnessRequest{SessionPresent: true, Prompts: []string{PromptNone}},
			Want: DecisionProceed,
		},
		{
			Name:       "session, prompt login",
			Req:        FreshnessRequest{SessionPresent: true, Prompts: []string{PromptConsent, PromptLogin}, RequestURL: reqURL},
			Want:       DecisionChallengeInteractive,
			WantTarget: "/connect/authorize?client_id=client&prompt=continue&scope=openid",
		},
		{
			Name: "session, prompt login and none",
			Req:  FreshnessRequest{SessionPresent: true, Prompts: []string{PromptLogin, PromptNone}},
			Want: DecisionChallengeSilent,
		},
		{
			Name: "session within max_age",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(30 * time.Second), MaxAge: maxAge(60)},
			Want: DecisionProceed,
		},
		{
			Name: "session exactly max_age",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(60 * time.Second), MaxAge: maxAge(60)},
			Want: DecisionProceed,
		},
		{
			Name: "session older than max_age",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(61 * time.Second), MaxAge: maxAge(60)},
			Want: DecisionChallengeInteractive,
		},
		{
			Name: "session older than max_age, prompt none",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(time.Hour), MaxAge: maxAge(1), Prompts: []string{PromptNone}},
			Want: DecisionChallengeSilent,
		},
		{
			Name: "max_age too large for a duration",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(time.Second), MaxAge: maxAge(10000000000)},
			Want: DecisionProceed,
		},
		{
			Name: "largest max_age",
			Req:  FreshnessRequest{SessionPresent: true, SessionIssuedAt: issued(100 * 365 * 24 * time.Hour), MaxAge: maxAge(math.MaxInt64)},
			Want: DecisionProceed,
		},
		{
			Name: "max_age zero, returning from sign in",
			Req: FreshnessRequest{
				SessionPresent:  true,
				SessionIssuedAt: issued(2 * time.Second),
				ChallengedAt:    issued(time.Minute),
				MaxAge:          maxAge(0),
				Prompts:         []string{PromptContinue},
			},
			Want: DecisionProceed,
		},
		{
			Name: "max_age zero, session from before the challenge",
			Req: FreshnessRequest{
				SessionPresent:  true,
				SessionIssuedAt: issued(time.Hour),
				ChallengedAt:    issued(time.Minute),
				MaxAge:          maxAge(0),
				Prompts:         []string{PromptContinue},
			},
			Want: DecisionChallengeInteractive,
		},
		{
			Name: "max_age zero, continue without a challenge",
			Req: FreshnessRequest{
				SessionPresent:  true,
				SessionIssuedAt: issued(2 * time.Second),
				MaxAge:          maxAge(0),
				Prompts:         []string{PromptContinue},
			},
			Want: DecisionChallengeInteractive,
		},
		{
			Name: "max_age zero, challenged but not continuing",
			Req: FreshnessRequest{
				SessionPresent:  true,
				SessionIssuedAt: issued(2 * time.Second),
				ChallengedAt:    issued(time.Minute),
				MaxAge:          maxAge(0),
			},
			Want: DecisionChallengeInteractive,
		},
		{
			Name: "max_age without issued time",
			Req:  FreshnessRequest{SessionPresent: true, MaxAge: maxAge(0)},
			Want: DecisionProceed,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			tc.Req.Now = now
			got := Evaluate(tc.Req)
			if got.Kind != tc.Want {
				t.Fatalf("want decision %s, got %s", tc.Want, got.Kind)
			}
			if got.Kind == DecisionChallengeSilent && got.ErrorCode != ErrorCodeLoginRequired {
				t.Errorf("want error code %s, got %q", ErrorCodeLoginRequired, got.ErrorCode)
			}
			if got.Kind != DecisionChallengeInteractive && got.RedirectTarget != "" {
				t.Errorf("want no redirect target, got %q", got.RedirectTarget)
			}
			if tc.WantTarget != "" && got.RedirectTarget != tc.WantTarget {
				t.Errorf("want redirect target %q, got %q", tc.WantTarget, got.RedirectTarget)
			}
		})
	}
}

func TestEvaluateNoSessionNeverProceeds(t *testing.T) {
	maxAge := int64(10)
	issued := time.Now()
	for _, prompts := range [][]string{nil, {PromptNone}, {PromptLogin}, {PromptConsent}, {PromptContinue}} {
		for _, ma := range []*int64{nil, &maxAge} {
			got := Evaluate(FreshnessRequest{
				Prompts:         prompts,
				MaxAge:          ma,
				SessionIssuedAt: &issued,
				Now:             issued,
			})
			if got.Kind == DecisionProceed {
				t.Errorf("prompts %v max age %v: want challenge, got proceed", prompts, ma)
			}
		}
	}
}

func TestContinueURLDoesNotRechallenge(t *testing.T) {
	target := ContinueURL(mustURL("/connect/authorize?prompt=login&state=abc"))

	u, err := url.Parse(target)
	if err != nil {
		t.Fatal(err)
	}

	if u.Query().Get("state") != "abc" {
		t.Errorf("want state preserved, got %q", u.Query().Get("state"))
	}

	now := time.Now()
	got := Evaluate(FreshnessRequest{
		SessionPresent:  true,
		SessionIssuedAt: &now,
		Prompts:         u.Query()["prompt"],
		Now:             now,
		RequestURL:      u,
	})
	if got.Kind != DecisionProceed {
		t.Errorf("want returning request to proceed, got %s", got.Kind)
	}
}

func mustURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
