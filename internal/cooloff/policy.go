package cooloff

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/config"
)

// Category buckets a delivery failure for suppression purposes.
type Category string

const (
	CategoryNotAUser    Category = "not_a_user"    // recipient is not on the channel
	CategoryPolicyDrop  Category = "policy_drop"   // messaging cap / re-engagement required
	CategoryBlocked     Category = "blocked"       // recipient blocked the sender
	CategoryRateLimited Category = "rate_limited"  // spam rate limit hit
	CategoryOther       Category = "other"         // anything else, no suppression
)

// Cloud API error codes with a known suppression meaning.
const (
	codeNotAUser      = 131026
	codeReEngagement  = 131047
	codeSpamRate      = 131048
	codePairRateLimit = 131056
)

// Classify maps a failure code/title to a category. The API has no numeric
// code for "recipient blocked the sender", so the title is matched too.
func Classify(code int, title string) Category {
	switch code {
	case codeNotAUser:
		return CategoryNotAUser
	case codeReEngagement:
		return CategoryPolicyDrop
	case codeSpamRate, codePairRateLimit:
		return CategoryRateLimited
	}
	if strings.Contains(strings.ToLower(title), "blocked") {
		return CategoryBlocked
	}
	return CategoryOther
}

// Retryable reports whether a failure in this category may still be worth a
// fallback attempt. Sending again to someone who is not on the channel or
// who blocked us only collects anti-spam strikes.
func (c Category) Retryable() bool {
	return c != CategoryNotAUser && c != CategoryBlocked
}

// Policy holds the suppression duration per category.
type Policy struct {
	NotAUser    time.Duration
	PolicyDrop  time.Duration
	Blocked     time.Duration
	RateLimited time.Duration
}

func PolicyFromConfig(cfg config.CooloffConfig) Policy {
	return Policy{
		NotAUser:    cfg.NotAUser,
		PolicyDrop:  cfg.PolicyDrop,
		Blocked:     cfg.Blocked,
		RateLimited: cfg.Undeliverable,
	}
}

// Duration returns the suppression window for a category, 0 meaning no
// suppression.
func (p Policy) Duration(cat Category) time.Duration {
	switch cat {
	case CategoryNotAUser:
		return p.NotAUser
	case CategoryPolicyDrop:
		return p.PolicyDrop
	case CategoryBlocked:
		return p.Blocked
	case CategoryRateLimited:
		return p.RateLimited
	}
	return 0
}

// ContactSuppressor is the slice of the contact store the engine needs.
type ContactSuppressor interface {
	Suppress(ctx context.Context, waID string, until *time.Time, code int, title string) error
}

// Engine applies the policy to contacts.
type Engine struct {
	Policy   Policy
	Contacts ContactSuppressor
	Log      zerolog.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

// Apply classifies the failure and stamps the contact. A zero duration
// records the diagnostics without suppressing.
func (e *Engine) Apply(ctx context.Context, waID string, code int, title string) (Category, error) {
	cat := Classify(code, title)
	dur := e.Policy.Duration(cat)

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	var until *time.Time
	if dur > 0 {
		t := now().Add(dur)
		until = &t
	}

	if err := e.Contacts.Suppress(ctx, waID, until, code, title); err != nil {
		return cat, err
	}
	if until != nil {
		e.Log.Info().Str("wa_id", waID).Int("code", code).
			Str("category", string(cat)).Time("until", *until).
			Msg("contact cooled off")
	}
	return cat, nil
}
