package dispatch

import (
	"math/rand"
	"strings"

	"github.com/goliatone/go-chat-gateway/core"
)

// Router picks the forwarding target for a message. Prior conversation
// state wins over keyword scoring; keyword ties break on the lowest
// configured priority; zero scores fall back to the default service.
type Router struct {
	Config core.RoutingConfig
	Rand   func() float64
}

func NewRouter(cfg core.RoutingConfig) *Router {
	return &Router{Config: cfg, Rand: rand.Float64}
}

// Sampled reports whether routing should be attempted for this message.
// Active mode always routes; other modes honor the sample rate.
func (r *Router) Sampled(mode core.RoutingMode) bool {
	if r == nil {
		return false
	}
	if mode == core.RoutingModeActive {
		return true
	}
	rate := r.Config.SampleRate
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	random := rand.Float64
	if r.Rand != nil {
		random = r.Rand
	}
	return random() < rate
}

// Decide resolves the routing target. ok is false when no usable target
// exists (no routes configured, or the selected service is disabled).
func (r *Router) Decide(state core.ConversationState, text string) (core.RoutingDecision, bool) {
	if r == nil {
		return core.RoutingDecision{}, false
	}

	if category := strings.TrimSpace(strings.ToLower(state.Category)); category != "" {
		for _, route := range r.Config.Routes {
			if strings.EqualFold(strings.TrimSpace(route.Service), category) {
				return r.admitDecision(core.RoutingDecision{
					Service: strings.TrimSpace(route.Service),
					Reason:  core.RouteReasonState,
					Matched: category,
				})
			}
		}
	}

	best := core.RoutingDecision{}
	bestScore := 0
	bestPriority := 0
	normalized := strings.ToLower(text)
	for _, route := range r.Config.Routes {
		score := keywordScore(normalized, route.Keywords)
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && route.Priority < bestPriority) {
			best = core.RoutingDecision{
				Service: strings.TrimSpace(route.Service),
				Reason:  core.RouteReasonKeyword,
				Matched: firstKeywordHit(normalized, route.Keywords),
			}
			bestScore = score
			bestPriority = route.Priority
		}
	}
	if bestScore > 0 {
		return r.admitDecision(best)
	}

	if fallback := strings.TrimSpace(r.Config.DefaultService); fallback != "" {
		return r.admitDecision(core.RoutingDecision{Service: fallback, Reason: core.RouteReasonFallback})
	}
	return core.RoutingDecision{}, false
}

func (r *Router) admitDecision(decision core.RoutingDecision) (core.RoutingDecision, bool) {
	if decision.Service == "" {
		return core.RoutingDecision{}, false
	}
	for _, disabled := range r.Config.DisabledServices {
		if strings.EqualFold(strings.TrimSpace(disabled), decision.Service) {
			return core.RoutingDecision{}, false
		}
	}
	return decision, true
}

// keywordScore counts keyword hits in the normalized message text.
func keywordScore(normalizedText string, keywords []string) int {
	if strings.TrimSpace(normalizedText) == "" {
		return 0
	}
	score := 0
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(strings.ToLower(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(normalizedText, keyword) {
			score++
		}
	}
	return score
}

func firstKeywordHit(normalizedText string, keywords []string) string {
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(strings.ToLower(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(normalizedText, keyword) {
			return keyword
		}
	}
	return ""
}
