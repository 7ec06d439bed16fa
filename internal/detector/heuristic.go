package detector

import (
	"context"
	"strings"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// HeuristicDetector applies cheap pattern rules against the user agent
// and header set: fast, pure rule scoring with no external lookups.
type HeuristicDetector struct {
	weight float64
}

// NewHeuristicDetector builds a HeuristicDetector with the given default
// weight (policy overrides still apply on top).
func NewHeuristicDetector(weight float64) *HeuristicDetector {
	return &HeuristicDetector{weight: weight}
}

func (d *HeuristicDetector) Name() string              { return "Heuristic" }
func (d *HeuristicDetector) Category() domain.Category { return domain.CategoryHeuristic }
func (d *HeuristicDetector) LaneHint() domain.Lane     { return domain.LaneFast }
func (d *HeuristicDetector) DefaultWeight() float64    { return d.weight }

// toolUAFragments are substrings of User-Agent strings belonging to
// command-line / automation clients rather than browsers.
var toolUAFragments = []string{"curl/", "wget/", "python-requests", "go-http-client", "libwww-perl", "httpclient", "okhttp", "postmanruntime"}

func (d *HeuristicDetector) Contribute(_ context.Context, state *blackboard.Blackboard) []domain.Contribution {
	ua := strings.ToLower(state.UserAgentRaw)
	_, hasAcceptLanguage := state.Headers.Get("Accept-Language")
	_, hasAcceptEncoding := state.Headers.Get("Accept-Encoding")
	_, hasAccept := state.Headers.Get("Accept")

	classTuple := classifyUA(ua)
	state.SetSignal("ua.class_tuple", classTuple)

	c := func(delta float64, reason string, botType domain.BotType, signals map[string]any) domain.Contribution {
		return domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: delta,
			Weight:          d.weight,
			Reason:          reason,
			BotType:         botType,
			Signals:         signals,
		}
	}

	var out []domain.Contribution

	toolMatched := false
	for _, frag := range toolUAFragments {
		if strings.Contains(ua, frag) {
			toolMatched = true
			state.SetSignal("ua.is_tool", true)
			out = append(out, c(0.85, "user agent matches known automation client pattern (\""+frag+"\")", domain.BotTypeTool, map[string]any{"matched_fragment": frag}))
			break
		}
	}

	if ua == "" {
		out = append(out, c(0.6, "missing user agent header", domain.BotTypeUnknown, nil))
		if !hasAccept && !hasAcceptLanguage {
			out = append(out, c(0.3, "no accept headers alongside missing user agent", domain.BotTypeUnknown, nil))
		}
		return out
	}

	looksLikeBrowser := strings.Contains(ua, "mozilla/") && (strings.Contains(ua, "chrome/") || strings.Contains(ua, "safari/") || strings.Contains(ua, "firefox/"))

	switch {
	case looksLikeBrowser && hasAccept && hasAcceptLanguage:
		// A browser-shaped UA carrying the headers real browsers send is
		// human-likelihood evidence, split across independent signals so
		// the weighting stays per-observation.
		out = append(out, c(-0.4, "browser-shaped user agent reports human likelihood", domain.BotTypeUnknown, nil))
		out = append(out, c(-0.45, "full accept/accept-language header set matches interactive browser", domain.BotTypeUnknown, nil))
		if hasAcceptEncoding {
			out = append(out, c(-0.25, "accept-encoding present, consistent with a real browser stack", domain.BotTypeUnknown, nil))
		}
	case looksLikeBrowser:
		out = append(out, c(0.3, "browser-claiming user agent missing expected accept-* headers", domain.BotTypeUnknown, nil))
	case !toolMatched && !hasAccept && !hasAcceptLanguage:
		// Non-browser clients legitimately skip accept-language, but
		// skipping the whole accept set is automation-shaped.
		out = append(out, c(0.3, "non-browser client sends no standard accept headers", domain.BotTypeUnknown, nil))
	case toolMatched && !hasAcceptLanguage:
		out = append(out, c(0.25, "automation client without accept-language", domain.BotTypeUnknown, nil))
	}

	return out
}

// classifyUA extracts a small ordered set of class tokens used for
// signature-family UA-similarity clustering. Computing
// this on the raw UA rather than its hash is what makes similarity possible
// without ever persisting the raw string.
func classifyUA(ua string) []string {
	switch {
	case ua == "":
		return []string{"empty"}
	case strings.Contains(ua, "curl/"):
		return []string{"tool", "curl"}
	case strings.Contains(ua, "wget/"):
		return []string{"tool", "wget"}
	case strings.Contains(ua, "python-requests"):
		return []string{"tool", "python"}
	case strings.Contains(ua, "sqlmap"):
		return []string{"scanner", "sqlmap"}
	case strings.Contains(ua, "nmap") || strings.Contains(ua, "nikto") || strings.Contains(ua, "masscan"):
		return []string{"scanner", "generic"}
	case strings.Contains(ua, "googlebot") || strings.Contains(ua, "bingbot"):
		return []string{"crawler", "search_engine"}
	case strings.Contains(ua, "mozilla/") && strings.Contains(ua, "chrome/"):
		return []string{"browser", "chromium"}
	case strings.Contains(ua, "mozilla/") && strings.Contains(ua, "firefox/"):
		return []string{"browser", "firefox"}
	case strings.Contains(ua, "mozilla/") && strings.Contains(ua, "safari/"):
		return []string{"browser", "webkit"}
	default:
		return []string{"unclassified"}
	}
}
