package detector

import (
	"context"
	"strings"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// securityToolFragments are User-Agent substrings belonging to known
// scanning/exploitation tooling rather than generic automation clients.
var securityToolFragments = []string{"sqlmap", "nikto", "nmap", "masscan", "acunetix", "nessus", "dirbuster", "gobuster", "wpscan"}

// SecurityToolDetector flags requests originating from known security
// scanning tools, the clearest-signal case in the detector set: a match
// here is near-certain automated tooling.
type SecurityToolDetector struct {
	weight float64
}

// NewSecurityToolDetector builds a SecurityToolDetector with the given
// default weight.
func NewSecurityToolDetector(weight float64) *SecurityToolDetector {
	return &SecurityToolDetector{weight: weight}
}

func (d *SecurityToolDetector) Name() string              { return "SecurityTool" }
func (d *SecurityToolDetector) Category() domain.Category { return domain.CategorySecurity }
func (d *SecurityToolDetector) LaneHint() domain.Lane     { return domain.LaneFast }
func (d *SecurityToolDetector) DefaultWeight() float64    { return d.weight }

func (d *SecurityToolDetector) Contribute(_ context.Context, state *blackboard.Blackboard) []domain.Contribution {
	ua := strings.ToLower(state.UserAgentRaw)

	for _, frag := range securityToolFragments {
		if strings.Contains(ua, frag) {
			state.SetSignal("security.tool_match", frag)
			return []domain.Contribution{{
				DetectorName:    d.Name(),
				Category:        d.Category(),
				ConfidenceDelta: 0.95,
				Weight:          d.weight,
				Reason:          "user agent identifies a known security scanning tool (\"" + frag + "\")",
				BotType:         domain.BotTypeScanner,
				Signals:         map[string]any{"security.tool_match": frag},
			}}
		}
	}

	// Header-based probing heuristics: a second, weaker signal for tools
	// that spoof a browser UA but still leave scanner fingerprints in
	// request shape (e.g. injection payloads in the query string).
	if path := strings.ToLower(state.Path + "?" + state.Query); containsInjectionPattern(path) {
		return []domain.Contribution{{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.55,
			Weight:          d.weight,
			Reason:          "request path/query contains a common injection probe pattern",
			BotType:         domain.BotTypeScanner,
		}}
	}

	return nil
}

func containsInjectionPattern(s string) bool {
	patterns := []string{"union+select", "union select", "' or '1'='1", "<script>", "../../../etc/passwd", "base64_decode("}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
