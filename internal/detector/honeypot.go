package detector

import (
	"context"
	"strings"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// testModeHeader carries simulated honeypot verdicts for integration tests
// and demos, formatted as "<honeypot-name:bot-type>", e.g.
// "test-honeypot:spammer". It is only consulted when test mode is enabled
// in config; production traffic
// never sets it, and the detector no-ops when test mode is off.
const testModeHeader = "Ml-Bot-Test-Mode"

// testModeBotTypes maps the simulated bot-type token from the test-mode
// header to the bot type and the honeypot classification surfaced in the
// contribution reason.
var testModeBotTypes = map[string]struct {
	botType        domain.BotType
	classification string
}{
	"spammer": {domain.BotTypeMaliciousBot, "CommentSpammer"},
	"scraper": {domain.BotTypeScraper, "Harvester"},
	"goodbot": {domain.BotTypeGoodBot, "SearchEngine"},
	"unknown": {domain.BotTypeUnknown, "Suspicious"},
}

// HoneypotDetector flags requests that trip hidden honeypot fields/links,
// and, only when test mode is enabled, simulates a honeypot trip from a
// request header so scenarios can be reproduced without wiring real
// honeypot markup.
type HoneypotDetector struct {
	weight     float64
	testModeOn bool
}

// NewHoneypotDetector builds a HoneypotDetector. testModeOn should mirror
// config.EnableTestMode.
func NewHoneypotDetector(weight float64, testModeOn bool) *HoneypotDetector {
	return &HoneypotDetector{weight: weight, testModeOn: testModeOn}
}

func (d *HoneypotDetector) Name() string              { return "ProjectHoneypot" }
func (d *HoneypotDetector) Category() domain.Category { return domain.CategoryHoneypot }
func (d *HoneypotDetector) LaneHint() domain.Lane     { return domain.LaneFast }
func (d *HoneypotDetector) DefaultWeight() float64    { return d.weight }

func (d *HoneypotDetector) Contribute(_ context.Context, state *blackboard.Blackboard) []domain.Contribution {
	if tripped := state.SignalBool("honeypot.field_tripped"); tripped {
		state.SetSignal("HoneypotThreatScore", 100)
		return []domain.Contribution{{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.97,
			Weight:          d.weight,
			Reason:          "hidden honeypot field was populated",
			BotType:         domain.BotTypeMaliciousBot,
			Signals:         map[string]any{"HoneypotThreatScore": 100},
		}}
	}

	if !d.testModeOn {
		return nil
	}
	raw, ok := state.Headers.Get(testModeHeader)
	if !ok || raw == "" {
		return nil
	}

	name, botTypeToken, ok := parseTestModeHeader(raw)
	if !ok {
		return nil
	}
	verdict, known := testModeBotTypes[strings.ToLower(botTypeToken)]
	if !known {
		verdict.botType = domain.BotTypeUnknown
		verdict.classification = "Suspicious"
	}

	state.SetSignal("HoneypotThreatScore", 100)
	return []domain.Contribution{{
		DetectorName:    d.Name(),
		Category:        d.Category(),
		ConfidenceDelta: 0.99,
		Weight:          d.weight,
		Reason:          "[TEST MODE] simulated honeypot trip (" + name + ") classified as " + verdict.classification,
		BotType:         verdict.botType,
		BotName:         verdict.classification,
		Signals:         map[string]any{"HoneypotThreatScore": 100, "test_mode_honeypot": name},
	}}
}

// parseTestModeHeader splits a "<name:bot-type>" test-mode header value,
// tolerating surrounding angle brackets.
func parseTestModeHeader(raw string) (name, botType string, ok bool) {
	trimmed := strings.Trim(raw, "<>")
	parts := strings.SplitN(trimmed, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
