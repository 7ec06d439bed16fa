package detector

import (
	"context"
	"net"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// datacenterCIDRs is a small illustrative set of well-known cloud ranges.
// Production deployments wire in a real GeoIP/ASN database behind a
// detector of their own; this built-in stays intentionally minimal.
var datacenterCIDRs = mustParseCIDRs(
	"3.0.0.0/8",     // AWS
	"13.32.0.0/15",  // AWS CloudFront
	"34.0.0.0/8",    // GCP
	"35.184.0.0/13", // GCP
	"40.74.0.0/15",  // Azure
	"52.0.0.0/8",    // AWS
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// IsDatacenterIP reports whether ip falls in a known cloud/datacenter range.
func IsDatacenterIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range datacenterCIDRs {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// IPDetector flags datacenter/hosting-provider source addresses.
type IPDetector struct {
	weight float64
}

// NewIPDetector builds an IPDetector with the given default weight.
func NewIPDetector(weight float64) *IPDetector {
	return &IPDetector{weight: weight}
}

func (d *IPDetector) Name() string              { return "Ip" }
func (d *IPDetector) Category() domain.Category { return domain.CategoryIP }
func (d *IPDetector) LaneHint() domain.Lane     { return domain.LaneFast }
func (d *IPDetector) DefaultWeight() float64    { return d.weight }

func (d *IPDetector) Contribute(_ context.Context, state *blackboard.Blackboard) []domain.Contribution {
	isDatacenter := IsDatacenterIP(state.ClientIPRaw)
	state.SetSignal("ip.is_datacenter", isDatacenter)

	if !isDatacenter {
		return nil
	}
	return []domain.Contribution{{
		DetectorName:    d.Name(),
		Category:        d.Category(),
		ConfidenceDelta: 0.5,
		Weight:          d.weight,
		Reason:          "source address resolves to a known datacenter/hosting range",
		BotType:         domain.BotTypeUnknown,
		Signals:         map[string]any{"ip.is_datacenter": true},
	}}
}
