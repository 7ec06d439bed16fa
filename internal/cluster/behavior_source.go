package cluster

import (
	"github.com/subculture-collective/botengine/internal/signature"
)

// BehaviorSource adapts the signature coordinator's live behavior
// snapshots into the feature vectors the clustering pass consumes.
type BehaviorSource struct {
	coordinator *signature.Coordinator
}

// NewBehaviorSource builds a BehaviorSource over a coordinator.
func NewBehaviorSource(c *signature.Coordinator) *BehaviorSource {
	return &BehaviorSource{coordinator: c}
}

// CurrentFeatureVectors implements FeatureSource.
func (s *BehaviorSource) CurrentFeatureVectors() []FeatureVector {
	behaviors := s.coordinator.GetAllBehaviors()
	out := make([]FeatureVector, 0, len(behaviors))
	for _, b := range behaviors {
		out = append(out, FeatureVectorFromBehavior(b))
	}
	return out
}

// FeatureVectorFromBehavior derives the 12-dimension feature vector from
// one behavior snapshot. Spectral features are only computed once
// the history is long enough; below that, HasSpectral stays false and the
// similarity function substitutes its neutral value.
func FeatureVectorFromBehavior(b signature.Behavior) FeatureVector {
	requests := b.Requests()

	uniquePaths := make(map[string]struct{}, len(requests))
	timestamps := make([]RequestTimestamp, 0, len(requests))
	intervals := make([]float64, 0, len(requests))
	for i, r := range requests {
		uniquePaths[r.GeneralizedPath] = struct{}{}
		timestamps = append(timestamps, RequestTimestamp{UnixSeconds: float64(r.Timestamp.UnixNano()) / 1e9})
		if i > 0 {
			intervals = append(intervals, r.Timestamp.Sub(requests[i-1].Timestamp).Seconds())
		}
	}

	pathDiversity := 0.0
	if b.RequestCount > 0 {
		pathDiversity = float64(len(uniquePaths)) / float64(b.RequestCount)
	}

	const epsilon = 1e-9
	durationMinutes := b.LastSeen.Sub(b.FirstSeen).Seconds() / 60
	if durationMinutes < epsilon {
		durationMinutes = epsilon
	}

	fv := FeatureVector{
		Signature: b.Signature,

		TimingRegularity:  b.TimingCoefficient,
		RequestRate:       float64(b.RequestCount) / durationMinutes,
		PathDiversity:     pathDiversity,
		PathEntropy:       b.PathEntropy,
		AvgBotProbability: b.AverageBotProbability,

		CountryCode:  b.CountryCode,
		IsDatacenter: b.IsDatacenter,
		ASN:          b.ASN,

		AverageIntervalSec: b.AverageIntervalSec,
		RequestCount:       b.RequestCount,
		FirstSeen:          b.FirstSeen,
		Requests:           timestamps,
	}

	if b.RequestCount >= MinRequestsForSpectral {
		if spectral, ok := ComputeSpectralFeatures(intervals); ok {
			fv.Spectral = spectral
			fv.HasSpectral = true
		}
	}

	return fv
}

var _ FeatureSource = (*BehaviorSource)(nil)
