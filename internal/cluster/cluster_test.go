package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identicalVector(sig string) FeatureVector {
	return FeatureVector{
		Signature:         sig,
		TimingRegularity:  0.05,
		RequestRate:       10,
		PathDiversity:     0.2,
		PathEntropy:       0.5,
		AvgBotProbability: 0.9,
		CountryCode:       "US",
		IsDatacenter:      true,
		ASN:               "AS15169",
		Spectral: SpectralFeatures{
			DominantFrequency: 0.25,
			SpectralEntropy:   0.3,
			HarmonicRatio:     0.5,
			SpectralCentroid:  4.0,
			PeakToAvgRatio:    8.0,
		},
		HasSpectral:        true,
		AverageIntervalSec: 0.5,
		RequestCount:       20,
	}
}

func TestSimilarityIdenticalVectorsIsExactlyOne(t *testing.T) {
	a := identicalVector("a")
	b := identicalVector("b")
	assert.Equal(t, 1.0, Similarity(a, b))
}

func TestSimilaritySymmetric(t *testing.T) {
	a := identicalVector("a")
	b := identicalVector("b")
	b.RequestRate = 3
	b.CountryCode = "DE"
	b.Spectral.SpectralEntropy = 0.8

	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestSimilarityCategoricalRules(t *testing.T) {
	a := identicalVector("a")
	b := identicalVector("b")

	// Both-null country counts as equal.
	a.CountryCode, b.CountryCode = "", ""
	assert.Equal(t, 1.0, Similarity(a, b))

	// Both-null ASN is NOT positive evidence.
	a.ASN, b.ASN = "", ""
	assert.InDelta(t, 1.0-weightASN, Similarity(a, b), 1e-12)

	// Differing datacenter flag loses its weight too.
	b.IsDatacenter = false
	assert.InDelta(t, 1.0-weightASN-weightDatacenter, Similarity(a, b), 1e-12)
}

func TestSimilaritySpectralNeutralWhenInsufficient(t *testing.T) {
	a := identicalVector("a")
	b := identicalVector("b")
	b.HasSpectral = false

	// One side missing spectral data: that component contributes 0.5.
	want := weightNumeric + weightCountry + weightASN + weightDatacenter + weightSpectral*0.5
	assert.InDelta(t, want, Similarity(a, b), 1e-12)
}

func TestClusterIDPureFunctionOfSortedMembers(t *testing.T) {
	id1 := clusterID([]string{"sig-c", "sig-a", "sig-b"})
	id2 := clusterID([]string{"sig-b", "sig-c", "sig-a"})
	id3 := clusterID([]string{"sig-a", "sig-b"})

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Regexp(t, `^cluster-[0-9a-f]{16}$`, id1)
}

func TestSpectralFeaturesRequireEnoughData(t *testing.T) {
	_, ok := ComputeSpectralFeatures([]float64{1, 1, 1})
	assert.False(t, ok)

	intervals := make([]float64, MinRequestsForSpectral-1)
	for i := range intervals {
		intervals[i] = 0.5
	}
	features, ok := ComputeSpectralFeatures(intervals)
	require.True(t, ok)

	// A constant interval sequence concentrates power at DC.
	assert.Equal(t, 0.0, features.DominantFrequency)
	assert.Greater(t, features.PeakToAvgRatio, 1.0)
}

func TestSpectralFeaturesPeriodicSignal(t *testing.T) {
	// Alternating short/long intervals put energy off DC.
	intervals := make([]float64, 16)
	for i := range intervals {
		if i%2 == 0 {
			intervals[i] = 0.2
		} else {
			intervals[i] = 1.8
		}
	}
	features, ok := ComputeSpectralFeatures(intervals)
	require.True(t, ok)
	assert.GreaterOrEqual(t, features.SpectralEntropy, 0.0)
	assert.LessOrEqual(t, features.SpectralEntropy, 1.0)
}

func TestSpectralDistanceZeroForEqual(t *testing.T) {
	f := SpectralFeatures{DominantFrequency: 0.1, SpectralEntropy: 0.4, HarmonicRatio: 0.2, SpectralCentroid: 3, PeakToAvgRatio: 6}
	assert.Equal(t, 0.0, SpectralDistance(f, f))
}

func TestLabelPropagationSingleComponent(t *testing.T) {
	nodes := []string{"a", "b", "c", "d"}
	adjacency := map[string]map[string]struct{}{}
	for _, n := range nodes {
		adjacency[n] = map[string]struct{}{}
	}
	link := func(x, y string) {
		adjacency[x][y] = struct{}{}
		adjacency[y][x] = struct{}{}
	}
	link("a", "b")
	link("b", "c")
	link("c", "d")

	labels := propagateLabels(nodes, adjacency, 10)
	components := componentsFromLabels(labels)
	require.Len(t, components, 1)
	assert.ElementsMatch(t, nodes, components[0])
}

func TestLabelPropagationDisconnectedNodesStaySeparate(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	adjacency := map[string]map[string]struct{}{
		"a": {"b": {}},
		"b": {"a": {}},
		"c": {},
	}

	labels := propagateLabels(nodes, adjacency, 10)
	components := componentsFromLabels(labels)
	assert.Len(t, components, 2)
}

func TestClusterScenarioIdenticalFleet(t *testing.T) {
	// Thirty signatures with identical behavioral fingerprints must
	// collapse into exactly one cluster of the same-software kind.
	vectors := make([]FeatureVector, 0, 30)
	base := time.Now()
	for i := 0; i < 30; i++ {
		v := identicalVector(fmt.Sprintf("sig-%02d", i))
		for j := 0; j < 5; j++ {
			v.Requests = append(v.Requests, RequestTimestamp{UnixSeconds: float64(base.Unix()) + float64(j)})
		}
		vectors = append(vectors, v)
	}

	snapshot := Cluster(vectors, DefaultConfig())

	require.Len(t, snapshot.Clusters, 1)
	cluster := snapshot.Clusters[0]
	assert.Len(t, cluster.Members, 30)
	assert.Equal(t, TypeBotProduct, cluster.Type)
	assert.Equal(t, "Rapid-Scraper", cluster.Label)
	assert.Equal(t, 1.0, cluster.AverageSimilarity)
	assert.Equal(t, "US", cluster.DominantCountry)
	assert.Equal(t, "AS15169", cluster.DominantASN)
}

func TestClusterFiltersLowBotProbability(t *testing.T) {
	vectors := []FeatureVector{identicalVector("a"), identicalVector("b"), identicalVector("c")}
	for i := range vectors {
		vectors[i].AvgBotProbability = 0.1
	}

	snapshot := Cluster(vectors, DefaultConfig())
	assert.Empty(t, snapshot.Clusters)
}

func TestClusterDiscardsBelowMinSize(t *testing.T) {
	snapshot := Cluster([]FeatureVector{identicalVector("a"), identicalVector("b")}, DefaultConfig())
	assert.Empty(t, snapshot.Clusters)
}

func TestLabelRules(t *testing.T) {
	mkVectors := func(interval, entropy float64) map[string]FeatureVector {
		out := make(map[string]FeatureVector)
		for _, sig := range []string{"a", "b", "c"} {
			v := identicalVector(sig)
			v.AverageIntervalSec = interval
			v.PathEntropy = entropy
			out[sig] = v
		}
		return out
	}
	members := []string{"a", "b", "c"}

	tests := []struct {
		name     string
		typ      Type
		interval float64
		entropy  float64
		density  float64
		want     string
	}{
		{name: "rapid scraper", typ: TypeBotProduct, interval: 0.5, entropy: 2.0, want: "Rapid-Scraper"},
		{name: "deep crawler", typ: TypeBotProduct, interval: 5, entropy: 3.5, want: "Deep-Crawler"},
		{name: "targeted scanner", typ: TypeBotProduct, interval: 5, entropy: 0.5, want: "Targeted-Scanner"},
		{name: "generic bot software", typ: TypeBotProduct, interval: 5, entropy: 2.0, want: "Bot-Software"},
		{name: "equality falls to default", typ: TypeBotProduct, interval: 2, entropy: 3.0, want: "Bot-Software"},
		{name: "burst campaign", typ: TypeBotNetwork, interval: 5, entropy: 2.0, density: 0.9, want: "Burst-Campaign"},
		{name: "coordinated campaign", typ: TypeBotNetwork, interval: 5, entropy: 2.0, density: 0.5, want: "Coordinated-Campaign"},
		{name: "unknown", typ: TypeUnknown, want: "Unknown-Cluster"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labelFor(tt.typ, members, mkVectors(tt.interval, tt.entropy), tt.density)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLabelLargeBotnet(t *testing.T) {
	members := make([]string, 12)
	byName := make(map[string]FeatureVector, 12)
	for i := range members {
		sig := fmt.Sprintf("sig-%02d", i)
		members[i] = sig
		byName[sig] = identicalVector(sig)
	}
	assert.Equal(t, "Large-Botnet", labelFor(TypeBotNetwork, members, byName, 0.7))
}

func TestServiceSnapshotLifecycle(t *testing.T) {
	source := staticSource{vectors: []FeatureVector{identicalVector("a"), identicalVector("b"), identicalVector("c")}}
	svc := NewService(DefaultConfig(), source)

	// Before the first run, queries return empty.
	assert.Empty(t, svc.GetClusters())
	_, ok := svc.FindCluster("a")
	assert.False(t, ok)
	_, ok = svc.GetSpectralFeatures("a")
	assert.False(t, ok)

	svc.runOnce()

	require.Len(t, svc.GetClusters(), 1)
	found, ok := svc.FindCluster("a")
	require.True(t, ok)
	assert.Contains(t, found.Members, "a")

	_, ok = svc.GetSpectralFeatures("b")
	assert.True(t, ok)
}

func TestNotifyBotDetectedBelowThresholdDoesNotTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBotDetectionsToTrigger = 5
	svc := NewService(cfg, staticSource{})

	for i := 0; i < 4; i++ {
		svc.NotifyBotDetected()
	}
	select {
	case <-svc.trigger:
		t.Fatal("trigger fired below threshold")
	default:
	}
}

func TestNotifyBotDetectedOverflowSilentlyDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBotDetectionsToTrigger = 1
	svc := NewService(cfg, staticSource{})

	// Far more notifications than the 1-slot semaphore holds: must not
	// block, and exactly one trigger is pending.
	for i := 0; i < 100; i++ {
		svc.NotifyBotDetected()
	}

	select {
	case <-svc.trigger:
	default:
		t.Fatal("expected one pending trigger")
	}
	select {
	case <-svc.trigger:
		t.Fatal("semaphore held more than one trigger")
	default:
	}
}

type staticSource struct {
	vectors []FeatureVector
}

func (s staticSource) CurrentFeatureVectors() []FeatureVector {
	return s.vectors
}

type recordingMerger struct {
	behavioral [][2]string
	timing     [][2]string
}

func (m *recordingMerger) MergeBehavioralSimilarity(_ time.Time, a, b string, _ float64) {
	m.behavioral = append(m.behavioral, [2]string{a, b})
}

func (m *recordingMerger) MergeTimingCorrelation(_ time.Time, a, b string, _ float64, _ time.Duration) {
	m.timing = append(m.timing, [2]string{a, b})
}

func TestServiceAppliesFamilyRules(t *testing.T) {
	a := identicalVector("fam-a")
	b := identicalVector("fam-b")
	base := time.Now()
	a.FirstSeen = base
	b.FirstSeen = base.Add(10 * time.Minute)

	// A third vector with too little history must not participate in the
	// behavioral rule.
	c := identicalVector("fam-c")
	c.RequestCount = 2
	c.HasSpectral = false
	c.FirstSeen = base

	merger := &recordingMerger{}
	svc := NewService(DefaultConfig(), staticSource{vectors: []FeatureVector{a, b, c}}).WithFamilyMerger(merger)
	svc.runOnce()

	assert.Contains(t, merger.behavioral, [2]string{"fam-a", "fam-b"})
	assert.Contains(t, merger.timing, [2]string{"fam-a", "fam-b"})
	for _, pair := range merger.behavioral {
		assert.NotContains(t, pair, "fam-c")
	}
	for _, pair := range merger.timing {
		assert.NotContains(t, pair, "fam-c")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := identicalVector("a")
	b := identicalVector("b")
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-12)

	zero := FeatureVector{}
	assert.Equal(t, 0.0, CosineSimilarity(a, zero))
}
