// botengine-bench replays a JSONL file of recorded requests through the
// in-process detection pipeline and prints risk-band and cluster
// summaries. No network listener, no durable stores: the whole engine
// runs against in-memory collaborators.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/subculture-collective/botengine/internal/cluster"
	"github.com/subculture-collective/botengine/internal/detector"
	"github.com/subculture-collective/botengine/internal/domain"
	"github.com/subculture-collective/botengine/internal/learning"
	"github.com/subculture-collective/botengine/internal/orchestrator"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/reputation"
	"github.com/subculture-collective/botengine/internal/signature"
	"github.com/subculture-collective/botengine/internal/store"
)

// recordedRequest is one line of the replay file.
type recordedRequest struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       string            `json:"query"`
	Headers     map[string]string `json:"headers"`
	ClientIP    string            `json:"client_ip"`
	UserAgent   string            `json:"user_agent"`
	CountryCode string            `json:"country_code"`
	CountryName string            `json:"country_name"`
	ASN         string            `json:"asn"`
}

func main() {
	inputPath := flag.String("input", "", "path to a JSONL file of recorded requests")
	runCluster := flag.Bool("cluster", true, "run one clustering pass after the replay")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("usage: botengine-bench -input requests.jsonl")
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer f.Close()

	secret, err := signature.NewSecret()
	if err != nil {
		log.Fatalf("failed to build secret: %v", err)
	}

	coordinator := signature.NewCoordinator(secret, time.Hour)
	tracker := reputation.NewTracker(0, 0)
	weights := store.NewMemoryWeightStore()
	patterns := store.NewMemoryLearnedPatternStore()
	feedback := learning.New(learning.DefaultConfig(), weights, patterns, log.Printf)
	policies := policy.NewRegistry()

	detectors := []detector.Detector{
		detector.NewHeuristicDetector(1.0),
		detector.NewIPDetector(0.8),
		detector.NewSecurityToolDetector(1.2),
		detector.NewHoneypotDetector(1.5, false),
		detector.NewBehavioralDetector(1.0, secret, coordinator, 5),
	}

	orch := orchestrator.New(
		orchestrator.DefaultConfig(),
		detectors,
		policies,
		learning.LearnedWeightAdapter{Store: weights},
		secret,
		coordinator,
		tracker,
		nil, // clustering is driven synchronously below, not via notify
		nil,
		func(ctx context.Context, sig string, wasBot bool, confidence float64, at time.Time) {
			feedback.Record(ctx, learning.Outcome{SignatureType: "primary", SignatureValue: sig, WasBot: wasBot, Confidence: confidence, OccurredAt: at})
		},
		log.Printf,
	)

	bandCounts := make(map[domain.RiskBand]int)
	total := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec recordedRequest
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Printf("skipping malformed line: %v", err)
			continue
		}

		headers := make([][2]string, 0, len(rec.Headers))
		for k, v := range rec.Headers {
			headers = append(headers, [2]string{k, v})
		}

		evidence := orch.Detect(context.Background(), orchestrator.Request{
			RequestID:   uuid.NewString(),
			Method:      rec.Method,
			Path:        rec.Path,
			Query:       rec.Query,
			Headers:     headers,
			ClientIP:    rec.ClientIP,
			UserAgent:   rec.UserAgent,
			CountryCode: rec.CountryCode,
			CountryName: rec.CountryName,
			ASN:         rec.ASN,
		})
		bandCounts[evidence.RiskBand]++
		total++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed reading input: %v", err)
	}

	// Finalize notifications are fire-and-forget goroutines; give them a
	// beat to land before snapshotting temporal state.
	time.Sleep(200 * time.Millisecond)

	fmt.Printf("replayed %d requests\n\n", total)
	fmt.Println("risk bands:")
	for _, band := range []domain.RiskBand{domain.RiskVeryLow, domain.RiskLow, domain.RiskElevated, domain.RiskMedium, domain.RiskHigh, domain.RiskVeryHigh} {
		fmt.Printf("  %-10s %d\n", band, bandCounts[band])
	}

	if top := tracker.GetTopBotCountries(5); len(top) > 0 {
		fmt.Println("\ntop bot countries:")
		for _, e := range top {
			fmt.Printf("  %-4s rate=%.2f samples=%d\n", e.CountryCode, e.BotRate(1), e.RawTotalCount)
		}
	}

	if *runCluster {
		source := cluster.NewBehaviorSource(coordinator)
		snapshot := cluster.Cluster(source.CurrentFeatureVectors(), cluster.DefaultConfig())

		fmt.Printf("\nclusters discovered: %d\n", len(snapshot.Clusters))
		clusters := snapshot.Clusters
		sort.Slice(clusters, func(i, j int) bool { return len(clusters[i].Members) > len(clusters[j].Members) })
		for _, cl := range clusters {
			fmt.Printf("  %s type=%s label=%s members=%d avg_sim=%.2f density=%.2f\n",
				cl.ClusterID, cl.Type, cl.Label, len(cl.Members), cl.AverageSimilarity, cl.TemporalDensity)
		}
	}
}
