package telemetry

import (
	"context"
	"time"

	"github.com/subculture-collective/botengine/pkg/metrics"
	"github.com/subculture-collective/botengine/pkg/opensearch"
)

// detectionIndexMapping keeps the fields the dashboard queries typed; the
// evidence blob itself stays schemaless.
const detectionIndexMapping = `{
  "mappings": {
    "properties": {
      "request_id":      {"type": "keyword"},
      "method":          {"type": "keyword"},
      "path":            {"type": "keyword"},
      "signature":       {"type": "keyword"},
      "risk_band":       {"type": "keyword"},
      "bot_probability": {"type": "float"},
      "confidence":      {"type": "float"},
      "is_bot":          {"type": "boolean"},
      "early_exit":      {"type": "boolean"},
      "occurred_at":     {"type": "date"}
    }
  }
}`

// detectionDocument is what gets indexed per detection. Only the
// signature (already an HMAC) identifies the visitor; the raw evidence
// signal map is included minus anything the aggregator already filtered.
type detectionDocument struct {
	RequestID      string         `json:"request_id"`
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Signature      string         `json:"signature,omitempty"`
	RiskBand       string         `json:"risk_band"`
	BotProbability float64        `json:"bot_probability"`
	Confidence     float64        `json:"confidence"`
	IsBot          bool           `json:"is_bot"`
	EarlyExit      bool           `json:"early_exit"`
	Detectors      []string       `json:"detectors,omitempty"`
	Signals        map[string]any `json:"signals,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// OpenSearchSink indexes detection events for dashboard consumption and
// answers historical-reputation pulls from the same index.
type OpenSearchSink struct {
	client       *opensearch.Client
	index        string
	botThreshold float64
}

// NewOpenSearchSink builds an OpenSearchSink over an existing client. It
// best-effort creates the index; a failure there degrades to indexing into
// whatever mapping OpenSearch infers.
func NewOpenSearchSink(ctx context.Context, client *opensearch.Client, index string, botThreshold float64) *OpenSearchSink {
	if index == "" {
		index = "bot-detections"
	}
	if botThreshold <= 0 {
		botThreshold = 0.7
	}
	_ = client.EnsureIndex(ctx, index, detectionIndexMapping)
	return &OpenSearchSink{client: client, index: index, botThreshold: botThreshold}
}

// EmitDetection implements Sink. Write failures are counted and dropped;
// the sink never surfaces them to the detection path.
func (s *OpenSearchSink) EmitDetection(ctx context.Context, evt Event) {
	doc := detectionDocument{
		RequestID:      evt.Evidence.RequestID,
		Method:         evt.Method,
		Path:           evt.Path,
		Signature:      evt.Signature,
		RiskBand:       string(evt.Evidence.RiskBand),
		BotProbability: evt.Evidence.BotProbability,
		Confidence:     evt.Evidence.Confidence,
		IsBot:          evt.Evidence.BotProbability >= s.botThreshold,
		EarlyExit:      evt.Evidence.EarlyExit,
		Detectors:      evt.Evidence.ContributingDetectors,
		Signals:        evt.Evidence.Signals,
		OccurredAt:     evt.OccurredAt,
	}
	if err := s.client.IndexDocument(ctx, s.index, "", doc); err != nil {
		metrics.TelemetrySinkErrorsTotal.WithLabelValues("opensearch").Inc()
	}
}

// searchResponse is the subset of an OpenSearch response the reputation
// pull needs.
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source detectionDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		BotCount struct {
			DocCount int64 `json:"doc_count"`
		} `json:"bot_count"`
		AvgBotProbability struct {
			Value *float64 `json:"value"`
		} `json:"avg_bot_probability"`
		FirstSeen struct {
			Value *float64 `json:"value"`
		} `json:"first_seen"`
		LastSeen struct {
			Value *float64 `json:"value"`
		} `json:"last_seen"`
		RecentHour struct {
			DocCount int64 `json:"doc_count"`
		} `json:"recent_hour"`
	} `json:"aggregations"`
}

// GetHistoricalReputation implements HistoricalReputationProvider over the
// detection index. Callers wrap this in the 5-minute cache.
func (s *OpenSearchSink) GetHistoricalReputation(ctx context.Context, signature string) (HistoricalReputation, bool) {
	if signature == "" {
		return HistoricalReputation{}, false
	}

	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"term": map[string]any{"signature": signature},
		},
		"aggs": map[string]any{
			"bot_count": map[string]any{
				"filter": map[string]any{"term": map[string]any{"is_bot": true}},
			},
			"avg_bot_probability": map[string]any{
				"avg": map[string]any{"field": "bot_probability"},
			},
			"first_seen": map[string]any{
				"min": map[string]any{"field": "occurred_at"},
			},
			"last_seen": map[string]any{
				"max": map[string]any{"field": "occurred_at"},
			},
			"recent_hour": map[string]any{
				"filter": map[string]any{
					"range": map[string]any{"occurred_at": map[string]any{"gte": "now-1h"}},
				},
			},
		},
	}

	var resp searchResponse
	if err := s.client.Search(ctx, s.index, query, &resp); err != nil {
		metrics.TelemetrySinkErrorsTotal.WithLabelValues("opensearch").Inc()
		return HistoricalReputation{}, false
	}

	total := resp.Hits.Total.Value
	if total == 0 {
		return HistoricalReputation{}, false
	}

	rep := HistoricalReputation{
		TotalHitCount:      total,
		BotRatio:           float64(resp.Aggregations.BotCount.DocCount) / float64(total),
		RecentHourHitCount: resp.Aggregations.RecentHour.DocCount,
	}
	if v := resp.Aggregations.AvgBotProbability.Value; v != nil {
		rep.AvgBotProbability = *v
	}
	if v := resp.Aggregations.FirstSeen.Value; v != nil {
		rep.FirstSeen = time.UnixMilli(int64(*v)).UTC()
	}
	if v := resp.Aggregations.LastSeen.Value; v != nil {
		rep.LastSeen = time.UnixMilli(int64(*v)).UTC()
	}
	if !rep.FirstSeen.IsZero() && !rep.LastSeen.IsZero() {
		rep.DaysActive = int(rep.LastSeen.Sub(rep.FirstSeen).Hours()/24) + 1
	}
	return rep, true
}

var (
	_ Sink                         = (*OpenSearchSink)(nil)
	_ HistoricalReputationProvider = (*OpenSearchSink)(nil)
)
