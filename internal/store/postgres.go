package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/subculture-collective/botengine/pkg/database"
)

// Schema creates the tables the Postgres-backed stores expect. Feature
// vectors use pgvector so similarity probes can be pushed into SQL.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS bot_detections (
    id              BIGSERIAL PRIMARY KEY,
    request_id      TEXT NOT NULL,
    method          TEXT NOT NULL,
    path            TEXT NOT NULL,
    bot_probability DOUBLE PRECISION NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    risk_band       TEXT NOT NULL,
    is_bot          BOOLEAN NOT NULL,
    policy_action   TEXT,
    evidence        JSONB NOT NULL,
    occurred_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bot_detections_occurred_at ON bot_detections (occurred_at);
CREATE INDEX IF NOT EXISTS idx_bot_detections_risk_band ON bot_detections (risk_band);

CREATE TABLE IF NOT EXISTS bot_signatures (
    signature  TEXT PRIMARY KEY,
    hit_count  BIGINT NOT NULL DEFAULT 0,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
    id           TEXT PRIMARY KEY,
    pattern_type TEXT NOT NULL,
    signature    TEXT NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL,
    fed_back     BOOLEAN NOT NULL DEFAULT false,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_learned_patterns_type ON learned_patterns (pattern_type);

CREATE TABLE IF NOT EXISTS detector_weights (
    signature_type    TEXT NOT NULL,
    signature_value   TEXT NOT NULL,
    weight            DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
    observation_count BIGINT NOT NULL DEFAULT 0,
    bot_count         BIGINT NOT NULL DEFAULT 0,
    human_count       BIGINT NOT NULL DEFAULT 0,
    first_seen        TIMESTAMPTZ NOT NULL,
    last_seen         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (signature_type, signature_value)
);

CREATE TABLE IF NOT EXISTS signature_feature_vectors (
    signature  TEXT PRIMARY KEY,
    features   vector(10) NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements EventStore, LearnedPatternStore and WeightStore
// over one connection pool.
type PostgresStore struct {
	db           *database.DB
	botThreshold float64
}

// NewPostgresStore builds a PostgresStore. botThreshold is the operator
// bot threshold used to derive is_bot columns at write time.
func NewPostgresStore(db *database.DB, botThreshold float64) *PostgresStore {
	if botThreshold <= 0 {
		botThreshold = 0.7
	}
	return &PostgresStore{db: db, botThreshold: botThreshold}
}

// EnsureSchema creates the expected tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// AddDetection implements EventStore.
func (s *PostgresStore) AddDetection(ctx context.Context, rec DetectionRecord) error {
	evidenceJSON, err := json.Marshal(rec.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	var action *string
	if rec.Evidence.PolicyAction != nil {
		a := string(*rec.Evidence.PolicyAction)
		action = &a
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO bot_detections (request_id, method, path, bot_probability, confidence, risk_band, is_bot, policy_action, evidence, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.RequestID, rec.Method, rec.Path,
		rec.Evidence.BotProbability, rec.Evidence.Confidence, string(rec.Evidence.RiskBand),
		rec.Evidence.BotProbability >= s.botThreshold, action, evidenceJSON, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// UpsertSignature implements EventStore.
func (s *PostgresStore) UpsertSignature(ctx context.Context, signature string, occurredAt time.Time) (int64, error) {
	var hitCount int64
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO bot_signatures (signature, hit_count, first_seen, last_seen)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (signature) DO UPDATE
		SET hit_count = bot_signatures.hit_count + 1, last_seen = EXCLUDED.last_seen
		RETURNING hit_count`,
		signature, occurredAt,
	).Scan(&hitCount)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert signature: %w", err)
	}
	return hitCount, nil
}

// QueryDetections implements EventStore.
func (s *PostgresStore) QueryDetections(ctx context.Context, filter DetectionFilter) ([]DetectionRecord, error) {
	query := `SELECT request_id, method, path, evidence, occurred_at FROM bot_detections WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if !filter.Start.IsZero() {
		query += ` AND occurred_at >= ` + arg(filter.Start)
	}
	if !filter.End.IsZero() {
		query += ` AND occurred_at <= ` + arg(filter.End)
	}
	if len(filter.RiskBands) > 0 {
		bands := make([]string, 0, len(filter.RiskBands))
		for _, b := range filter.RiskBands {
			bands = append(bands, string(b))
		}
		query += ` AND risk_band = ANY(` + arg(bands) + `)`
	}
	if filter.IsBot != nil {
		query += ` AND is_bot = ` + arg(*filter.IsBot)
	}
	if filter.PathSubstring != "" {
		query += ` AND path LIKE ` + arg("%"+filter.PathSubstring+"%")
	}
	query += ` ORDER BY occurred_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []DetectionRecord
	for rows.Next() {
		var rec DetectionRecord
		var evidenceJSON []byte
		if err := rows.Scan(&rec.RequestID, &rec.Method, &rec.Path, &evidenceJSON, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		if err := json.Unmarshal(evidenceJSON, &rec.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TimeSeries implements EventStore using epoch-bucket grouping so the
// bucket width is a parameter rather than a date_trunc granularity.
func (s *PostgresStore) TimeSeries(ctx context.Context, start, end time.Time, bucket time.Duration) ([]TimeBucket, error) {
	if bucket <= 0 {
		bucket = time.Hour
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM occurred_at) / $3) * $3) AS bucket_start,
		       count(*) AS total_count,
		       count(*) FILTER (WHERE is_bot) AS bot_count
		FROM bot_detections
		WHERE occurred_at >= $1 AND occurred_at <= $2
		GROUP BY bucket_start
		ORDER BY bucket_start`,
		start, end, bucket.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query time series: %w", err)
	}
	defer rows.Close()

	var out []TimeBucket
	for rows.Next() {
		var tb TimeBucket
		if err := rows.Scan(&tb.Start, &tb.TotalCount, &tb.BotCount); err != nil {
			return nil, fmt.Errorf("failed to scan time bucket: %w", err)
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

// Summary implements EventStore.
func (s *PostgresStore) Summary(ctx context.Context) (Summary24h, error) {
	var sum Summary24h
	err := s.db.Pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_bot),
		       count(*) FILTER (WHERE policy_action = 'block')
		FROM bot_detections
		WHERE occurred_at >= now() - interval '24 hours'`,
	).Scan(&sum.TotalRequests, &sum.BotRequests, &sum.BlockedCount)
	if err != nil {
		return Summary24h{}, fmt.Errorf("failed to query summary: %w", err)
	}
	return sum, nil
}

// Upsert implements LearnedPatternStore.
func (s *PostgresStore) Upsert(ctx context.Context, p LearnedPattern) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO learned_patterns (id, pattern_type, signature, confidence, fed_back, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET confidence = EXCLUDED.confidence, fed_back = EXCLUDED.fed_back, updated_at = now()`,
		p.ID, p.PatternType, p.Signature, p.Confidence, p.FedBack,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert learned pattern: %w", err)
	}
	return nil
}

// GetByType implements LearnedPatternStore.
func (s *PostgresStore) GetByType(ctx context.Context, patternType string) ([]LearnedPattern, error) {
	return s.queryPatterns(ctx, `SELECT id, pattern_type, signature, confidence, fed_back, created_at, updated_at FROM learned_patterns WHERE pattern_type = $1 ORDER BY id`, patternType)
}

// GetByConfidence implements LearnedPatternStore.
func (s *PostgresStore) GetByConfidence(ctx context.Context, minConfidence float64) ([]LearnedPattern, error) {
	return s.queryPatterns(ctx, `SELECT id, pattern_type, signature, confidence, fed_back, created_at, updated_at FROM learned_patterns WHERE confidence >= $1 ORDER BY id`, minConfidence)
}

func (s *PostgresStore) queryPatterns(ctx context.Context, query string, arg any) ([]LearnedPattern, error) {
	rows, err := s.db.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned patterns: %w", err)
	}
	defer rows.Close()

	var out []LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		if err := rows.Scan(&p.ID, &p.PatternType, &p.Signature, &p.Confidence, &p.FedBack, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learned pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get implements LearnedPatternStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (LearnedPattern, bool, error) {
	var p LearnedPattern
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, pattern_type, signature, confidence, fed_back, created_at, updated_at FROM learned_patterns WHERE id = $1`, id,
	).Scan(&p.ID, &p.PatternType, &p.Signature, &p.Confidence, &p.FedBack, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LearnedPattern{}, false, nil
		}
		return LearnedPattern{}, false, fmt.Errorf("failed to get learned pattern: %w", err)
	}
	return p, true, nil
}

// Delete implements LearnedPatternStore.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM learned_patterns WHERE id = $1`, id)
	return err
}

// MarkFedBack implements LearnedPatternStore.
func (s *PostgresStore) MarkFedBack(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE learned_patterns SET fed_back = true, updated_at = now() WHERE id = $1`, id)
	return err
}

// CleanupOlderThan implements LearnedPatternStore.
func (s *PostgresStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM learned_patterns WHERE updated_at < now() - $1::interval`, fmt.Sprintf("%f seconds", age.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup learned patterns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements LearnedPatternStore.
func (s *PostgresStore) Stats(ctx context.Context) (LearnedPatternStats, error) {
	var stats LearnedPatternStats
	err := s.db.Pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE confidence > 0),
		       count(*) FILTER (WHERE fed_back)
		FROM learned_patterns`,
	).Scan(&stats.TotalPatterns, &stats.ActivePatterns, &stats.FedBackCount)
	if err != nil {
		return LearnedPatternStats{}, fmt.Errorf("failed to query pattern stats: %w", err)
	}
	return stats, nil
}

// GetWeight implements WeightStore.
func (s *PostgresStore) GetWeight(ctx context.Context, sigType, sigValue string) (WeightRecord, bool, error) {
	var rec WeightRecord
	err := s.db.Pool.QueryRow(ctx, `
		SELECT signature_type, signature_value, weight, confidence, observation_count, bot_count, human_count, first_seen, last_seen
		FROM detector_weights WHERE signature_type = $1 AND signature_value = $2`,
		sigType, sigValue,
	).Scan(&rec.SignatureType, &rec.SignatureValue, &rec.Weight, &rec.Confidence, &rec.ObservationCount, &rec.BotCount, &rec.HumanCount, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WeightRecord{}, false, nil
		}
		return WeightRecord{}, false, fmt.Errorf("failed to get weight: %w", err)
	}
	return rec, true, nil
}

// GetWeights implements WeightStore.
func (s *PostgresStore) GetWeights(ctx context.Context, sigType string, sigValues []string) (map[string]WeightRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT signature_type, signature_value, weight, confidence, observation_count, bot_count, human_count, first_seen, last_seen
		FROM detector_weights WHERE signature_type = $1 AND signature_value = ANY($2)`,
		sigType, sigValues,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]WeightRecord)
	for rows.Next() {
		var rec WeightRecord
		if err := rows.Scan(&rec.SignatureType, &rec.SignatureValue, &rec.Weight, &rec.Confidence, &rec.ObservationCount, &rec.BotCount, &rec.HumanCount, &rec.FirstSeen, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		out[rec.SignatureValue] = rec
	}
	return out, rows.Err()
}

// UpdateWeight implements WeightStore.
func (s *PostgresStore) UpdateWeight(ctx context.Context, rec WeightRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE detector_weights SET weight = $3, confidence = $4
		WHERE signature_type = $1 AND signature_value = $2`,
		rec.SignatureType, rec.SignatureValue, rec.Weight, rec.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to update weight: %w", err)
	}
	return nil
}

// RecordObservation implements WeightStore.
func (s *PostgresStore) RecordObservation(ctx context.Context, sigType, sigValue string, wasBot bool, detectionConfidence float64) error {
	botInc := 0
	humanInc := 0
	if wasBot {
		botInc = 1
	} else {
		humanInc = 1
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO detector_weights (signature_type, signature_value, observation_count, bot_count, human_count, first_seen, last_seen)
		VALUES ($1, $2, 1, $3, $4, now(), now())
		ON CONFLICT (signature_type, signature_value) DO UPDATE
		SET observation_count = detector_weights.observation_count + 1,
		    bot_count = detector_weights.bot_count + $3,
		    human_count = detector_weights.human_count + $4,
		    last_seen = now()`,
		sigType, sigValue, botInc, humanInc,
	)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// GetAll implements WeightStore.
func (s *PostgresStore) GetAll(ctx context.Context, sigType string) ([]WeightRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT signature_type, signature_value, weight, confidence, observation_count, bot_count, human_count, first_seen, last_seen
		FROM detector_weights WHERE signature_type = $1 ORDER BY signature_value`,
		sigType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get all weights: %w", err)
	}
	defer rows.Close()

	var out []WeightRecord
	for rows.Next() {
		var rec WeightRecord
		if err := rows.Scan(&rec.SignatureType, &rec.SignatureValue, &rec.Weight, &rec.Confidence, &rec.ObservationCount, &rec.BotCount, &rec.HumanCount, &rec.FirstSeen, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DecayOld implements WeightStore.
func (s *PostgresStore) DecayOld(ctx context.Context, maxAge time.Duration, factor float64) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE detector_weights
		SET bot_count = floor(bot_count * $2),
		    human_count = floor(human_count * $2),
		    observation_count = floor(bot_count * $2) + floor(human_count * $2)
		WHERE last_seen < now() - $1::interval`,
		fmt.Sprintf("%f seconds", maxAge.Seconds()), factor,
	)
	if err != nil {
		return fmt.Errorf("failed to decay old weights: %w", err)
	}
	return nil
}

// SaveFeatureVector persists the similarity-relevant numeric dimensions of
// one signature's feature vector (5 numeric + 5 spectral) as a pgvector
// column, so coordinated-signature probes can run as SQL `<->` queries.
func (s *PostgresStore) SaveFeatureVector(ctx context.Context, signature string, features []float32) error {
	if len(features) != 10 {
		return fmt.Errorf("feature vector must have 10 dimensions, got %d", len(features))
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO signature_feature_vectors (signature, features, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (signature) DO UPDATE SET features = EXCLUDED.features, updated_at = now()`,
		signature, pgvector.NewVector(features),
	)
	if err != nil {
		return fmt.Errorf("failed to save feature vector: %w", err)
	}
	return nil
}

// NearestFeatureVectors returns up to limit signatures ordered by L2
// distance from the given feature vector.
func (s *PostgresStore) NearestFeatureVectors(ctx context.Context, features []float32, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT signature FROM signature_feature_vectors
		ORDER BY features <-> $1 LIMIT $2`,
		pgvector.NewVector(features), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest feature vectors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// compile-time interface checks
var (
	_ EventStore          = (*PostgresStore)(nil)
	_ LearnedPatternStore = (*PostgresStore)(nil)
	_ WeightStore         = (*PostgresStore)(nil)

	_ EventStore          = (*MemoryEventStore)(nil)
	_ LearnedPatternStore = (*MemoryLearnedPatternStore)(nil)
	_ WeightStore         = (*MemoryWeightStore)(nil)
)
