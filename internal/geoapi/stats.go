package geoapi

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AreaStats is one area-level summary row.
type AreaStats struct {
	AreaID          string  `json:"area_id"`
	BusinessCount   int     `json:"business_count"`
	ReviewCount     int     `json:"review_count"`
	AvgRating       float64 `json:"avg_rating"`
	UniqueReviewers int     `json:"unique_reviewers"`
}

// CategoryStats is one category performance row.
type CategoryStats struct {
	Category      string  `json:"category"`
	BusinessCount int     `json:"business_count"`
	AvgRating     float64 `json:"avg_rating"`
	Cities        int     `json:"cities"`
	MinRating     float64 `json:"min_rating"`
	MaxRating     float64 `json:"max_rating"`
}

// CompetitionMetrics is one competition bracket row.
type CompetitionMetrics struct {
	Range      string  `json:"range"`
	Count      int     `json:"count"`
	AvgRating  float64 `json:"avg_rating"`
	Percentage float64 `json:"percentage"`
}

// ReviewStats is one per-city review summary row.
type ReviewStats struct {
	City            string  `json:"city"`
	ReviewCount     int     `json:"review_count"`
	AvgRating       float64 `json:"avg_rating"`
	UniqueReviewers int     `json:"unique_reviewers"`
	AvgReviewLength float64 `json:"avg_review_length"`
	PositiveReviews int     `json:"positive_reviews"`
	NegativeReviews int     `json:"negative_reviews"`
}

// PingDB reports database reachability for the health endpoint.
func (s *Store) PingDB(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "geoapi: ping database")
	}
	return nil
}

const areaStatsSQL = `
	SELECT area_id, business_count, review_count, avg_rating, unique_reviewers
	FROM area_stats`

// AreaStats returns area-level summaries, optionally restricted to one area.
func (s *Store) AreaStats(ctx context.Context, areaID string) ([]AreaStats, error) {
	sql := areaStatsSQL
	var args []any
	if areaID != "" {
		sql += " WHERE area_id = $1"
		args = append(args, areaID)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query area stats")
	}
	defer rows.Close()

	stats := []AreaStats{}
	for rows.Next() {
		var (
			id        string
			count     int
			reviews   int
			rating    *float64
			reviewers int
		)
		if err := rows.Scan(&id, &count, &reviews, &rating, &reviewers); err != nil {
			s.log.Warn("skipping unreadable area stats row", zap.Error(err))
			continue
		}
		stats = append(stats, AreaStats{
			AreaID:          id,
			BusinessCount:   count,
			ReviewCount:     reviews,
			AvgRating:       deref(rating),
			UniqueReviewers: reviewers,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate area stats")
	}
	return stats, nil
}

const categoryStatsSQL = `
	SELECT category, usage_count, avg_rating, cities, min_rating, max_rating
	FROM mv_category_standardization
	WHERE usage_count >= $1`

// CategoryStats returns per-category performance, optionally matching a
// category substring.
func (s *Store) CategoryStats(ctx context.Context, category string, minCount int) ([]CategoryStats, error) {
	sql := categoryStatsSQL
	args := []any{minCount}
	if category != "" {
		sql += " AND category ILIKE $2"
		args = append(args, "%"+category+"%")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query category stats")
	}
	defer rows.Close()

	stats := []CategoryStats{}
	for rows.Next() {
		var (
			name   string
			count  int
			rating *float64
			cities int
			lo, hi *float64
		)
		if err := rows.Scan(&name, &count, &rating, &cities, &lo, &hi); err != nil {
			s.log.Warn("skipping unreadable category stats row", zap.Error(err))
			continue
		}
		stats = append(stats, CategoryStats{
			Category:      name,
			BusinessCount: count,
			AvgRating:     deref(rating),
			Cities:        cities,
			MinRating:     deref(lo),
			MaxRating:     deref(hi),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate category stats")
	}
	return stats, nil
}

const competitionSQL = `
	SELECT range, count, avg_rating, percentage
	FROM competition_overview
	ORDER BY range`

// CompetitionMetrics returns the competition brackets in range order.
func (s *Store) CompetitionMetrics(ctx context.Context) ([]CompetitionMetrics, error) {
	rows, err := s.pool.Query(ctx, competitionSQL)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query competition metrics")
	}
	defer rows.Close()

	stats := []CompetitionMetrics{}
	for rows.Next() {
		var (
			bracket  string
			count    int
			rating   *float64
			fraction *float64
		)
		if err := rows.Scan(&bracket, &count, &rating, &fraction); err != nil {
			s.log.Warn("skipping unreadable competition row", zap.Error(err))
			continue
		}
		stats = append(stats, CompetitionMetrics{
			Range:      bracket,
			Count:      count,
			AvgRating:  deref(rating),
			Percentage: deref(fraction),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate competition metrics")
	}
	return stats, nil
}

const reviewStatsSQL = `
	SELECT city, review_count, avg_rating, unique_reviewers, avg_review_length, positive_reviews, negative_reviews
	FROM mv_tampa_review_stats
	WHERE review_count >= $1`

// ReviewStats returns per-city review summaries, optionally for one city.
func (s *Store) ReviewStats(ctx context.Context, city string, minReviews int) ([]ReviewStats, error) {
	sql := reviewStatsSQL
	args := []any{minReviews}
	if city != "" {
		sql += " AND city = $2"
		args = append(args, city)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query review stats")
	}
	defer rows.Close()

	stats := []ReviewStats{}
	for rows.Next() {
		var (
			name      string
			count     int
			rating    *float64
			reviewers int
			length    *float64
			positive  int
			negative  int
		)
		if err := rows.Scan(&name, &count, &rating, &reviewers, &length, &positive, &negative); err != nil {
			s.log.Warn("skipping unreadable review stats row", zap.Error(err))
			continue
		}
		stats = append(stats, ReviewStats{
			City:            name,
			ReviewCount:     count,
			AvgRating:       deref(rating),
			UniqueReviewers: reviewers,
			AvgReviewLength: deref(length),
			PositiveReviews: positive,
			NegativeReviews: negative,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate review stats")
	}
	return stats, nil
}
