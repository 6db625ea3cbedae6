// Package similarity provides text similarity and clustering utilities.
package similarity

import (
	"math"
	"sort"

	"github.com/thebtf/lectern/pkg/models"
)

// DefaultThreshold is the similarity a question must reach to join a cluster
// when the caller does not choose one.
const DefaultThreshold = 0.7

// ClusterQuestions greedily groups near-duplicate questions.
// Records are visited in input order; each unassigned record seeds a cluster and
// pulls in every other unassigned record whose SemanticSimilarity to the seed is
// at least threshold. The result is ordered by TotalCount, highest first, with
// ties kept in discovery order.
func ClusterQuestions(records []models.QuestionRecord, threshold float64) []models.Cluster {
	clusters := make([]models.Cluster, 0)
	if len(records) == 0 {
		return clusters
	}

	profiles := make([]profile, len(records))
	for i, rec := range records {
		profiles[i] = newProfile(rec.Question)
	}

	// Track which records already belong to a cluster
	processed := make([]bool, len(records))

	for i, rec := range records {
		if processed[i] {
			continue
		}

		cluster := models.Cluster{
			Representative: rec,
			Members:        []models.QuestionRecord{rec},
			Indices:        []int{i},
			TotalCount:     rec.Weight(),
		}

		for j, other := range records {
			if j == i || processed[j] {
				continue
			}
			if profiles[i].similarity(profiles[j]) >= threshold {
				cluster.Members = append(cluster.Members, other)
				cluster.Indices = append(cluster.Indices, j)
				cluster.TotalCount += other.Weight()
				processed[j] = true
			}
		}

		processed[i] = true
		clusters = append(clusters, cluster)
	}

	sort.SliceStable(clusters, func(a, b int) bool {
		return clusters[a].TotalCount > clusters[b].TotalCount
	})
	return clusters
}

// GetClusterStats summarizes a clustering result. TotalOriginal counts the members
// of all clusters, so it equals the input size whenever every record was clustered once.
func GetClusterStats(clusters []models.Cluster) models.ClusterStats {
	total := 0
	for _, c := range clusters {
		total += len(c.Members)
	}
	return models.ClusterStats{
		TotalOriginal:    total,
		TotalClusters:    len(clusters),
		DuplicatesFound:  total - len(clusters),
		ReductionPercent: ReductionPercent(total, len(clusters)),
	}
}

// ReductionPercent returns the rounded share of questions folded into another
// cluster, or 0 when there were no questions.
func ReductionPercent(totalQuestions, totalClusters int) int {
	if totalQuestions <= 0 {
		return 0
	}
	duplicates := totalQuestions - totalClusters
	return int(math.Round(float64(duplicates) / float64(totalQuestions) * 100))
}

// Analyzer clusters question lists with a fixed threshold.
type Analyzer struct {
	Threshold float64
}

// NewAnalyzer returns an Analyzer; a threshold outside [0, 1] falls back to DefaultThreshold.
func NewAnalyzer(threshold float64) *Analyzer {
	if !ValidThreshold(threshold) {
		threshold = DefaultThreshold
	}
	return &Analyzer{Threshold: threshold}
}

// Analyze clusters records and returns the clusters with their statistics.
func (a *Analyzer) Analyze(records []models.QuestionRecord) ([]models.Cluster, models.ClusterStats) {
	clusters := ClusterQuestions(records, a.Threshold)
	return clusters, GetClusterStats(clusters)
}

// ValidThreshold reports whether t is a usable similarity threshold.
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}
