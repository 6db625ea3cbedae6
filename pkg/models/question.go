// Package models contains domain models for lectern.
package models

// QuestionRecord is one distinct question text together with how often it was asked
// in the reporting window.
type QuestionRecord struct {
	Question string `json:"question"`
	Count    int    `json:"count,omitempty"`
}

// Weight returns the record's count, treating a missing or non-positive count as 1.
func (q QuestionRecord) Weight() int {
	if q.Count <= 0 {
		return 1
	}
	return q.Count
}

// Cluster groups near-duplicate questions under the record that seeded it.
// Members[0] is always the representative.
type Cluster struct {
	Representative QuestionRecord   `json:"representative"`
	Members        []QuestionRecord `json:"questions"`
	Indices        []int            `json:"indices"`
	TotalCount     int              `json:"totalCount"`
}

// Size returns the number of distinct question texts in the cluster.
func (c Cluster) Size() int {
	return len(c.Members)
}

// ClusterStats summarizes how much a clustering pass reduced the question list.
type ClusterStats struct {
	TotalOriginal    int `json:"totalOriginal"`
	TotalClusters    int `json:"totalClusters"`
	DuplicatesFound  int `json:"duplicatesFound"`
	ReductionPercent int `json:"reductionPercent"`
}
