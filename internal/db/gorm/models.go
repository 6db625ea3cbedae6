// Package gorm provides GORM-based storage for lectern report history.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/lectern/pkg/models"
)

// ReportRun is one generated report.
type ReportRun struct {
	ID               string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StartDate        string  `gorm:"type:varchar(10);index:idx_report_runs_range;not null" json:"startDate"`
	EndDate          string  `gorm:"type:varchar(10);index:idx_report_runs_range,priority:2;not null" json:"endDate"`
	Threshold        float64 `gorm:"not null" json:"threshold"`
	TotalQuestions   int     `gorm:"default:0" json:"totalQuestions"`
	TotalClusters    int     `gorm:"default:0" json:"totalClusters"`
	DuplicatesFound  int     `gorm:"default:0" json:"duplicatesFound"`
	ReductionPercent int     `gorm:"default:0" json:"reductionPercent"`
	ActiveStudents   int     `gorm:"default:0" json:"activeStudents"`
	Recommendations  string  `gorm:"type:text" json:"recommendations,omitempty"`
	Filename         string  `gorm:"type:text" json:"filename"`
	CreatedAt        string  `gorm:"not null" json:"createdAt"`
	CreatedAtEpoch   int64   `gorm:"index:idx_report_runs_created,sort:desc;not null" json:"createdAtEpoch"`

	Clusters []ReportCluster `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"clusters,omitempty"`
}

func (ReportRun) TableName() string { return "report_runs" }

// BeforeCreate hook to ensure timestamps are set.
func (r *ReportRun) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.UnixMilli(r.CreatedAtEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// ReportCluster is one question cluster of a stored run. Members, Counts and
// Indices are parallel arrays in discovery order.
type ReportCluster struct {
	ID             int64                  `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID          string                 `gorm:"type:varchar(36);index:idx_report_clusters_run;not null" json:"-"`
	Rank           int                    `gorm:"index:idx_report_clusters_run,priority:2;not null" json:"rank"`
	Representative string                 `gorm:"type:text;not null" json:"representative"`
	TotalCount     int                    `gorm:"not null" json:"totalCount"`
	MemberCount    int                    `gorm:"not null" json:"memberCount"`
	Members        models.JSONStringArray `gorm:"type:text" json:"questions"` // JSON array
	Counts         models.JSONIntArray    `gorm:"type:text" json:"counts"`    // JSON array
	Indices        models.JSONIntArray    `gorm:"type:text" json:"indices"`   // JSON array
}

func (ReportCluster) TableName() string { return "report_clusters" }

// Cluster converts the row back into the clustering model.
func (c ReportCluster) Cluster() models.Cluster {
	members := make([]models.QuestionRecord, len(c.Members))
	for i, q := range c.Members {
		members[i] = models.QuestionRecord{Question: q}
		if i < len(c.Counts) {
			members[i].Count = c.Counts[i]
		}
	}
	cluster := models.Cluster{
		Members:    members,
		Indices:    append([]int(nil), c.Indices...),
		TotalCount: c.TotalCount,
	}
	if len(members) > 0 {
		cluster.Representative = members[0]
	} else {
		cluster.Representative = models.QuestionRecord{Question: c.Representative}
	}
	return cluster
}

// Stats returns the run's clustering statistics.
func (r ReportRun) Stats() models.ClusterStats {
	return models.ClusterStats{
		TotalOriginal:    r.TotalQuestions,
		TotalClusters:    r.TotalClusters,
		DuplicatesFound:  r.DuplicatesFound,
		ReductionPercent: r.ReductionPercent,
	}
}
