// Package gorm provides GORM-based storage for lectern report history.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/lectern/internal/report"
)

// ErrRunNotFound is returned when a report run does not exist.
var ErrRunNotFound = errors.New("report run not found")

// RunStore persists generated reports.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a run store on store.
func NewRunStore(store *Store) *RunStore {
	return &RunStore{db: store.DB}
}

// SaveReport stores r and its clusters in one transaction.
func (s *RunStore) SaveReport(ctx context.Context, r *report.Report) error {
	if r == nil {
		return errors.New("nil report")
	}

	created := r.GeneratedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	run := ReportRun{
		ID:               r.ID,
		StartDate:        r.Range.Start,
		EndDate:          r.Range.End,
		Threshold:        r.Threshold,
		TotalQuestions:   r.Summary.TotalQuestions,
		TotalClusters:    r.Stats.TotalClusters,
		DuplicatesFound:  r.Stats.DuplicatesFound,
		ReductionPercent: r.Summary.ReductionPercent,
		ActiveStudents:   r.Summary.ActiveStudents,
		Recommendations:  r.Recommendations,
		Filename:         r.Filename,
		CreatedAt:        created.Format(time.RFC3339),
		CreatedAtEpoch:   created.UnixMilli(),
	}

	rows := make([]ReportCluster, 0, len(r.Clusters))
	for i, c := range r.Clusters {
		members := make([]string, len(c.Members))
		counts := make([]int, len(c.Members))
		for k, m := range c.Members {
			members[k] = m.Question
			counts[k] = m.Weight()
		}
		rows = append(rows, ReportCluster{
			RunID:          r.ID,
			Rank:           i + 1,
			Representative: c.Representative.Question,
			TotalCount:     c.TotalCount,
			MemberCount:    c.Size(),
			Members:        members,
			Counts:         counts,
			Indices:        append([]int(nil), c.Indices...),
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Clusters").Create(&run).Error; err != nil {
			return fmt.Errorf("insert report run: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert report clusters: %w", err)
		}
		return nil
	})
}

// ListRuns returns the most recent runs, newest first, without clusters.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []ReportRun
	err := s.db.WithContext(ctx).
		Order("created_at_epoch DESC").
		Order("id").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list report runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a run with its clusters in rank order.
func (s *RunStore) GetRun(ctx context.Context, id string) (*ReportRun, error) {
	var run ReportRun
	err := s.db.WithContext(ctx).
		Preload("Clusters", func(db *gorm.DB) *gorm.DB {
			return db.Order("rank ASC")
		}).
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report run: %w", err)
	}
	return &run, nil
}

// DeleteRun removes a run and its clusters.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&ReportCluster{}).Error; err != nil {
			return fmt.Errorf("delete report clusters: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&ReportRun{})
		if res.Error != nil {
			return fmt.Errorf("delete report run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// CountRuns returns the number of stored runs.
func (s *RunStore) CountRuns(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ReportRun{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count report runs: %w", err)
	}
	return n, nil
}
