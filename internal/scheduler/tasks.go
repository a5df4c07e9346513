package scheduler

import (
	"context"

	"github.com/chatpulse/chatpulse/internal/analytics"
)

// TaskGroupStatistics refreshes yesterday's group statistics row.
const TaskGroupStatistics = "group_statistics"

// NewTaskRegistry builds the map of named tasks available for scheduling.
func NewTaskRegistry(analyticsService *analytics.Service) map[string]TaskFunc {
	return map[string]TaskFunc{
		TaskGroupStatistics: func(ctx context.Context) error {
			return analyticsService.UpdateGroupStatistics(ctx)
		},
	}
}
