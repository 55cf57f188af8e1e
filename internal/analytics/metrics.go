// Package analytics derives channel performance metrics from recent
// video statistics.
package analytics

import (
	"math"
	"time"

	"github.com/creatorlens/channellink/domain"
)

// DefaultRecentVideoLimit bounds how many recent videos feed the metrics.
const DefaultRecentVideoLimit = 50

// uploadWindow is the trailing period used for upload frequency.
const uploadWindow = 30 * 24 * time.Hour

// ComputeMetrics derives performance figures from the given videos,
// considering at most limit of the most recent ones (the slice is assumed
// newest-first, as the platform client returns it).
//
// Zero videos or zero total views yield zero rates, never a division
// error.
func ComputeMetrics(videos []domain.VideoStats, limit int, now time.Time) domain.ChannelMetrics {
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	if len(videos) == 0 {
		return domain.ChannelMetrics{}
	}

	var totalViews, totalLikes, totalComments int64
	var recentUploads int
	cutoff := now.Add(-uploadWindow)

	for _, v := range videos {
		totalViews += v.Views
		totalLikes += v.Likes
		totalComments += v.Comments
		if !v.PublishedAt.Before(cutoff) {
			recentUploads++
		}
	}

	metrics := domain.ChannelMetrics{
		AverageViewsPerVideo: int64(math.Round(float64(totalViews) / float64(len(videos)))),
		// Uploads per week over the trailing 30 days.
		UploadFrequency: round2(float64(recentUploads) / 30 * 7),
	}
	if totalViews > 0 {
		metrics.EngagementRate = round2(float64(totalLikes+totalComments) / float64(totalViews) * 100)
	}
	return metrics
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
