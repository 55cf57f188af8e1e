// Package youtube fetches channel profile and recent video statistics
// from the platform data API on behalf of a connected user.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorlens/channellink/domain"
	apperrors "github.com/creatorlens/channellink/errors"
)

// Client calls the platform data API with a bearer token per request.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a data API client. A nil httpClient falls back to a
// default with a sane timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// GetChannelProfile returns the channel owned by the authorized user.
func (c *Client) GetChannelProfile(ctx context.Context, accessToken string) (*domain.ChannelProfile, error) {
	log.Debug().Msg("fetching channel profile")

	var payload struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string `json:"title"`
				CustomURL   string `json:"customUrl"`
				Description string `json:"description"`
				Thumbnails  struct {
					Medium struct {
						URL string `json:"url"`
					} `json:"medium"`
					High struct {
						URL string `json:"url"`
					} `json:"high"`
				} `json:"thumbnails"`
			} `json:"snippet"`
			Statistics struct {
				ViewCount       string `json:"viewCount"`
				SubscriberCount string `json:"subscriberCount"`
				VideoCount      string `json:"videoCount"`
			} `json:"statistics"`
		} `json:"items"`
	}

	if err := c.get(ctx, "/channels?part=snippet,statistics&mine=true", accessToken, &payload); err != nil {
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, apperrors.NewAPIError("no channel found for the authorized user", 0, nil)
	}

	item := payload.Items[0]
	avatar := item.Snippet.Thumbnails.High.URL
	if avatar == "" {
		avatar = item.Snippet.Thumbnails.Medium.URL
	}

	profile := &domain.ChannelProfile{
		ChannelID:   item.ID,
		Title:       item.Snippet.Title,
		Handle:      item.Snippet.CustomURL,
		AvatarURL:   avatar,
		Description: item.Snippet.Description,
		Statistics: domain.ChannelStatistics{
			ViewCount:       parseCount(item.Statistics.ViewCount),
			SubscriberCount: parseCount(item.Statistics.SubscriberCount),
			VideoCount:      parseCount(item.Statistics.VideoCount),
		},
	}
	log.Debug().Str("channel_id", profile.ChannelID).Str("title", profile.Title).Msg("channel profile retrieved")
	return profile, nil
}

// GetRecentVideos returns up to maxResults of the channel's newest videos
// with their counters, newest first.
func (c *Client) GetRecentVideos(ctx context.Context, accessToken, channelID string, maxResults int) ([]domain.VideoStats, error) {
	log.Debug().Str("channel_id", channelID).Int("max_results", maxResults).Msg("fetching recent videos")

	// The search endpoint yields ids; the videos endpoint yields counters.
	var search struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	searchPath := fmt.Sprintf("/search?part=snippet&channelId=%s&type=video&order=date&maxResults=%d",
		url.QueryEscape(channelID), maxResults)
	if err := c.get(ctx, searchPath, accessToken, &search); err != nil {
		return nil, err
	}
	if len(search.Items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(search.Items))
	for _, it := range search.Items {
		ids = append(ids, it.ID.VideoID)
	}

	var details struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string    `json:"title"`
				PublishedAt time.Time `json:"publishedAt"`
			} `json:"snippet"`
			Statistics struct {
				ViewCount    string `json:"viewCount"`
				LikeCount    string `json:"likeCount"`
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	videosPath := "/videos?part=snippet,statistics&id=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.get(ctx, videosPath, accessToken, &details); err != nil {
		return nil, err
	}

	videos := make([]domain.VideoStats, 0, len(details.Items))
	for _, it := range details.Items {
		videos = append(videos, domain.VideoStats{
			VideoID:     it.ID,
			Title:       it.Snippet.Title,
			Views:       parseCount(it.Statistics.ViewCount),
			Likes:       parseCount(it.Statistics.LikeCount),
			Comments:    parseCount(it.Statistics.CommentCount),
			PublishedAt: it.Snippet.PublishedAt,
		})
	}
	log.Debug().Int("count", len(videos)).Msg("recent videos retrieved")
	return videos, nil
}

func (c *Client) get(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building data API request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling data API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading data API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = nil
		}
		msg := "data API request failed"
		if parsed != nil {
			if e, ok := parsed["error"].(map[string]any); ok {
				if m, ok := e["message"].(string); ok && m != "" {
					msg = m
				}
			}
		}
		log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg(msg)
		return apperrors.NewAPIError(msg, resp.StatusCode, parsed)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding data API response: %w", err)
	}
	return nil
}

// parseCount tolerates the API's string-typed counters; anything
// unparseable counts as zero.
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
