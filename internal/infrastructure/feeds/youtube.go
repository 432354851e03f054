package feeds

import (
	"context"
	"fmt"

	"newsflow/internal/collector"
	"newsflow/internal/domain"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// YouTubeCollector fetches a channel's upload feed. YouTube publishes each
// channel as an Atom feed, so this strategy reuses the feed transport and
// only retags the source type.
type YouTubeCollector struct {
	feeds *FeedCollector
}

// NewYouTubeCollector builds the strategy on top of an existing feed collector.
func NewYouTubeCollector(feeds *FeedCollector) *YouTubeCollector {
	return &YouTubeCollector{feeds: feeds}
}

// Name identifies the strategy inside the registry.
func (y *YouTubeCollector) Name() string {
	return "youtube"
}

// Collect resolves the channel feed URL and fetches its latest videos.
func (y *YouTubeCollector) Collect(ctx context.Context, req collector.Request) ([]domain.Item, error) {
	channelID := req.Options["channelId"]
	if channelID == "" {
		return nil, fmt.Errorf("no channelId provided for source %s", req.SourceName)
	}

	feedReq := collector.Request{
		SourceName: req.SourceName,
		URL:        fmt.Sprintf(channelFeedURL, channelID),
		MaxEntries: req.MaxEntries,
	}

	items, err := y.feeds.Collect(ctx, feedReq)
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].SourceType = domain.SourceVideo
	}
	return items, nil
}
