package feeds

import (
	"context"
	"fmt"
	"log/slog"

	"newsflow/internal/collector"
	"newsflow/internal/config"
	"newsflow/internal/domain"
	"newsflow/internal/ports"
)

// StrategySource implements ports.Source via registered collector strategies.
// A failing source is logged and skipped so the remaining sources still
// contribute to the run.
type StrategySource struct {
	registry *collector.Registry
	sources  config.SourcesConfig
	logger   *slog.Logger
}

var _ ports.Source = (*StrategySource)(nil)

// NewStrategySource wires the collector registry with config-defined sources.
func NewStrategySource(reg *collector.Registry, sources config.SourcesConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// Fetch iterates over configured sources and executes their collectors.
func (s *StrategySource) Fetch(ctx context.Context) ([]domain.Item, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("collector registry is not configured")
	}

	requests := s.buildRequests()
	s.debug("fetch sources", "count", len(requests))

	var aggregated []domain.Item
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return aggregated, err
		}

		strategy, err := s.registry.Resolve(req.strategy)
		if err != nil {
			s.warn("skip source", "source", req.request.SourceName, "error", err)
			continue
		}

		items, err := strategy.Collect(ctx, req.request)
		if err != nil {
			s.warn("source fetch failed", "source", req.request.SourceName, "error", err)
			continue
		}

		for i := range items {
			if items[i].Source == "" {
				items[i].Source = req.request.SourceName
			}
		}
		s.debug("source produced items", "source", req.request.SourceName, "count", len(items))
		aggregated = append(aggregated, items...)
	}

	s.debug("strategy source done", "total_items", len(aggregated))
	return aggregated, nil
}

type sourceRequest struct {
	strategy string
	request  collector.Request
}

func (s *StrategySource) buildRequests() []sourceRequest {
	requests := make([]sourceRequest, 0, len(s.sources.Feeds)+len(s.sources.Channels))
	for _, feed := range s.sources.Feeds {
		requests = append(requests, sourceRequest{
			strategy: "feed",
			request: collector.Request{
				SourceName:   feed.Name,
				URL:          feed.URL,
				MaxEntries:   feed.MaxEntries,
				FetchContent: feed.FetchContent,
			},
		})
	}
	for _, channel := range s.sources.Channels {
		requests = append(requests, sourceRequest{
			strategy: "youtube",
			request: collector.Request{
				SourceName: channel.Name,
				Options:    map[string]string{"channelId": channel.ChannelID},
			},
		})
	}
	return requests
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
