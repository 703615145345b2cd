package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/internal/helpers"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/news"
)

const defaultEndpoint = "https://newsapi.org"

type Article struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
}

type response struct {
	Status       string    `json:"status"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
}

// NewsAPI fetches top headlines per category and implements news.Fetcher
type NewsAPI struct {
	APIKey   string
	Endpoint string
	Country  string
	HTTP     *http.Client
}

// New builds a client from the sources.newsapi config section.
func New(cfg config.NewsAPIConfig) *NewsAPI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &NewsAPI{
		APIKey:   cfg.APIKey,
		Endpoint: cfg.Endpoint,
		Country:  cfg.Country,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// TopHeadlines calls /v2/top-headlines for one category.
func (n *NewsAPI) TopHeadlines(ctx context.Context, category string, limit int) ([]Article, error) {
	if strings.TrimSpace(n.APIKey) == "" {
		return nil, fmt.Errorf("newsapi api key not set")
	}
	endpoint := strings.TrimRight(n.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	params := url.Values{}
	params.Add("category", category)
	if limit > 0 {
		params.Add("pageSize", strconv.Itoa(limit))
	}
	if n.Country != "" {
		params.Add("country", n.Country)
	}

	reqURL := fmt.Sprintf("%s/v2/top-headlines?%s", endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.APIKey)

	client := n.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	defer resp.Body.Close()

	var result response
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && result.Message != "" {
			return nil, fmt.Errorf("newsapi error: %s: %s", resp.Status, result.Message)
		}
		return nil, fmt.Errorf("newsapi error: %s", resp.Status)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if result.Status == "error" {
		return nil, fmt.Errorf("newsapi error: %s", result.Message)
	}
	return result.Articles, nil
}

// Fetch returns compact records with markup stripped from text fields.
func (n *NewsAPI) Fetch(ctx context.Context, topic models.Topic, limit int) ([]news.Record, error) {
	articles, err := n.TopHeadlines(ctx, string(topic), limit)
	if err != nil {
		return nil, err
	}
	out := make([]news.Record, 0, len(articles))
	for _, a := range articles {
		out = append(out, news.Record{
			Title:       helpers.PlainText(a.Title),
			Author:      helpers.PlainText(a.Author),
			Source:      helpers.PlainText(a.Source.Name),
			URL:         strings.TrimSpace(a.URL),
			Description: helpers.PlainText(a.Description),
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ news.Fetcher = (*NewsAPI)(nil)
