// Package pubmed implements the bibliographic search/fetch client: keyword
// search against NCBI eutils ESearch, batched abstract fetch via EFetch.
// A failed fetch batch is skipped so callers get partial results; an error
// is returned only when a search fails or every fetch batch fails.
package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/util"
	"github.com/ppiankov/aesop/internal/worker"
)

// Config holds PubMed client configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxResults     int
	FetchBatchSize int
	APIKey         string

	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults for the NCBI eutils client.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		Timeout:        10 * time.Second,
		MaxResults:     10,
		FetchBatchSize: 3,
	}
}

// Client searches and fetches abstracts from PubMed.
type Client struct {
	httpClient *http.Client
	config     Config
	limiter    *worker.Limiter
}

// New creates a new PubMed client. Requests are throttled to NCBI's
// published courtesy limit (3 req/sec without an API key, 10 with one);
// the limiter is keyed by host, so it naturally covers both eutils
// endpoints with a single shared bucket.
func New(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	requestsPerSecond := 3.0
	if config.APIKey != "" {
		requestsPerSecond = 10.0
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		config:  config,
		limiter: worker.NewLimiter(requestsPerSecond, 1),
	}
}

type eSearchResult struct {
	XMLName xml.Name `xml:"eSearchResult"`
	IDList  struct {
		IDs []string `xml:"Id"`
	} `xml:"IdList"`
}

// Search returns up to MaxResults PMIDs for a keyword query. Returns an
// error only on total failure; the caller (Scout) decides how to degrade.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	maxResults := c.config.MaxResults
	if maxResults == 0 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("retmode", "xml")
	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}

	var result eSearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse esearch response: %w", err)
	}

	return result.IDList.IDs, nil
}

type pubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	MedlineCitation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			ArticleTitle string `xml:"ArticleTitle"`
			Abstract     struct {
				AbstractText []string `xml:"AbstractText"`
			} `xml:"Abstract"`
			Journal struct {
				Title       string `xml:"Title"`
				JournalIssue struct {
					PubDate struct {
						Year        string `xml:"Year"`
						MedlineDate string `xml:"MedlineDate"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
}

// publicationYear extracts a four-digit year from either the structured
// PubDate/Year element or, when the issue only carries a free-form
// MedlineDate (e.g. "2019 Spring" or "2019-2020"), its leading digits.
// Returns 0 when no year can be recovered.
func (a pubmedArticle) publicationYear() int {
	pubDate := a.MedlineCitation.Article.Journal.JournalIssue.PubDate
	if y, err := strconv.Atoi(pubDate.Year); err == nil {
		return y
	}
	if len(pubDate.MedlineDate) >= 4 {
		if y, err := strconv.Atoi(pubDate.MedlineDate[:4]); err == nil {
			return y
		}
	}
	return 0
}

// FetchAbstracts fetches abstracts for the given PMIDs in batches (default
// batch size 3). A failed batch is swallowed (empty contribution); the
// returned list is the union of successful batches. Only returns an error
// when every batch failed.
func (c *Client) FetchAbstracts(ctx context.Context, pmids []string) ([]model.Paper, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	batchSize := c.config.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 3
	}

	var papers []model.Paper
	successfulBatches := 0
	totalBatches := 0

	for i := 0; i < len(pmids); i += batchSize {
		end := i + batchSize
		if end > len(pmids) {
			end = len(pmids)
		}
		totalBatches++

		batch, err := c.fetchBatch(ctx, pmids[i:end])
		if err != nil {
			continue
		}
		successfulBatches++
		papers = append(papers, batch...)
	}

	if totalBatches > 0 && successfulBatches == 0 {
		return nil, fmt.Errorf("all %d fetch batches failed", totalBatches)
	}

	return papers, nil
}

func (c *Client) fetchBatch(ctx context.Context, pmids []string) ([]model.Paper, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch: %w", err)
	}

	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse efetch response: %w", err)
	}

	papers := make([]model.Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		papers = append(papers, model.Paper{
			PMID:            a.MedlineCitation.PMID,
			Title:           a.MedlineCitation.Article.ArticleTitle,
			Abstract:        strings.Join(a.MedlineCitation.Article.Abstract.AbstractText, " "),
			Journal:         a.MedlineCitation.Article.Journal.Title,
			PublicationYear: a.publicationYear(),
		})
	}

	return papers, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(c.config.BaseURL, "/"), endpoint, params.Encode())

	if err := c.limiter.Wait(ctx, u); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubmed API error: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
