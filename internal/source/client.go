// Package source fetches candidate comparable projects from the external
// research API.
//
// The upstream is an OpenAI-compatible chat-completions endpoint that answers
// a research prompt with a JSON array of mining projects. In production this
// would be replaced or complemented by feeds like SEDAR+ or S&P Capital IQ;
// the contract here is only "give me N candidate projects as JSON".
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "compdb/pkg/logx"
)

const defaultBatchSize = 5

type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	BatchSize  int
	RatePerSec int
	Timeout    time.Duration
}

// Candidate is one project as reported by the research API. Field names
// follow the upstream JSON contract.
type Candidate struct {
	Name                   string  `json:"name"`
	Company                string  `json:"company"`
	Location               string  `json:"location"`
	Country                string  `json:"country"`
	Commodity              string  `json:"commodity"`
	CommodityGroup         string  `json:"commodity_group"`
	ProjectStage           string  `json:"project_stage"`
	DevelopmentStageDetail string  `json:"development_stage_detail"`
	DepositStyle           string  `json:"deposit_style"`
	GeologyType            string  `json:"geology_type"`
	TotalResourceMt        float64 `json:"total_resource_mt"`
	Grade                  float64 `json:"grade"`
	GradeUnit              string  `json:"grade_unit"`
	CapexMillionsUSD       float64 `json:"capex_millions_usd"`
	OpexPerTonneUSD        float64 `json:"opex_per_tonne_usd"`
	NPVMillionsUSD         float64 `json:"npv_millions_usd"`
	IRRPercent             float64 `json:"irr_percent"`
	PaybackYears           float64 `json:"payback_years"`
	AnnualProduction       float64 `json:"annual_production"`
	ProductionUnit         string  `json:"production_unit"`
	MineLifeYears          float64 `json:"mine_life_years"`
	JurisdictionRiskBand   string  `json:"jurisdiction_risk_band"`
	PoliticalRiskScore     float64 `json:"political_risk_score"`
	DataSource             string  `json:"data_source"`
	OverallScore           float64 `json:"overall_score"`
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("source endpoint is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	// Outbound rate limit: weekly runs are slow by nature, but manual triggers
	// from the admin API should not be able to hammer the upstream.
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// ---- chat-completions wire types ----

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// FetchCandidates performs one research request and returns the parsed batch.
func (c *Client) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a mining industry data expert. Generate realistic mining project data in JSON format."},
			{Role: "user", Content: researchPrompt(c.cfg.BatchSize)},
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("research request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("research response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("research request: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("decode research response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("research API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("research response has no choices")
	}

	candidates, err := parseCandidates(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.log.Debug("research batch fetched",
		logx.Int("count", len(candidates)),
		logx.Duration("took", time.Since(start)))
	return candidates, nil
}

// parseCandidates decodes the JSON array from the model output, tolerating a
// markdown code fence around it.
func parseCandidates(content string) ([]Candidate, error) {
	content = stripFence(strings.TrimSpace(content))
	var out []Candidate
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

func researchPrompt(n int) string {
	return fmt.Sprintf(`Generate a list of %d real or realistic mining projects for a comparables database.
For each project, provide:
- name: Project name
- company: Operating company
- location: Geographic location
- country: Country
- commodity: Primary commodity (Gold, Copper, Lithium, Nickel, etc.)
- commodity_group: Precious Metals, Base Metals, Battery Metals, Industrial Minerals
- project_stage: exploration, development, production, closed
- development_stage_detail: Early-Stage Exploration, Advanced Exploration, Pre-Feasibility, Feasibility, Construction, Operating, Care & Maintenance
- deposit_style: Porphyry, Epithermal, VMS, Sediment-Hosted, Pegmatite, etc.
- geology_type: Detailed deposit type
- total_resource_mt: Total resource in million tonnes (realistic number)
- grade: Average grade (realistic for commodity)
- grade_unit: g/t, %%, ppm
- capex_millions_usd: Capital expenditure estimate
- opex_per_tonne_usd: Operating cost per tonne
- npv_millions_usd: Net present value
- irr_percent: Internal rate of return
- payback_years: Payback period
- annual_production: Annual production estimate
- production_unit: tonnes, oz, kg
- mine_life_years: Mine life
- jurisdiction_risk_band: Low Risk, Moderate Risk, High Risk, Very High Risk
- political_risk_score: 0-10 (0=lowest risk)
- data_source: Source of information
- overall_score: Overall project quality score 0-100

Return ONLY valid JSON array with exactly %d projects. No markdown, no explanations.`, n, n)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
