package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Coin is one row of the market-cap ranking.
type Coin struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"current_price"`
	MarketCap float64 `json:"market_cap"`
	Rank      int     `json:"market_cap_rank"`
	Change24h float64 `json:"price_change_percentage_24h"`
}

// Market reads the CoinGecko market ranking.
type Market struct {
	fetcher Getter
	baseURL string
	budget  int
}

// NewMarket returns a client for the CoinGecko API rooted at baseURL.
func NewMarket(g Getter, baseURL string, budget int) *Market {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Market{fetcher: g, baseURL: strings.TrimRight(baseURL, "/"), budget: budget}
}

// Coins returns the top n coins by market cap in USD.
func (m *Market) Coins(ctx context.Context, n int) ([]Coin, error) {
	if n <= 0 || n > 250 {
		n = 10
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(n))
	q.Set("page", "1")
	q.Set("price_change_percentage", "24h")

	e, err := m.fetcher.Get(ctx, m.baseURL+"/coins/markets?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var coins []Coin
	if err := json.Unmarshal(e.Body, &coins); err != nil {
		return nil, fmt.Errorf("coingecko: decode: %w", err)
	}
	if len(coins) == 0 {
		return nil, ErrNoResults
	}
	return coins, nil
}

// TopCoins renders the top n coins as one line each.
func (m *Market) TopCoins(ctx context.Context, n int) (string, error) {
	coins, err := m.Coins(ctx, n)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, c := range coins {
		rank := c.Rank
		if rank == 0 {
			rank = i + 1
		}
		fmt.Fprintf(&sb, "%d. %s (%s): $%s, 24h %+.2f%%, market cap $%s\n",
			rank, c.Name, strings.ToUpper(c.Symbol), formatPrice(c.Price), c.Change24h, humanize(c.MarketCap))
	}
	return Truncate(sb.String(), m.budget), nil
}

func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return strconv.FormatFloat(p, 'f', 0, 64)
	case p >= 1:
		return strconv.FormatFloat(p, 'f', 2, 64)
	default:
		return strconv.FormatFloat(p, 'g', 4, 64)
	}
}

func humanize(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	default:
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
}
