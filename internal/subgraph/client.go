package subgraph

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

	"github.com/rs/zerolog"
)

const usersQuery = `query ($createdBlockHeightLte: BigInt!, $idGt: String!, $first: Int!) {
  users(
    where: { createdBlockHeight_lte: $createdBlockHeightLte, id_gt: $idGt }
    orderBy: id
    orderDirection: asc
    first: $first
  ) {
    id
    createdTimestamp
    createdBlockHeight
  }
}`

// UserDirectory lists participant addresses known to the protocol as of a
// given block height.
type UserDirectory interface {
	Users(ctx context.Context, createdAtOrBeforeHeight uint64) ([]string, error)
}

// ClientOptions parameterise the subgraph client.
type ClientOptions struct {
	APIURL   string
	PageSize int
	Timeout  time.Duration
}

// Client queries the protocol subgraph over HTTP.
type Client struct {
	opts   ClientOptions
	logger zerolog.Logger
	client *http.Client
}

// NewClient constructs a subgraph client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "subgraph_client").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type usersResponse struct {
	Data struct {
		Users []struct {
			ID                 string `json:"id"`
			CreatedTimestamp   int64  `json:"createdTimestamp"`
			CreatedBlockHeight string `json:"createdBlockHeight"`
		} `json:"users"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Users returns every user created at or before the given height. Pages are
// walked with an ascending id cursor until a short page terminates the scan,
// so each user appears exactly once.
func (c *Client) Users(ctx context.Context, createdAtOrBeforeHeight uint64) ([]string, error) {
	if c.opts.APIURL == "" {
		return nil, errors.New("subgraph api url not configured")
	}

	var (
		users  []string
		cursor string
	)

	for {
		page, err := c.queryPage(ctx, createdAtOrBeforeHeight, cursor)
		if err != nil {
			return nil, err
		}

		users = append(users, page...)

		if len(page) < c.opts.PageSize {
			break
		}
		cursor = page[len(page)-1]
	}

	return users, nil
}

func (c *Client) queryPage(ctx context.Context, height uint64, cursor string) ([]string, error) {
	reqPayload := graphQLRequest{
		Query: usersQuery,
		Variables: map[string]any{
			"createdBlockHeightLte": fmt.Sprintf("%d", height),
			"idGt":                  cursor,
			"first":                 c.opts.PageSize,
		},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes)))
	}

	var res usersResponse
	if err := json.Unmarshal(payloadBytes, &res); err != nil {
		return nil, fmt.Errorf("parse subgraph response: %w", err)
	}

	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("subgraph query failed: %s", res.Errors[0].Message)
	}

	page := make([]string, 0, len(res.Data.Users))
	for _, user := range res.Data.Users {
		page = append(page, user.ID)
	}
	return page, nil
}

var _ UserDirectory = (*Client)(nil)
