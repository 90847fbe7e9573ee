package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/types"
)

// Client talks to the REST endpoints on behalf of one user. Every failure, including a non-2xx status, is returned
// as a *types.RemoteError.
type Client struct {
	baseUrl    *url.URL
	httpClient *http.Client
	userId     int64
}

func NewClient(baseUrl string, userId int64, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server url %q", baseUrl)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseUrl: u, httpClient: httpClient, userId: userId}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &types.RemoteError{Method: method, Path: path, Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl.JoinPath(path).String(), reader)
	if err != nil {
		return &types.RemoteError{Method: method, Path: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userId != 0 {
		req.Header.Set(UserHeader, strconv.FormatInt(c.userId, 10))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.RemoteError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &types.RemoteError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(raw))}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &types.RemoteError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) PutUser(ctx context.Context, user types.User) (*types.User, error) {
	res := &types.User{}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("users/%d", user.Id), user, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetUsers(ctx context.Context) ([]*types.User, error) {
	res := make([]*types.User, 0)
	if err := c.do(ctx, http.MethodGet, "users", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetMessages(ctx context.Context) ([]*types.Message, error) {
	res := make([]*types.Message, 0)
	if err := c.do(ctx, http.MethodGet, "messages", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) PostMessage(ctx context.Context, message types.Message) (*types.Message, error) {
	res := &types.Message{}
	if err := c.do(ctx, http.MethodPost, "messages", message, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetPolls(ctx context.Context) ([]*types.Poll, error) {
	res := make([]*types.Poll, 0)
	if err := c.do(ctx, http.MethodGet, "polls", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) CompletePoll(ctx context.Context, pollId, userId int64) (*types.Poll, error) {
	res := &types.Poll{}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("polls/%d/complete", pollId), types.CompleteRequest{UserId: userId}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetSchedule(ctx context.Context) ([]*types.ScheduleItem, error) {
	res := make([]*types.ScheduleItem, 0)
	if err := c.do(ctx, http.MethodGet, "schedule", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) PutScheduleItem(ctx context.Context, item types.ScheduleItem) (*types.ScheduleItem, error) {
	res := &types.ScheduleItem{}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("schedule/%d", item.Id), item, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DeleteScheduleItem(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("schedule/%d", id), nil, nil)
}

// Health returns nil if the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}
