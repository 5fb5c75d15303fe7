package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/turtacn/sharedauth/internal/application/dto"
)

// adminClient calls the admin API of a running auth node.
type adminClient struct {
	rest *resty.Client
}

func newAdminClient(opts *options) *adminClient {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(opts.server, "/")).
		SetTimeout(time.Duration(opts.timeoutSec) * time.Second).
		SetHeader("Content-Type", "application/json").
		SetDisableWarn(true)
	if opts.token != "" {
		rest.SetAuthToken(opts.token)
	}
	return &adminClient{rest: rest}
}

// httpClient is the transport shared with collaborators that take a plain *http.Client.
func (c *adminClient) httpClient() *http.Client {
	return c.rest.GetClient()
}

// envelope mirrors dto.APIResponse with a raw payload.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorDTO   `json:"error"`
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *adminClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.rest.BaseURL, err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return apiError(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	return json.Unmarshal(env.Data, out)
}

func apiError(status int, raw []byte) error {
	var failure dto.AuthFailureResponse
	if status == http.StatusUnauthorized && json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
		return fmt.Errorf("%d %s %s", status, failure.Message, failure.Error)
	}
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		return fmt.Errorf("%d %s: %s", status, env.Error.Code, env.Error.Message)
	}
	return fmt.Errorf("%d %s", status, http.StatusText(status))
}
