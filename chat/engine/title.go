package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parley-chat/parley/llm/provider"
	"github.com/parley-chat/parley/llm/types"
)

const maxTitleBody = 1 << 20

// TitleParams describes one title-generation call.
type TitleParams struct {
	ChannelID     string
	Model         string
	UserText      string
	AssistantText string
}

// GenerateTitle asks the model for a short conversation title from the first
// exchange. It is a plain request/response call outside the session registry;
// reasoning is always disabled regardless of the chat setting. An empty title
// with a nil error means the response carried no usable text and the caller
// should keep its default.
func (e *Engine) GenerateTitle(ctx context.Context, params TitleParams) (string, error) {
	channel, err := e.channels.Find(params.ChannelID)
	if err != nil {
		return "", types.NewConfigurationError(
			fmt.Sprintf("channel %q not found", params.ChannelID), err)
	}
	apiKey, err := e.credentials.Decrypt(params.ChannelID)
	if err != nil {
		return "", types.NewConfigurationError(
			fmt.Sprintf("decrypting credential for channel %q", params.ChannelID), err)
	}
	adapter, err := provider.Resolve(channel.Provider)
	if err != nil {
		return "", err
	}

	wire, err := adapter.BuildTitleRequest(types.TitleRequest{
		BaseURL:       channel.BaseURL,
		APIKey:        apiKey,
		Model:         params.Model,
		UserText:      params.UserText,
		AssistantText: params.AssistantText,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, wire.Method, wire.URL, strings.NewReader(string(wire.Body)))
	if err != nil {
		return "", types.NewNetworkError("building title request", err)
	}
	for k, v := range wire.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.titleClient.Do(httpReq)
	if err != nil {
		return "", types.NewNetworkError("title request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTitleBody))
	if err != nil {
		return "", types.NewNetworkError("reading title response", err)
	}
	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = "title request failed"
		}
		return "", types.ErrorFromStatusCode(resp.StatusCode, message, adapter.Name(), "", nil)
	}

	title := strings.TrimSpace(adapter.ParseTitleResponse(body))
	title = strings.Trim(title, `"`)
	if title == "" {
		e.logger.Debug("title response carried no text", "provider", adapter.Name())
	}
	return title, nil
}
