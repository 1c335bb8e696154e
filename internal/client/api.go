package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/go-resty/resty/v2"
)

// API is the REST side of the chat server.
type API struct {
	baseURL    string
	httpClient *resty.Client
}

type conversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

// Page is one page of history, oldest first.
type Page struct {
	Messages []domain.WireMessage `json:"messages"`
	HasMore  bool                 `json:"hasMore"`
}

type seenResponse struct {
	ChatID string `json:"chatId"`
	Marked int    `json:"marked"`
}

type Profile struct {
	domain.UserProfile
	Online bool `json:"online"`
}

func NewAPI(baseURL string) *API {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
	return &API{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// SetToken sets the bearer token sent with every request.
func (a *API) SetToken(token string) {
	a.httpClient.SetAuthToken(token)
}

func (a *API) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var resp conversationsResponse
	httpResp, err := a.httpClient.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("/conversations")
	if err := checkResponse("list conversations", httpResp, err); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// LoadMessages fetches up to limit messages of the conversation with peerID
// older than before (epoch ms, 0 for the newest page).
func (a *API) LoadMessages(ctx context.Context, peerID string, limit int, before int64) (*Page, error) {
	params := map[string]string{
		"peerId": peerID,
		"action": "get",
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if before > 0 {
		params["before"] = strconv.FormatInt(before, 10)
	}
	var resp Page
	httpResp, err := a.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&resp).
		Get("/chat")
	if err := checkResponse("load messages", httpResp, err); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkSeen marks the conversation read and returns how many messages
// changed.
func (a *API) MarkSeen(ctx context.Context, chatID string) (int, error) {
	var resp seenResponse
	httpResp, err := a.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"chatId": chatID}).
		SetResult(&resp).
		Post("/chat/seen")
	if err := checkResponse("mark seen", httpResp, err); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

// Profile satisfies ProfileFetcher.
func (a *API) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, err := a.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &p.UserProfile, nil
}

func (a *API) Lookup(ctx context.Context, userID string) (*Profile, error) {
	var resp Profile
	httpResp, err := a.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		SetResult(&resp).
		Get("/users/{id}")
	if err := checkResponse("get profile", httpResp, err); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) UpdateProfile(ctx context.Context, p domain.UserProfile) (*domain.UserProfile, error) {
	var resp domain.UserProfile
	httpResp, err := a.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		SetResult(&resp).
		Put("/users/me")
	if err := checkResponse("update profile", httpResp, err); err != nil {
		return nil, err
	}
	return &resp, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("chat api %s request failed: %w", op, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 401 {
			return fmt.Errorf("chat api %s: %w", op, domain.ErrUnauthorized)
		}
		return fmt.Errorf("chat api %s error (%d): %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
