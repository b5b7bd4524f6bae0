package client

import (
	"context"

	"promptory/internal/models"
	"promptory/internal/services"
)

// Codes the server may answer with.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInternalError = "INTERNAL_SERVER_ERROR"
)

func (c *Client) ListPrompts(ctx context.Context, in services.PromptListInput) (*services.PromptList, error) {
	var out services.PromptList
	if err := c.Query(ctx, "prompt.list", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LatestPrompts(ctx context.Context, limit int) ([]models.Prompt, error) {
	var out []models.Prompt
	err := c.Query(ctx, "prompt.latest", map[string]int{"limit": limit}, &out)
	return out, err
}

// Prompt returns nil without error when the prompt does not exist.
func (c *Client) Prompt(ctx context.Context, id string) (*services.PromptDetail, error) {
	var out *services.PromptDetail
	if err := c.Query(ctx, "prompt.byId", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PromptLikeStatus(ctx context.Context, promptID string) (*services.LikeStatus, error) {
	var out services.LikeStatus
	if err := c.Query(ctx, "prompt.likeStatus", map[string]string{"promptId": promptID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TogglePromptLike(ctx context.Context, promptID string) (*services.LikeResult, error) {
	var out services.LikeResult
	if err := c.Mutate(ctx, "prompt.toggleLike", map[string]string{"promptId": promptID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePrompt(ctx context.Context, in services.CreatePromptInput) (string, error) {
	var id string
	err := c.Mutate(ctx, "prompt.create", in, &id)
	return id, err
}

func (c *Client) ListCollections(ctx context.Context, in services.CollectionListInput) (*services.CollectionList, error) {
	var out services.CollectionList
	if err := c.Query(ctx, "collection.list", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Collection returns nil without error when the collection does not exist or
// is private to someone else.
func (c *Client) Collection(ctx context.Context, id string) (*services.CollectionDetail, error) {
	var out *services.CollectionDetail
	if err := c.Query(ctx, "collection.byId", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ToggleCollectionLike(ctx context.Context, collectionID string) (*services.LikeResult, error) {
	var out services.LikeResult
	if err := c.Mutate(ctx, "collection.toggleLike", map[string]string{"collectionId": collectionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	return c.Mutate(ctx, "collection.delete", map[string]string{"id": id}, nil)
}

func (c *Client) AdminDeletePrompt(ctx context.Context, id string) error {
	return c.Mutate(ctx, "prompt.adminDelete", map[string]string{"id": id}, nil)
}

func (c *Client) AdminDeleteCollection(ctx context.Context, id string) error {
	return c.Mutate(ctx, "collection.adminDelete", map[string]string{"id": id}, nil)
}

func (c *Client) Me(ctx context.Context) (*services.Me, error) {
	var out services.Me
	if err := c.Query(ctx, "profile.me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
