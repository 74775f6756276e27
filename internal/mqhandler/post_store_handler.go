package mqhandler

import (
	"context"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/contracts/db"
	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

type TagResolver interface {
	ResolveOrCreate(ctx context.Context, tagType db.TagType, name string) (string, error)
}

type PostWriter interface {
	UpsertByURL(ctx context.Context, p *db.Post) (string, error)
	LinkTag(ctx context.Context, postID, tagID string) error
}

// PostStoreHandler persists extracted posts with their tags.
type PostStoreHandler struct {
	tags   TagResolver
	posts  PostWriter
	logger *zap.Logger
}

func NewPostStoreHandler(tags TagResolver, posts PostWriter, logger *zap.Logger) *PostStoreHandler {
	return &PostStoreHandler{
		tags:   tags,
		posts:  posts,
		logger: logger,
	}
}

type tagKey struct {
	tagType db.TagType
	slug    string
}

// HandleBatch shares one tag id cache across the items of the batch.
func (h *PostStoreHandler) HandleBatch(ctx context.Context, batch []mq.Message) mq.BatchResponse {
	cache := make(map[tagKey]string)
	return mq.ProcessBatch(ctx, pipeline.StagePostStore, batch, h.logger, func(ctx context.Context, msg mq.Message) error {
		return h.handle(ctx, msg, cache)
	})
}

func (h *PostStoreHandler) handle(ctx context.Context, msg mq.Message, cache map[tagKey]string) error {
	var p mqcontracts.PostStorePayload
	if err := mqcontracts.Decode(msg.Body, &p); err != nil {
		return err
	}

	groups := []struct {
		tagType db.TagType
		names   []string
	}{
		{db.TagTypeDomain, p.Domains},
		{db.TagTypeCategory, p.Categories},
		{db.TagTypeTag, p.Tags},
		{db.TagTypeNewTag, p.NewTags},
	}

	var tagIDs []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, name := range g.names {
			id, ok, err := h.resolveTag(ctx, cache, g.tagType, name)
			if err != nil {
				return err
			}
			if ok && !seen[id] {
				seen[id] = true
				tagIDs = append(tagIDs, id)
			}
		}
	}

	postID, err := h.posts.UpsertByURL(ctx, &db.Post{
		EmailID: p.EmailID,
		URL:     p.URL,
		Title:   p.Title,
		Text:    p.Text,
	})
	if err != nil {
		return err
	}

	for _, tagID := range tagIDs {
		if err := h.posts.LinkTag(ctx, postID, tagID); err != nil {
			return err
		}
	}

	logger.WithTrace(ctx, h.logger).Info("Post stored",
		zap.String("post_id", postID),
		zap.String("email_id", p.EmailID),
		zap.String("url", p.URL),
		zap.Int("tags", len(tagIDs)),
	)
	return nil
}

// resolveTag returns ok=false for blank names.
func (h *PostStoreHandler) resolveTag(ctx context.Context, cache map[tagKey]string, tagType db.TagType, name string) (string, bool, error) {
	key := tagKey{tagType: tagType, slug: db.Slugify(name)}
	if key.slug == "" {
		return "", false, nil
	}
	if id, ok := cache[key]; ok {
		return id, true, nil
	}

	id, err := h.tags.ResolveOrCreate(ctx, tagType, name)
	if err != nil {
		return "", false, err
	}
	cache[key] = id
	return id, true, nil
}
