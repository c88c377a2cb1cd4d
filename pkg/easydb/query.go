package easydb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lichen/pkg/httpclient"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const existsBatchSize = 100

// Tag is one entry of the remote tag listing.
type Tag struct {
	ID    int64  `json:"id"`
	Group string `json:"group"`
	Name  string `json:"name"`
}

// QueryClient issues searches and lookups against the remote API.
type QueryClient struct {
	sessions *SessionClient
	http     *httpclient.Client
	locales  []string
	logger   ectologger.Logger
}

func NewQueryClient(sessions *SessionClient, http *httpclient.Client, locales []string, logger ectologger.Logger) *QueryClient {
	return &QueryClient{
		sessions: sessions,
		http:     http,
		locales:  locales,
		logger:   logger,
	}
}

func (c *QueryClient) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.sessions.WithSession(ctx, func(s Session) error {
		_, err := c.http.DoJSON(ctx, method, s.URL(c.sessions.BaseURL(), path, query), s.Headers(), body, out)
		return err
	})
}

// Search runs one search request.
func (c *QueryClient) Search(ctx context.Context, req SearchRequest) (Page, error) {
	ctx, span := tracing.StartSpan(ctx, "QueryClient.Search")
	defer span.End()

	var page Page
	if err := c.call(ctx, http.MethodPost, "/api/v1/search", nil, req, &page); err != nil {
		tracing.EndSpan(span, err)
		return Page{}, remoteErr("search", err)
	}
	if page.Limit == 0 {
		page.Limit = req.Limit
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"offset":  req.Offset,
		"limit":   req.Limit,
		"count":   page.Count,
		"objects": len(page.Objects),
	}).Debug("Remote search completed")

	return page, nil
}

// ByGlobalObjectID fetches one object.
func (c *QueryClient) ByGlobalObjectID(ctx context.Context, globalObjectID string) (rawrecord.Record, error) {
	page, err := c.Search(ctx, NewSearchRequest(0, 1, nil, In(rawrecord.FieldGlobalObjectID, globalObjectID)))
	if err != nil {
		return rawrecord.Record{}, err
	}
	if len(page.Objects) == 0 {
		return rawrecord.Record{}, remoteErr("lookup "+globalObjectID, ErrObjectNotFound)
	}
	return page.Objects[0], nil
}

// ByCompositeKey fetches one object of objectType by uuid and system object id.
func (c *QueryClient) ByCompositeKey(ctx context.Context, objectType, uuid string, systemObjectID int64) (rawrecord.Record, error) {
	search := Must(
		In(rawrecord.FieldUUID, uuid),
		In(rawrecord.FieldSystemObjectID, systemObjectID),
	)
	page, err := c.Search(ctx, NewSearchRequest(0, 1, []string{objectType}, search))
	if err != nil {
		return rawrecord.Record{}, err
	}
	if len(page.Objects) == 0 {
		return rawrecord.Record{}, remoteErr(fmt.Sprintf("lookup %s/%s/%d", objectType, uuid, systemObjectID), ErrObjectNotFound)
	}
	return page.Objects[0], nil
}

// ByTag pages over objects carrying a tag.
func (c *QueryClient) ByTag(ctx context.Context, tagID int64, offset, limit int) (Page, error) {
	return c.Search(ctx, NewSearchRequest(offset, limit, nil, In(FieldTagID, tagID)))
}

// ByObjectType pages over all objects of one type.
func (c *QueryClient) ByObjectType(ctx context.Context, objectType string, offset, limit int) (Page, error) {
	return c.Search(ctx, NewSearchRequest(offset, limit, []string{objectType}))
}

// Exists reports which of the given global object ids are still present remotely.
func (c *QueryClient) Exists(ctx context.Context, globalObjectIDs []string) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "QueryClient.Exists")
	defer span.End()

	found := make(map[string]bool, len(globalObjectIDs))
	for _, id := range globalObjectIDs {
		found[id] = false
	}

	for start := 0; start < len(globalObjectIDs); start += existsBatchSize {
		end := min(start+existsBatchSize, len(globalObjectIDs))
		batch := make([]any, 0, end-start)
		for _, id := range globalObjectIDs[start:end] {
			batch = append(batch, id)
		}

		page, err := c.Search(ctx, NewSearchRequest(0, len(batch), nil, In(rawrecord.FieldGlobalObjectID, batch...)))
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			if id, ok := obj.GlobalObjectID(); ok {
				found[id] = true
			}
		}
	}
	return found, nil
}

// Tags lists the tags defined remotely.
func (c *QueryClient) Tags(ctx context.Context) ([]Tag, error) {
	ctx, span := tracing.StartSpan(ctx, "QueryClient.Tags")
	defer span.End()

	var groups []rawrecord.Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/tags", nil, nil, &groups); err != nil {
		return nil, remoteErr("tags", err)
	}

	var tags []Tag
	for _, group := range groups {
		groupName, _ := group.Localized(c.locales, "taggroup", "displayname")
		for _, entry := range group.List("_tags") {
			id, ok := entry.Int("tag", "_id")
			if !ok {
				continue
			}
			name, _ := entry.Localized(c.locales, "tag", "displayname")
			tags = append(tags, Tag{ID: id, Group: groupName, Name: name})
		}
	}
	return tags, nil
}

// ObjectTypes lists the object type names defined remotely.
func (c *QueryClient) ObjectTypes(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "QueryClient.ObjectTypes")
	defer span.End()

	var body rawrecord.Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/objecttypes", nil, nil, &body); err != nil {
		return nil, remoteErr("objecttypes", err)
	}

	entries := body.List("objecttypes")
	if entries == nil {
		entries = body.List()
	}

	var names []string
	for _, entry := range entries {
		if name, ok := entry.String(); ok {
			names = append(names, name)
			continue
		}
		if name, ok := entry.String("name"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
