package easydb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const assetBatchSize = 100

// versionPreference orders the asset variants tried after "original".
var versionPreference = []string{"original", "full", "huge", "preview", "small"}

// AssetResolver looks up download URLs for asset ids.
type AssetResolver struct {
	queries *QueryClient
	logger  ectologger.Logger
}

func NewAssetResolver(queries *QueryClient, logger ectologger.Logger) *AssetResolver {
	return &AssetResolver{queries: queries, logger: logger}
}

// Resolve returns the preferred download URL per asset id. Assets without a usable version are omitted.
func (r *AssetResolver) Resolve(ctx context.Context, assetIDs []int64) (map[int64]string, error) {
	ctx, span := tracing.StartSpan(ctx, "AssetResolver.Resolve")
	defer span.End()

	urls := make(map[int64]string, len(assetIDs))
	for start := 0; start < len(assetIDs); start += assetBatchSize {
		end := min(start+assetBatchSize, len(assetIDs))

		ids, err := json.Marshal(assetIDs[start:end])
		if err != nil {
			return nil, err
		}

		var body rawrecord.Record
		err = r.queries.call(ctx, http.MethodGet, "/api/v1/eas", url.Values{"ids": {string(ids)}}, nil, &body)
		if err != nil {
			tracing.EndSpan(span, err)
			return nil, remoteErr("eas", err)
		}

		for id, asset := range assetsByID(body) {
			if u, ok := VersionURL(asset); ok {
				urls[id] = u
			}
		}
	}

	r.logger.WithContext(ctx).Debugf("Resolved %d of %d asset urls", len(urls), len(assetIDs))
	return urls, nil
}

// assetsByID accepts both the keyed object and the list form of the eas response.
func assetsByID(body rawrecord.Record) map[int64]rawrecord.Record {
	out := map[int64]rawrecord.Record{}
	if m := body.Map(); m != nil {
		for key := range m {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				continue
			}
			out[id] = body.Child(key)
		}
		return out
	}
	for _, asset := range body.List() {
		if id, ok := asset.Int("_id"); ok {
			out[id] = asset
		}
	}
	return out
}

// VersionURL picks the download URL of an asset: the "original" variant when available, otherwise
// the first usable variant in preference order, then in name order.
func VersionURL(asset rawrecord.Record) (string, bool) {
	versions := asset.Child("versions")
	if versions.IsNull() {
		return "", false
	}

	names := append([]string{}, versionPreference...)
	var rest []string
	for name := range versions.Map() {
		if !slices.Contains(versionPreference, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	for _, name := range names {
		if u, ok := usableVersion(versions.Child(name)); ok {
			return u, true
		}
	}
	return "", false
}

func usableVersion(version rawrecord.Record) (string, bool) {
	if version.IsNull() {
		return "", false
	}
	if status, ok := version.String("status"); ok && status != "done" {
		return "", false
	}
	if v, ok := version.String("_not_allowed"); ok && v == "true" {
		return "", false
	}
	return version.Coalesce([]string{"download_url"}, []string{"url"})
}
