package jellyfin

import (
	"context"
	"net/url"
)

// ListViews returns the user's top-level libraries.
func (c *Client) ListViews(ctx context.Context) ([]BaseItem, error) {
	userID, err := c.currentUserID()
	if err != nil {
		return nil, err
	}

	var res ItemsResult
	if err := c.getJSON(ctx, "list_views", url.Values{"IncludeHidden": {"false"}}, &res, "Users", userID, "Views"); err != nil {
		return nil, err
	}

	return res.Items, nil
}

// ListSeries returns every series under parentID, or across all libraries
// when parentID is empty.
func (c *Client) ListSeries(ctx context.Context, parentID string) ([]BaseItem, error) {
	userID, err := c.currentUserID()
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"IncludeItemTypes": {"Series"},
		"Recursive":        {"true"},
		"Fields":           {"Overview,SortName,ProductionYear"},
		"SortBy":           {"SortName"},
		"SortOrder":        {"Ascending"},
	}
	if parentID != "" {
		q.Set("ParentId", parentID)
	}

	var res ItemsResult
	if err := c.getJSON(ctx, "list_series", q, &res, "Users", userID, "Items"); err != nil {
		return nil, err
	}

	return res.Items, nil
}

func (c *Client) ListSeasons(ctx context.Context, seriesID string) ([]BaseItem, error) {
	userID, err := c.currentUserID()
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"UserId": {userID},
		"Fields": {"ItemCounts,ProductionYear"},
	}

	var res ItemsResult
	if err := c.getJSON(ctx, "list_seasons", q, &res, "Shows", seriesID, "Seasons"); err != nil {
		return nil, err
	}

	return res.Items, nil
}

// ListEpisodes returns the available episodes of a series, optionally
// restricted to one season.
func (c *Client) ListEpisodes(ctx context.Context, seriesID, seasonID string) ([]BaseItem, error) {
	userID, err := c.currentUserID()
	if err != nil {
		return nil, err
	}

	q := url.Values{
		"UserId":           {userID},
		"Fields":           {"Overview,IndexNumber,ParentIndexNumber,MediaSources"},
		"IsMissing":        {"false"},
		"IsVirtualUnaired": {"false"},
	}
	if seasonID != "" {
		q.Set("SeasonId", seasonID)
	}

	var res ItemsResult
	if err := c.getJSON(ctx, "list_episodes", q, &res, "Shows", seriesID, "Episodes"); err != nil {
		return nil, err
	}

	return res.Items, nil
}

func (c *Client) GetItem(ctx context.Context, itemID string) (*BaseItem, error) {
	userID, err := c.currentUserID()
	if err != nil {
		return nil, err
	}

	var item BaseItem
	if err := c.getJSON(ctx, "get_item", url.Values{"Fields": {"MediaSources"}}, &item, "Users", userID, "Items", itemID); err != nil {
		return nil, err
	}

	return &item, nil
}
