package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const (
	cmrProvider   = "cmr"
	cmrDefaultURL = "https://cmr.earthdata.nasa.gov"

	// TempoNO2Collection is the CMR concept id of the TEMPO NO2 L2 V03 collection.
	TempoNO2Collection = "C2930725014-LARC_CLOUD"
)

// CMRClient searches NASA's Common Metadata Repository for TEMPO granules.
type CMRClient struct {
	*upstream
	collection string
}

// NewCMRClient creates a CMR client. A non-empty token is sent as a Bearer token.
func NewCMRClient(token string, opts Options) *CMRClient {
	c := &CMRClient{
		upstream:   newUpstream(cmrProvider, cmrDefaultURL, opts),
		collection: TempoNO2Collection,
	}
	if token != "" {
		c.header.Set("Authorization", "Bearer "+token)
	}
	return c
}

type cmrFeed struct {
	Feed struct {
		Entry []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			TimeStart string `json:"time_start"`
			TimeEnd   string `json:"time_end"`
			Links     []struct {
				Href string `json:"href"`
			} `json:"links"`
		} `json:"entry"`
	} `json:"feed"`
}

// SearchGranules returns granules intersecting bbox ("W,S,E,N") between start
// and end, newest first.
func (c *CMRClient) SearchGranules(ctx context.Context, bbox string, start, end time.Time, pageSize int) ([]models.Granule, error) {
	if pageSize <= 0 {
		pageSize = 5
	}
	params := url.Values{}
	params.Set("collection_concept_id", c.collection)
	params.Set("bounding_box", bbox)
	params.Set("temporal", start.UTC().Format(time.RFC3339)+","+end.UTC().Format(time.RFC3339))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("sort_key", "-start_date")
	u, err := c.endpoint("/search/granules.json", params)
	if err != nil {
		return nil, err
	}

	var feed cmrFeed
	if err := c.getJSON(ctx, u, &feed); err != nil {
		return nil, err
	}

	granules := make([]models.Granule, 0, len(feed.Feed.Entry))
	for _, e := range feed.Feed.Entry {
		links := make([]string, 0, len(e.Links))
		for _, l := range e.Links {
			if l.Href != "" {
				links = append(links, l.Href)
			}
		}
		granules = append(granules, models.Granule{
			ID:        e.ID,
			Title:     e.Title,
			TimeStart: e.TimeStart,
			TimeEnd:   e.TimeEnd,
			Links:     links,
		})
	}
	return granules, nil
}
