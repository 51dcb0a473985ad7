package kaltura

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kalturaops/kaltura-uploader/entrykind"
)

// mediaTypeVideo is KalturaMediaType.VIDEO, the default for media entries.
// The backend reclassifies image and audio content during ingestion.
const mediaTypeVideo = 1

// entryTypeData is KalturaEntryType.DATA.
const entryTypeData = 6

// Entry is a created Kaltura entry.
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EntryOptions carries the optional attributes of a new entry.
type EntryOptions struct {
	// Tags is a comma-separated tag list.
	Tags string
	// AccessControlID applies an access-control profile when > 0.
	AccessControlID int
	// ConversionProfileID applies a conversion profile when > 0. Ignored for
	// data entries, which are never transcoded.
	ConversionProfileID int
}

// CreateEntry binds a finalized upload token to a new entry. The entry kind
// decides the service: media, document or a plain data entry.
func (c *Client) CreateEntry(ctx context.Context, tokenID, fileName string, kind entrykind.Kind, mimeType string, opts EntryOptions) (Entry, error) {
	var service string
	params := url.Values{}
	params.Set("uploadTokenId", tokenID)

	switch kind {
	case entrykind.Media:
		service = "media"
		params.Set("mediaEntry:objectType", "KalturaMediaEntry")
		params.Set("mediaEntry:name", fileName)
		params.Set("mediaEntry:mediaType", strconv.Itoa(mediaTypeVideo))
		applyEntryOptions(params, "mediaEntry", opts)
	case entrykind.Document:
		service = "document"
		params.Set("documentEntry:objectType", "KalturaDocumentEntry")
		params.Set("documentEntry:name", fileName)
		params.Set("documentEntry:documentType", strconv.Itoa(entrykind.DocumentType(mimeType)))
		applyEntryOptions(params, "documentEntry", opts)
	default:
		service = "baseEntry"
		params.Set("entry:objectType", "KalturaDataEntry")
		params.Set("type", strconv.Itoa(entryTypeData))
		params.Set("entry:name", fileName)
		params.Set("entry:conversionProfileId", "-1")
		opts.ConversionProfileID = 0
		applyEntryOptions(params, "entry", opts)
	}

	var entry Entry
	if err := c.call(ctx, service, "addFromUploadedFile", params, &entry); err != nil {
		return Entry{}, fmt.Errorf("create %s entry from token %s: %w", kind, tokenID, err)
	}
	if entry.ID == "" {
		return Entry{}, fmt.Errorf("create %s entry from token %s: response carried no id", kind, tokenID)
	}

	c.logger.Infof("Created %s entry %s for %s", kind, entry.ID, fileName)
	return entry, nil
}

func applyEntryOptions(params url.Values, prefix string, opts EntryOptions) {
	if opts.Tags != "" {
		params.Set(prefix+":tags", opts.Tags)
	}
	if opts.AccessControlID > 0 {
		params.Set(prefix+":accessControlId", strconv.Itoa(opts.AccessControlID))
	}
	if opts.ConversionProfileID > 0 {
		params.Set(prefix+":conversionProfileId", strconv.Itoa(opts.ConversionProfileID))
	}
}

// AssignCategory links an entry to a category. Assignment is cosmetic for
// the upload itself, so callers usually treat failures as warnings.
func (c *Client) AssignCategory(ctx context.Context, entryID string, categoryID int) error {
	if categoryID <= 0 {
		return nil
	}

	params := url.Values{}
	params.Set("categoryEntry:objectType", "KalturaCategoryEntry")
	params.Set("categoryEntry:entryId", entryID)
	params.Set("categoryEntry:categoryId", strconv.Itoa(categoryID))

	if err := c.call(ctx, "categoryentry", "add", params, nil); err != nil {
		return fmt.Errorf("assign entry %s to category %d: %w", entryID, categoryID, err)
	}
	c.logger.Infof("Assigned entry %s to category %d", entryID, categoryID)
	return nil
}

// DirectServeURL builds the CDN URL serving the entry's raw file.
// extraParams, when set, is appended verbatim as the query string.
func (c *Client) DirectServeURL(entryID, fileName, extraParams string) string {
	extraQuery := ""
	if extraParams != "" {
		extraQuery = "?" + extraParams
	}
	return fmt.Sprintf(cdnURLTemplate, c.partnerID, entryID, fileName, extraQuery)
}
