package clioapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Meta carries Clio's list pagination cursor.
type Meta struct {
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// CustomField is a user-defined typed attribute attachable to a matter.
type CustomField struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	FieldType  string `json:"field_type"`
	ParentType string `json:"parent_type"`
	Displayed  bool   `json:"displayed"`
}

// CustomFieldSet groups custom fields for display on the matter page.
type CustomFieldSet struct {
	ID           int           `json:"id"`
	Name         string        `json:"name"`
	CustomFields []CustomField `json:"custom_fields"`
}

// CustomFieldValue is a value instance of a custom field on a matter.
type CustomFieldValue struct {
	ID          int         `json:"id,omitempty"`
	CustomField *Ref        `json:"custom_field,omitempty"`
	Value       interface{} `json:"value"`
}

// Ref is a bare {id} reference to another Clio entity.
type Ref struct {
	ID int `json:"id"`
}

// Matter is the case record. The orchestrator mutates its custom-field values
// but never creates or deletes matters.
type Matter struct {
	ID                  int                `json:"id"`
	DisplayNumber       string             `json:"display_number"`
	Description         string             `json:"description"`
	Client              *Participant       `json:"client"`
	ResponsibleAttorney *Participant       `json:"responsible_attorney"`
	CustomFieldValues   []CustomFieldValue `json:"custom_field_values"`
}

// Participant is a contact or user attached to a matter.
type Participant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Contact holds the client identity needed for notification.
type Contact struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	FirstName           string `json:"first_name"`
	LastName            string `json:"last_name"`
	PrimaryEmailAddress string `json:"primary_email_address"`
}

// Calendar is one of the account's calendars.
type Calendar struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Permission string `json:"permission"`
}

// CalendarEntry is a scheduled event, possibly linked to a matter.
type CalendarEntry struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	AllDay  bool   `json:"all_day"`
	Matter  *Ref   `json:"matter,omitempty"`
}

// DocumentTemplate is an uploaded merge template.
type DocumentTemplate struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// DocumentAutomation is a document-generation job.
type DocumentAutomation struct {
	ID        int    `json:"id"`
	State     string `json:"state"`
	Documents []Ref  `json:"documents"`
}

// Document is a stored file with its latest version.
type Document struct {
	ID                    int              `json:"id"`
	Name                  string           `json:"name"`
	LatestDocumentVersion *DocumentVersion `json:"latest_document_version"`
}

// DocumentVersion carries the pre-signed download URL for a document.
type DocumentVersion struct {
	ID          int    `json:"id"`
	DownloadURL string `json:"download_url"`
}

const listPageLimit = 200

// pageToken pulls the page_token cursor out of a meta.paging.next URL.
func pageToken(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("page_token")
}

// ListCustomFields returns every custom field for the parent type, walking
// all pages of the listing.
func (c *Client) ListCustomFields(ctx context.Context, accountID, parentType string) ([]CustomField, error) {
	var all []CustomField
	tok := ""
	for {
		query := url.Values{
			"parent_type": {parentType},
			"fields":      {"id,name,field_type,parent_type"},
			"limit":       {fmt.Sprint(listPageLimit)},
		}
		if tok != "" {
			query.Set("page_token", tok)
		}

		var page struct {
			Data []CustomField `json:"data"`
			Meta Meta          `json:"meta"`
		}
		if err := c.Do(ctx, accountID, http.MethodGet, "/custom_fields.json", query, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		tok = pageToken(page.Meta.Paging.Next)
		if tok == "" {
			return all, nil
		}
	}
}

// CreateCustomField creates one custom field remotely and returns it with its
// remote ID populated.
func (c *Client) CreateCustomField(ctx context.Context, accountID, name, fieldType, parentType string) (*CustomField, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"name":        name,
			"field_type":  fieldType,
			"parent_type": parentType,
			"displayed":   true,
		},
	}
	var out struct {
		Data CustomField `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodPost, "/custom_fields.json", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// FindCustomFieldSet returns the named set, or nil when absent.
func (c *Client) FindCustomFieldSet(ctx context.Context, accountID, name, parentType string) (*CustomFieldSet, error) {
	query := url.Values{
		"parent_type": {parentType},
		"fields":      {"id,name,custom_fields{id,name}"},
		"query":       {name},
	}
	var out struct {
		Data []CustomFieldSet `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodGet, "/custom_field_sets.json", query, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		if out.Data[i].Name == name {
			return &out.Data[i], nil
		}
	}
	return nil, nil
}

// CreateCustomFieldSet creates a display set holding the given field IDs.
func (c *Client) CreateCustomFieldSet(ctx context.Context, accountID, name, parentType string, fieldIDs []int) (*CustomFieldSet, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"name":             name,
			"parent_type":      parentType,
			"custom_field_ids": fieldIDs,
			"displayed":        true,
		},
	}
	var out struct {
		Data CustomFieldSet `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodPost, "/custom_field_sets.json", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpdateCustomFieldSet replaces the set's field membership.
func (c *Client) UpdateCustomFieldSet(ctx context.Context, accountID string, setID int, fieldIDs []int) error {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"custom_field_ids": fieldIDs,
		},
	}
	path := fmt.Sprintf("/custom_field_sets/%d.json", setID)
	return c.Do(ctx, accountID, http.MethodPatch, path, nil, body, nil)
}

// GetMatter fetches one matter with the requested fields.
func (c *Client) GetMatter(ctx context.Context, accountID string, matterID int, fields string) (*Matter, error) {
	query := url.Values{}
	if fields != "" {
		query.Set("fields", fields)
	}
	var out struct {
		Data Matter `json:"data"`
	}
	path := fmt.Sprintf("/matters/%d.json", matterID)
	if err := c.Do(ctx, accountID, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetContact fetches the client contact for notification.
func (c *Client) GetContact(ctx context.Context, accountID string, contactID int) (*Contact, error) {
	query := url.Values{"fields": {"id,name,first_name,last_name,primary_email_address"}}
	var out struct {
		Data Contact `json:"data"`
	}
	path := fmt.Sprintf("/contacts/%d.json", contactID)
	if err := c.Do(ctx, accountID, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpsertMatterCustomFields writes field values onto a matter in one batched
// PATCH. Existing value instances are updated by their value ID; new ones are
// attached by custom-field reference, matching the Clio upsert contract.
func (c *Client) UpsertMatterCustomFields(ctx context.Context, accountID string, matterID int, values map[int]string) error {
	if len(values) == 0 {
		return nil
	}

	matter, err := c.GetMatter(ctx, accountID, matterID, "custom_field_values{id,custom_field}")
	if err != nil {
		return err
	}

	valueIDByField := make(map[int]int)
	for _, v := range matter.CustomFieldValues {
		if v.CustomField != nil && v.CustomField.ID != 0 && v.ID != 0 {
			valueIDByField[v.CustomField.ID] = v.ID
		}
	}

	payload := make([]CustomFieldValue, 0, len(values))
	for fieldID, value := range values {
		if valueID, ok := valueIDByField[fieldID]; ok {
			payload = append(payload, CustomFieldValue{ID: valueID, Value: value})
		} else {
			payload = append(payload, CustomFieldValue{CustomField: &Ref{ID: fieldID}, Value: value})
		}
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"custom_field_values": payload,
		},
	}
	path := fmt.Sprintf("/matters/%d.json", matterID)
	return c.Do(ctx, accountID, http.MethodPatch, path, nil, body, nil)
}

// ListCalendars returns the account's calendars, optionally writable only.
func (c *Client) ListCalendars(ctx context.Context, accountID string, writeable bool) ([]Calendar, error) {
	query := url.Values{"fields": {"id,name,type,permission"}}
	if writeable {
		query.Set("writeable", "true")
	}
	var out struct {
		Data []Calendar `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodGet, "/calendars.json", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListCalendarEntries returns calendar entries for a matter whose summary
// matches the query string.
func (c *Client) ListCalendarEntries(ctx context.Context, accountID string, matterID int, summaryQuery string) ([]CalendarEntry, error) {
	query := url.Values{
		"matter_id": {fmt.Sprint(matterID)},
		"fields":    {"id,summary,start_at,end_at,all_day"},
	}
	if summaryQuery != "" {
		query.Set("query", summaryQuery)
	}
	var out struct {
		Data []CalendarEntry `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodGet, "/calendar_entries.json", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CalendarEntryRequest describes a calendar entry to create.
type CalendarEntryRequest struct {
	Summary         string
	Date            time.Time // calendar date; entry is all-day
	MatterID        int
	CalendarOwnerID int
	AttendeeIDs     []int
	Description     string
}

// CreateCalendarEntry creates an all-day entry on the given calendar. When no
// calendar is specified, the first writable one is used.
func (c *Client) CreateCalendarEntry(ctx context.Context, accountID string, req CalendarEntryRequest) (*CalendarEntry, error) {
	ownerID := req.CalendarOwnerID
	if ownerID == 0 {
		calendars, err := c.ListCalendars(ctx, accountID, true)
		if err != nil {
			return nil, err
		}
		if len(calendars) == 0 {
			return nil, fmt.Errorf("no writable calendars found for account %s", accountID)
		}
		ownerID = calendars[0].ID
	}

	data := map[string]interface{}{
		"summary":        req.Summary,
		"start_at":       req.Date.Format("2006-01-02") + "T00:00:00Z",
		"end_at":         req.Date.Format("2006-01-02") + "T23:59:59Z",
		"all_day":        true,
		"calendar_owner": Ref{ID: ownerID},
	}
	if req.MatterID != 0 {
		data["matter"] = Ref{ID: req.MatterID}
	}
	if len(req.AttendeeIDs) > 0 {
		attendees := make([]map[string]interface{}, 0, len(req.AttendeeIDs))
		for _, id := range req.AttendeeIDs {
			attendees = append(attendees, map[string]interface{}{"id": id, "type": "User"})
		}
		data["attendees"] = attendees
	}
	if req.Description != "" {
		data["description"] = req.Description
	}

	var out struct {
		Data CalendarEntry `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodPost, "/calendar_entries.json", nil, map[string]interface{}{"data": data}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ListDocumentTemplates returns the uploaded merge templates.
func (c *Client) ListDocumentTemplates(ctx context.Context, accountID string) ([]DocumentTemplate, error) {
	query := url.Values{"fields": {"id,filename,content_type"}}
	var out struct {
		Data []DocumentTemplate `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodGet, "/document_templates.json", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateDocumentFromTemplate starts a document-automation job merging the
// matter's fields into the template.
func (c *Client) CreateDocumentFromTemplate(ctx context.Context, accountID string, templateID, matterID int, filename string, formats []string) (*DocumentAutomation, error) {
	if len(formats) == 0 {
		formats = []string{"original"}
	}
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"document_template": Ref{ID: templateID},
			"matter":            Ref{ID: matterID},
			"filename":          filename,
			"formats":           formats,
		},
	}
	var out struct {
		Data DocumentAutomation `json:"data"`
	}
	if err := c.Do(ctx, accountID, http.MethodPost, "/document_automations.json", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetDocumentAutomation polls a document-generation job.
func (c *Client) GetDocumentAutomation(ctx context.Context, accountID string, automationID int) (*DocumentAutomation, error) {
	query := url.Values{"fields": {"id,state,documents"}}
	var out struct {
		Data DocumentAutomation `json:"data"`
	}
	path := fmt.Sprintf("/document_automations/%d.json", automationID)
	if err := c.Do(ctx, accountID, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetDocument fetches a document with its latest version.
func (c *Client) GetDocument(ctx context.Context, accountID string, documentID int) (*Document, error) {
	query := url.Values{"fields": {"id,name,latest_document_version{id,download_url}"}}
	var out struct {
		Data Document `json:"data"`
	}
	path := fmt.Sprintf("/documents/%d.json", documentID)
	if err := c.Do(ctx, accountID, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DownloadDocument fetches the raw bytes of a document's latest version via
// its pre-signed download URL.
func (c *Client) DownloadDocument(ctx context.Context, accountID string, documentID int) ([]byte, error) {
	doc, err := c.GetDocument(ctx, accountID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.LatestDocumentVersion == nil || doc.LatestDocumentVersion.DownloadURL == "" {
		return nil, fmt.Errorf("document %d has no downloadable version", documentID)
	}

	// The download URL is pre-signed: no bearer token attached.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.LatestDocumentVersion.DownloadURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Status: 0, Retryable: true, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}
