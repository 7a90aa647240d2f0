package intake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/richardslaw/clio-intake/internal/auth/token"
	"github.com/richardslaw/clio-intake/internal/clioapi"
	"github.com/richardslaw/clio-intake/internal/db/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// fakeClio is an in-memory stand-in for the case-management API. It is the
// source of truth for field and calendar uniqueness, like the real thing.
type fakeClio struct {
	mu sync.Mutex

	nextID      int
	fields      []clioapi.CustomField
	fieldSet    *clioapi.CustomFieldSet
	matterPatch map[int]map[int]string // matterID → fieldID → value

	calendarEntries  []clioapi.CalendarEntry
	entryCreateCalls int
	fieldCreateCalls int

	clientContactID int
	contactEmail    string

	failPatch         bool // force matter PATCH to return 500
	tokenGrantError   bool // force refresh grant to fail with invalid_grant
	tokenRefreshCalls int
	apiCalls          int // every request except the token endpoint

	server *httptest.Server
}

func newFakeClio() *fakeClio {
	f := &fakeClio{
		nextID:          1000,
		matterPatch:     make(map[int]map[int]string),
		clientContactID: 77,
		contactEmail:    "client@example.com",
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeClio) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeClio) writeData(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func (f *fakeClio) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	if path != "/oauth/token" {
		f.apiCalls++
	}
	switch {
	case path == "/oauth/token" && r.Method == http.MethodPost:
		f.tokenRefreshCalls++
		w.Header().Set("Content-Type", "application/json")
		if f.tokenGrantError {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":"refreshed-access-%d","token_type":"Bearer","refresh_token":"rotated-refresh","expires_in":3600}`, f.tokenRefreshCalls)

	case path == "/custom_fields.json" && r.Method == http.MethodGet:
		f.writeData(w, f.fields)

	case path == "/custom_fields.json" && r.Method == http.MethodPost:
		var body struct {
			Data clioapi.CustomField `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.fieldCreateCalls++
		for _, existing := range f.fields {
			if existing.Name == body.Data.Name {
				w.WriteHeader(http.StatusUnprocessableEntity)
				fmt.Fprintf(w, `{"error":{"message":"Name has already been taken"}}`)
				return
			}
		}
		field := body.Data
		field.ID = f.id()
		f.fields = append(f.fields, field)
		f.writeData(w, field)

	case path == "/custom_field_sets.json" && r.Method == http.MethodGet:
		if f.fieldSet == nil {
			f.writeData(w, []clioapi.CustomFieldSet{})
			return
		}
		f.writeData(w, []clioapi.CustomFieldSet{*f.fieldSet})

	case path == "/custom_field_sets.json" && r.Method == http.MethodPost:
		var body struct {
			Data struct {
				Name     string `json:"name"`
				FieldIDs []int  `json:"custom_field_ids"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.fieldSet != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprintf(w, `{"error":{"message":"Name has already been taken"}}`)
			return
		}
		set := clioapi.CustomFieldSet{ID: f.id(), Name: body.Data.Name}
		for _, fid := range body.Data.FieldIDs {
			set.CustomFields = append(set.CustomFields, clioapi.CustomField{ID: fid})
		}
		f.fieldSet = &set
		f.writeData(w, set)

	case strings.HasPrefix(path, "/custom_field_sets/") && r.Method == http.MethodPatch:
		var body struct {
			Data struct {
				FieldIDs []int `json:"custom_field_ids"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.fieldSet != nil {
			f.fieldSet.CustomFields = nil
			for _, fid := range body.Data.FieldIDs {
				f.fieldSet.CustomFields = append(f.fieldSet.CustomFields, clioapi.CustomField{ID: fid})
			}
		}
		f.writeData(w, f.fieldSet)

	case strings.HasPrefix(path, "/matters/") && r.Method == http.MethodGet:
		matterID := pathID(path, "/matters/")
		values := make([]clioapi.CustomFieldValue, 0)
		for fieldID, v := range f.matterPatch[matterID] {
			values = append(values, clioapi.CustomFieldValue{
				ID:          matterID*100000 + fieldID,
				CustomField: &clioapi.Ref{ID: fieldID},
				Value:       v,
			})
		}
		f.writeData(w, clioapi.Matter{
			ID:                  matterID,
			Client:              &clioapi.Participant{ID: f.clientContactID, Name: "Jane Doe"},
			ResponsibleAttorney: &clioapi.Participant{ID: 5, Name: "Andrew Richards"},
			CustomFieldValues:   values,
		})

	case strings.HasPrefix(path, "/matters/") && r.Method == http.MethodPatch:
		if f.failPatch {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, `{"error":{"message":"internal"}}`)
			return
		}
		matterID := pathID(path, "/matters/")
		var body struct {
			Data struct {
				Values []struct {
					ID          int          `json:"id"`
					CustomField *clioapi.Ref `json:"custom_field"`
					Value       interface{}  `json:"value"`
				} `json:"custom_field_values"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.matterPatch[matterID] == nil {
			f.matterPatch[matterID] = make(map[int]string)
		}
		for _, v := range body.Data.Values {
			if v.CustomField != nil {
				f.matterPatch[matterID][v.CustomField.ID] = fmt.Sprint(v.Value)
			} else {
				// Update by value instance id: resolve back to the field.
				fieldID := f.fieldForValueID(matterID, v.ID)
				if fieldID != 0 {
					f.matterPatch[matterID][fieldID] = fmt.Sprint(v.Value)
				}
			}
		}
		f.writeData(w, clioapi.Matter{ID: matterID})

	case strings.HasPrefix(path, "/contacts/") && r.Method == http.MethodGet:
		contactID := pathID(path, "/contacts/")
		f.writeData(w, clioapi.Contact{
			ID:                  contactID,
			Name:                "Jane Doe",
			FirstName:           "Jane",
			LastName:            "Doe",
			PrimaryEmailAddress: f.contactEmail,
		})

	case path == "/calendars.json" && r.Method == http.MethodGet:
		f.writeData(w, []clioapi.Calendar{
			{ID: 31, Name: "Andrew Richards", Type: "UserCalendar", Permission: "write"},
		})

	case path == "/calendar_entries.json" && r.Method == http.MethodGet:
		query := r.URL.Query().Get("query")
		matterID, _ := strconv.Atoi(r.URL.Query().Get("matter_id"))
		matches := make([]clioapi.CalendarEntry, 0)
		for _, e := range f.calendarEntries {
			if e.Matter != nil && e.Matter.ID == matterID && strings.Contains(e.Summary, query) {
				matches = append(matches, e)
			}
		}
		f.writeData(w, matches)

	case path == "/calendar_entries.json" && r.Method == http.MethodPost:
		var body struct {
			Data struct {
				Summary string       `json:"summary"`
				StartAt string       `json:"start_at"`
				EndAt   string       `json:"end_at"`
				AllDay  bool         `json:"all_day"`
				Matter  *clioapi.Ref `json:"matter"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.entryCreateCalls++
		entry := clioapi.CalendarEntry{
			ID:      f.id(),
			Summary: body.Data.Summary,
			StartAt: body.Data.StartAt,
			EndAt:   body.Data.EndAt,
			AllDay:  body.Data.AllDay,
			Matter:  body.Data.Matter,
		}
		f.calendarEntries = append(f.calendarEntries, entry)
		f.writeData(w, entry)

	case path == "/document_automations.json" && r.Method == http.MethodPost:
		f.writeData(w, clioapi.DocumentAutomation{
			ID:        f.id(),
			State:     "completed",
			Documents: []clioapi.Ref{{ID: 900}},
		})

	case strings.HasPrefix(path, "/documents/") && r.Method == http.MethodGet:
		f.writeData(w, clioapi.Document{
			ID:   900,
			Name: "Retainer_Agreement.pdf",
			LatestDocumentVersion: &clioapi.DocumentVersion{
				ID:          901,
				DownloadURL: f.server.URL + "/download/901",
			},
		})

	case strings.HasPrefix(path, "/download/"):
		w.Write([]byte("%PDF-1.4 fake retainer"))

	case path == "/document_templates.json" && r.Method == http.MethodGet:
		f.writeData(w, []clioapi.DocumentTemplate{{ID: 12, Filename: "Retainer.docx"}})

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"message":"not found: %s %s"}}`, r.Method, path)
	}
}

func (f *fakeClio) fieldForValueID(matterID, valueID int) int {
	// Value IDs are synthesized as matterID*100000+fieldID in the listing.
	fieldID := valueID - matterID*100000
	if _, ok := f.matterPatch[matterID][fieldID]; ok {
		return fieldID
	}
	return 0
}

func cloneField(id int, name, fieldType string) clioapi.CustomField {
	return clioapi.CustomField{ID: id, Name: name, FieldType: fieldType, ParentType: ParentTypeMatter}
}

func pathID(path, prefix string) int {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, ".json")
	id, _ := strconv.Atoi(rest)
	return id
}

// newTestDB opens a private in-memory database for one test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := database.AutoMigrate(
		&models.Credential{},
		&models.IntakeSubmission{},
		&models.FieldMapping{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

// newTestClient wires a real API client and token store against the fake
// remote, with a credential that will not expire during the test.
func newTestClient(t *testing.T, database *gorm.DB, fake *fakeClio, accountID string) (*clioapi.Client, *token.Store) {
	t.Helper()
	oauthCfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  fake.server.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	store := token.NewStore(database, oauthCfg)
	if err := store.Save(&models.Credential{
		AccountID:    accountID,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return clioapi.NewClient(store, fake.server.URL), store
}
