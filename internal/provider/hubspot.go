package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// HubSpot syncs contacts and engagement activity into the CRM. Auth uses
// the OAuth2 client-credentials flow; token refresh is handled by the
// oauth2 token source.
type HubSpot struct {
	rest *restClient
}

// NewHubSpot creates the CRM adapter.
func NewHubSpot(baseURL, tokenURL, clientID, clientSecret string, caller *reliability.Caller) *HubSpot {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	source := cc.TokenSource(context.Background())

	return &HubSpot{
		rest: newRESTClient("hubspot", baseURL, caller, func(req *http.Request) {
			token, err := source.Token()
			if err != nil {
				return
			}
			token.SetAuthHeader(req)
		}),
	}
}

// Name identifies this provider in events and logs.
func (h *HubSpot) Name() string { return "hubspot" }

type hubspotObject struct {
	ID         string            `json:"id,omitempty"`
	Properties map[string]string `json:"properties"`
}

type hubspotSearchRequest struct {
	FilterGroups []struct {
		Filters []hubspotFilter `json:"filters"`
	} `json:"filterGroups"`
	Limit int `json:"limit"`
}

type hubspotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubspotSearchResponse struct {
	Total   int             `json:"total"`
	Results []hubspotObject `json:"results"`
}

// FindContact returns the remote id for the contact with the given email,
// or ErrPermanentRemote when none exists.
func (h *HubSpot) FindContact(ctx context.Context, email string) (string, error) {
	search := hubspotSearchRequest{Limit: 1}
	search.FilterGroups = append(search.FilterGroups, struct {
		Filters []hubspotFilter `json:"filters"`
	}{
		Filters: []hubspotFilter{{PropertyName: "email", Operator: "EQ", Value: domain.NormalizeEmail(email)}},
	})

	var resp hubspotSearchResponse
	if err := h.rest.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", search, &resp); err != nil {
		return "", fmt.Errorf("hubspot contact search: %w", err)
	}
	if resp.Total == 0 {
		return "", reliability.Permanent(fmt.Errorf("no crm contact for address"))
	}
	return resp.Results[0].ID, nil
}

func contactProperties(contact *domain.Contact) map[string]string {
	props := map[string]string{
		"email":     contact.Email,
		"firstname": contact.FirstName,
		"lastname":  contact.LastName,
	}
	if contact.Title != "" {
		props["jobtitle"] = contact.Title
	}
	if contact.Company != "" {
		props["company"] = contact.Company
	}
	if contact.Phone != "" {
		props["phone"] = contact.Phone
	}
	if contact.LinkedInURL != "" {
		props["hs_linkedin_url"] = contact.LinkedInURL
	}
	if contact.ICPScore > 0 {
		props["icp_score"] = strconv.FormatFloat(contact.ICPScore, 'f', 2, 64)
	}
	return props
}

// UpsertContact creates the contact or updates it when it already exists,
// returning the remote id either way.
func (h *HubSpot) UpsertContact(ctx context.Context, contact *domain.Contact) (string, error) {
	payload := hubspotObject{Properties: contactProperties(contact)}

	var created hubspotObject
	err := h.rest.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts", payload, &created)
	if err == nil {
		return created.ID, nil
	}

	// 409 means the contact exists; find it and patch instead.
	if !errors.Is(err, reliability.ErrConflict) {
		return "", fmt.Errorf("hubspot create contact: %w", err)
	}

	remoteID, err := h.FindContact(ctx, contact.Email)
	if err != nil {
		return "", err
	}

	var updated hubspotObject
	path := "/crm/v3/objects/contacts/" + remoteID
	if err := h.rest.doJSON(ctx, http.MethodPatch, path, payload, &updated); err != nil {
		return "", fmt.Errorf("hubspot update contact %s: %w", remoteID, err)
	}
	return remoteID, nil
}

type hubspotNote struct {
	Properties struct {
		Timestamp string `json:"hs_timestamp"`
		Body      string `json:"hs_note_body"`
	} `json:"properties"`
	Associations []hubspotAssociation `json:"associations,omitempty"`
}

type hubspotAssociation struct {
	To struct {
		ID string `json:"id"`
	} `json:"to"`
	Types []struct {
		Category string `json:"associationCategory"`
		TypeID   int    `json:"associationTypeId"`
	} `json:"types"`
}

// LogActivity writes an engagement note on the contact's CRM timeline.
func (h *HubSpot) LogActivity(ctx context.Context, activity *CRMActivity) error {
	remoteID, err := h.FindContact(ctx, activity.ContactEmail)
	if err != nil {
		return err
	}

	var note hubspotNote
	note.Properties.Timestamp = activity.OccurredAt.UTC().Format(time.RFC3339)
	note.Properties.Body = activity.Type
	if activity.Subject != "" {
		note.Properties.Body += ": " + activity.Subject
	}
	if activity.Body != "" {
		note.Properties.Body += "\n\n" + activity.Body
	}

	assoc := hubspotAssociation{}
	assoc.To.ID = remoteID
	assoc.Types = append(assoc.Types, struct {
		Category string `json:"associationCategory"`
		TypeID   int    `json:"associationTypeId"`
	}{Category: "HUBSPOT_DEFINED", TypeID: 202})
	note.Associations = append(note.Associations, assoc)

	if err := h.rest.doJSON(ctx, http.MethodPost, "/crm/v3/objects/notes", note, nil); err != nil {
		return fmt.Errorf("hubspot log activity: %w", err)
	}
	return nil
}
