package connect

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// calendarBaseURL is the Google Calendar API base. Variable for test injection.
var calendarBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleCalendar lists events from one Google Calendar through the v3 REST API.
type GoogleCalendar struct {
	CalendarID string
	client     *googleClient
}

// NewGoogleCalendar creates a calendar source. calendarID defaults to "primary".
func NewGoogleCalendar(calendarID string, creds CredentialProvider) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{
		CalendarID: calendarID,
		client:     newGoogleClient(creds),
	}
}

// ListEvents fetches one page of expanded (single) events ordered by start time.
func (g *GoogleCalendar) ListEvents(ctx context.Context, q EventQuery) (EventPage, error) {
	// Calendar IDs are often email addresses; they must be path-escaped.
	baseURL := fmt.Sprintf("%s/calendars/%s/events", calendarBaseURL, url.PathEscape(g.CalendarID))

	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	params := url.Values{}
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	params.Set("maxResults", strconv.Itoa(pageSize))
	if !q.TimeMin.IsZero() {
		params.Set("timeMin", q.TimeMin.UTC().Format(time.RFC3339))
	}
	if !q.TimeMax.IsZero() {
		params.Set("timeMax", q.TimeMax.UTC().Format(time.RFC3339))
	}
	if q.PageToken != "" {
		params.Set("pageToken", q.PageToken)
	}

	var result calendarEventsList
	if err := g.client.get(ctx, baseURL+"?"+params.Encode(), &result); err != nil {
		return EventPage{}, fmt.Errorf("calendar %s: %w", g.CalendarID, err)
	}

	page := EventPage{NextPageToken: result.NextPageToken}
	for _, ev := range result.Items {
		page.Events = append(page.Events, toCalendarEvent(ev))
	}
	return page, nil
}

// toCalendarEvent converts the API shape into the pipeline's event type.
func toCalendarEvent(ev calendarEvent) CalendarEvent {
	out := CalendarEvent{
		ID:          ev.ID,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
		Start:       toEventTime(ev.Start),
		End:         toEventTime(ev.End),
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, Attendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Organizer:   a.Organizer,
			Self:        a.Self,
		})
	}
	if ev.Creator.Email != "" || ev.Creator.DisplayName != "" {
		out.Creator = &Person{Email: ev.Creator.Email, DisplayName: ev.Creator.DisplayName}
	}
	return out
}

func toEventTime(et calendarEventTime) EventTime {
	if et.DateTime != "" {
		if t := parseGoogleTime(et.DateTime); !t.IsZero() {
			if et.TimeZone != "" {
				if loc, err := time.LoadLocation(et.TimeZone); err == nil {
					t = t.In(loc)
				}
			}
			return EventTime{DateTime: t}
		}
	}
	return EventTime{Date: et.Date}
}

// --- Google Calendar API types ---

type calendarEventsList struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

type calendarEvent struct {
	ID          string             `json:"id"`
	Summary     string             `json:"summary"`
	Description string             `json:"description"`
	Location    string             `json:"location"`
	Status      string             `json:"status"`
	Start       calendarEventTime  `json:"start"`
	End         calendarEventTime  `json:"end"`
	Creator     calendarPerson     `json:"creator"`
	Organizer   calendarPerson     `json:"organizer"`
	Attendees   []calendarAttendee `json:"attendees"`
	Updated     string             `json:"updated"`
}

type calendarEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}

type calendarPerson struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type calendarAttendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ResponseStatus string `json:"responseStatus"`
	Organizer      bool   `json:"organizer"`
	Self           bool   `json:"self"`
}
