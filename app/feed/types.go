package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"

	// Placeholder values used where masked or missing metadata would
	// otherwise leak into the denormalized log.
	PlaceholderTitle = "?"
	MaskedTitle      = "..."
)

// maskedStatuses are terminal negative lifecycle statuses. REJECTED also
// covers ads that were merely flagged as duplicates upstream; whether those
// should be masked too is unconfirmed, so the historic behavior is kept.
var maskedStatuses = []string{"STOPPED", "DELETED", "REJECTED"}

// EventTime accepts both RFC 3339 and the zoneless local-datetime format the
// upstream ad API emits.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format: %q", s)
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// AdEvent is a job-ad snapshot as delivered on the broker. Unknown fields are
// ignored; most fields are optional.
type AdEvent struct {
	UUID             string            `json:"uuid"`
	Title            string            `json:"title"`
	Status           string            `json:"status"`
	Privacy          string            `json:"privacy"`
	Source           string            `json:"source"`
	Reference        string            `json:"reference"`
	Published        *EventTime        `json:"published"`
	Expires          *EventTime        `json:"expires"`
	Updated          EventTime         `json:"updated"`
	PublishedByAdmin *EventTime        `json:"publishedByAdmin"`
	BusinessName     string            `json:"businessName"`
	Employer         *Company          `json:"employer"`
	ContactList      []Contact         `json:"contactList"`
	Location         *Location         `json:"location"`
	LocationList     []Location        `json:"locationList"`
	Properties       map[string]string `json:"properties"`
	CategoryList     []Category        `json:"categoryList"`
}

type Company struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	OrgNr      string `json:"orgnr"`
	PublicName string `json:"publicName"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
	Title string `json:"title"`
}

type Location struct {
	Address    string `json:"address"`
	PostalCode string `json:"postalCode"`
	County     string `json:"county"`
	Municipal  string `json:"municipal"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

type Category struct {
	Code         string  `json:"code"`
	CategoryType string  `json:"categoryType"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
}

// FeedAd is the public representation serialized into feed_item content for
// active ads.
type FeedAd struct {
	UUID           string         `json:"uuid"`
	Published      *time.Time     `json:"published"`
	Expires        *time.Time     `json:"expires"`
	Updated        time.Time      `json:"updated"`
	WorkLocations  []FeedLocation `json:"workLocations"`
	ContactList    []FeedContact  `json:"contactList"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	SourceURL      string         `json:"sourceurl"`
	Source         string         `json:"source"`
	ApplicationURL string         `json:"applicationUrl"`
	ApplicationDue string         `json:"applicationDue"`
	CategoryList   []FeedCategory `json:"categoryList"`
	JobTitle       string         `json:"jobtitle"`
	Link           string         `json:"link"`
	Employer       FeedEmployer   `json:"employer"`
	EngagementType string         `json:"engagementtype"`
	Extent         string         `json:"extent"`
	StartTime      string         `json:"starttime"`
	PositionCount  string         `json:"positioncount"`
	Sector         string         `json:"sector"`
}

type FeedLocation struct {
	Country    string `json:"country"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	County     string `json:"county"`
	Municipal  string `json:"municipal"`
}

type FeedContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
	Title string `json:"title"`
}

type FeedEmployer struct {
	Name        string `json:"name"`
	OrgNr       string `json:"orgnr"`
	Description string `json:"description"`
	Homepage    string `json:"homepage"`
}

type FeedCategory struct {
	CategoryType string  `json:"categoryType"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
}

// Feed is one page of the public feed. Etag and LastModified travel as HTTP
// headers, not body fields. Unchanged marks a page whose contents are known
// to equal what the caller has already seen (HTTP 304).
type Feed struct {
	Version     string     `json:"version"`
	Title       string     `json:"title"`
	HomePageURL string     `json:"home_page_url"`
	Description string     `json:"description"`
	FeedURL     string     `json:"feed_url"`
	NextURL     *string    `json:"next_url"`
	ID          uuid.UUID  `json:"id"`
	NextID      *uuid.UUID `json:"next_id"`
	Items       []FeedLine `json:"items"`

	Etag         string    `json:"-"`
	LastModified time.Time `json:"-"`
	Unchanged    bool      `json:"-"`
}

type FeedLine struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ContentText  string    `json:"content_text"`
	DateModified time.Time `json:"date_modified"`
	FeedEntry    FeedEntry `json:"_feed_entry"`
}

type FeedEntry struct {
	UUID         string    `json:"uuid"`
	Status       string    `json:"status"`
	Title        string    `json:"title"`
	BusinessName string    `json:"businessName"`
	Municipal    string    `json:"municipal"`
	LastModified time.Time `json:"lastModified"`
}

// FeedEntryContent is the body of GET /feedentry/{id}. AdContent is null for
// inactive or masked ads.
type FeedEntryContent struct {
	UUID         uuid.UUID `json:"uuid"`
	AdContent    *FeedAd   `json:"ad_content"`
	LastModified time.Time `json:"lastModified"`
	Status       string    `json:"status"`
}
