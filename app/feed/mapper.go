package feed

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"
)

func shouldMask(event AdEvent) bool {
	return slices.Contains(maskedStatuses, event.Status)
}

// maskAd redacts the sensitive fields of a terminally removed ad before any
// public representation is built from it.
func maskAd(event AdEvent) AdEvent {
	event.Title = MaskedTitle
	event.ContactList = nil
	event.Employer = nil
	event.BusinessName = ""
	return event
}

func MapAd(event AdEvent, adURLBase string) FeedAd {
	return FeedAd{
		UUID:           event.UUID,
		Published:      eventTime(event.Published),
		Expires:        eventTime(event.Expires),
		Updated:        event.Updated.Time,
		WorkLocations:  mapLocations(event.LocationList),
		ContactList:    mapContacts(event.ContactList),
		Title:          event.Title,
		Description:    event.Properties["adtext"],
		SourceURL:      event.Properties["sourceurl"],
		Source:         event.Source,
		ApplicationURL: event.Properties["applicationurl"],
		ApplicationDue: event.Properties["applicationdue"],
		CategoryList:   mapCategories(event),
		JobTitle:       event.Properties["jobtitle"],
		Link:           fmt.Sprintf("%s/%s", adURLBase, event.UUID),
		Employer:       mapEmployer(event),
		EngagementType: event.Properties["engagementtype"],
		Extent:         event.Properties["extent"],
		StartTime:      event.Properties["starttime"],
		PositionCount:  defaultStr(event.Properties["positioncount"], "1"),
		Sector:         event.Properties["sector"],
	}
}

func eventTime(t *EventTime) *time.Time {
	if t == nil {
		return nil
	}
	return &t.Time
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func mapLocations(locations []Location) []FeedLocation {
	mapped := make([]FeedLocation, 0, len(locations))
	for _, l := range locations {
		mapped = append(mapped, FeedLocation{
			Country:    l.Country,
			Address:    l.Address,
			City:       l.City,
			PostalCode: l.PostalCode,
			County:     l.County,
			Municipal:  l.Municipal,
		})
	}
	return mapped
}

func mapContacts(contacts []Contact) []FeedContact {
	mapped := make([]FeedContact, 0, len(contacts))
	for _, c := range contacts {
		mapped = append(mapped, FeedContact{
			Name:  c.Name,
			Email: c.Email,
			Phone: c.Phone,
			Role:  c.Role,
			Title: c.Title,
		})
	}
	return mapped
}

func mapEmployer(event AdEvent) FeedEmployer {
	name := event.BusinessName
	orgNr := ""
	if event.Employer != nil {
		if name == "" {
			name = event.Employer.Name
		}
		orgNr = event.Employer.OrgNr
	}
	return FeedEmployer{
		Name:        name,
		OrgNr:       orgNr,
		Description: event.Properties["employerdescription"],
		Homepage:    event.Properties["employerhomepage"],
	}
}

type searchTag struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// mapCategories merges the classifier scores scattered across the ad
// properties with the category list itself. Category entries without a score
// of their own fall back to the classifier score for the same code or name.
func mapCategories(event AdEvent) []FeedCategory {
	scores := map[string]float64{}
	styrkScore := parseScore(event.Properties["classification_styrk08_score"])
	if code := event.Properties["classification_styrk08_code"]; code != "" {
		scores["STYRK08:"+code] = styrkScore
	}
	if code := event.Properties["classification_esco_code"]; code != "" {
		scores["ESCO:"+code] = styrkScore
	}
	if tags := event.Properties["searchtags"]; tags != "" {
		var parsed []searchTag
		if err := json.Unmarshal([]byte(tags), &parsed); err == nil {
			for _, t := range parsed {
				scores["STYRK08:"+t.Label] = t.Score
			}
		}
	}

	seen := map[string]bool{}
	categories := make([]FeedCategory, 0, len(event.CategoryList))
	for _, c := range event.CategoryList {
		if c.CategoryType == "" || c.Code == "" {
			continue
		}
		key := c.CategoryType + ":" + c.Code
		if seen[key] {
			continue
		}
		seen[key] = true

		score := c.Score
		if score <= 0.0 {
			if s, ok := scores[key]; ok {
				score = s
			} else {
				score = scores[c.CategoryType+":"+c.Name]
			}
		}
		categories = append(categories, FeedCategory{
			CategoryType: c.CategoryType,
			Code:         c.Code,
			Name:         c.Name,
			Score:        score,
		})
	}
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].CategoryType < categories[j].CategoryType
	})
	return categories
}

func parseScore(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}
