// Package internships scrapes internship listings from Internshala.
package internships

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const siteURL = "https://internshala.com"

// Placeholders used when a card lacks a field.
const (
	noTitle       = "No title"
	noCompany     = "No company"
	noLocation    = "No location"
	noStipend     = "No stipend"
	noDuration    = "No duration"
	noPostedAt    = "No posted date"
	noApplication = "No application URL"
)

type Internship struct {
	Title          string `json:"title"`
	Company        string `json:"company"`
	Location       string `json:"location"`
	Stipend        string `json:"stipend"`
	Duration       string `json:"duration"`
	PostedAt       string `json:"postedAt"`
	ApplicationURL string `json:"applicationUrl"`
}

// Parse extracts the listing cards of a search results page. Cards without
// a title or company are dropped.
func Parse(r io.Reader) ([]Internship, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("internships: parse html: %w", err)
	}
	out := []Internship{}
	doc.Find(".individual_internship").Each(func(_ int, card *goquery.Selection) {
		in := Internship{
			Title:    textOr(card.Find(".job-internship-name a").First(), noTitle),
			Company:  textOr(card.Find(".company_name .company-name").First(), noCompany),
			Location: textOr(card.Find(".locations a").First(), noLocation),
			Stipend:  textOr(card.Find(".stipend").First(), noStipend),
			Duration: noDuration,
			PostedAt: textOr(card.Find(".status-success span, .status-inactive span, .status-info span").First(), noPostedAt),
		}
		if items := card.Find(".detail-row-1 .row-1-item"); items.Length() > 1 {
			in.Duration = textOr(items.Eq(1).Find("span").First(), noDuration)
		}
		in.ApplicationURL = noApplication
		if href, ok := card.Find(".job-title-href").First().Attr("href"); ok && href != "" {
			in.ApplicationURL = siteURL + href
		}
		if in.Title == noTitle || in.Company == noCompany {
			return
		}
		out = append(out, in)
	})
	return out, nil
}

// FilterLocation keeps listings whose location contains loc, ignoring case.
func FilterLocation(list []Internship, loc string) []Internship {
	loc = strings.ToLower(strings.TrimSpace(loc))
	if loc == "" {
		return list
	}
	out := []Internship{}
	for _, in := range list {
		if strings.Contains(strings.ToLower(in.Location), loc) {
			out = append(out, in)
		}
	}
	return out
}

func textOr(s *goquery.Selection, def string) string {
	if s.Length() == 0 {
		return def
	}
	if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
		return t
	}
	return def
}
