package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
)

type EmailFilter func(string) bool

// DefaultEmailFilter rejects asset file names and test domains that the
// address parser accepts as emails.
func DefaultEmailFilter(email string) bool {
	lower := strings.ToLower(email)

	imageExtensions := []string{".png", ".webp", ".jpg", ".jpeg", ".gif", ".svg"}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}

	if strings.Contains(lower, "sentry-next.wixpress.com") || strings.Contains(lower, "sentry.io") {
		return false
	}

	if _, domain, ok := strings.Cut(lower, "@"); ok {
		for _, suffix := range []string{".local", ".test", ".example", ".invalid"} {
			if strings.HasSuffix(domain, suffix) {
				return false
			}
		}
	}

	return true
}

// ExtractEmails returns the distinct valid addresses found in text, in
// order of appearance.
func ExtractEmails(text string) []string {
	return applyFilter(regexEmailExtractor([]byte(text)), DefaultEmailFilter)
}

func docEmailExtractor(doc *goquery.Document) []string {
	seen := map[string]bool{}

	var emails []string

	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		mailto, exists := s.Attr("href")
		if !exists {
			return
		}

		value := strings.TrimPrefix(mailto, "mailto:")
		if i := strings.IndexByte(value, '?'); i >= 0 {
			value = value[:i]
		}

		if email, err := getValidEmail(value); err == nil && !seen[email] {
			emails = append(emails, email)
			seen[email] = true
		}
	})

	return emails
}

func regexEmailExtractor(body []byte) []string {
	seen := map[string]bool{}

	var emails []string

	addresses := emailaddress.Find(body, false)
	for i := range addresses {
		email := addresses[i].String()
		if !seen[email] {
			emails = append(emails, email)
			seen[email] = true
		}
	}

	return emails
}

func getValidEmail(s string) (string, error) {
	email, err := emailaddress.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}

	return email.String(), nil
}

func applyFilter(emails []string, filter EmailFilter) []string {
	if filter == nil {
		return emails
	}

	var filtered []string

	for _, email := range emails {
		if filter(email) {
			filtered = append(filtered, email)
		}
	}

	return filtered
}
