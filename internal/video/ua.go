package video

import (
	"net/url"
	"strings"

	"github.com/mssola/useragent"
)

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func categorizeReferrer(referer string) string {
	if referer == "" {
		return "Direct"
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return "Other"
	}
	host := strings.ToLower(u.Host)
	switch {
	case strings.HasPrefix(host, "mail.") || strings.HasPrefix(host, "outlook."):
		return "Email"
	case hostMatches(host, "slack.com"):
		return "Slack"
	case hostMatches(host, "twitter.com") || hostMatches(host, "x.com"):
		return "Twitter"
	case hostMatches(host, "linkedin.com"):
		return "LinkedIn"
	}
	return "Other"
}

func parseBrowser(uaString string) string {
	if uaString == "" {
		return "Other"
	}
	ua := useragent.New(uaString)
	name, _ := ua.Browser()
	switch name {
	case "Chrome", "Safari", "Firefox", "Edge", "Opera":
		return name
	}
	return "Other"
}

func parseDevice(uaString string) string {
	lower := strings.ToLower(uaString)
	// Android tablets report no "Mobile" token; iPads always say iPad.
	if strings.Contains(lower, "ipad") {
		return "Tablet"
	}
	if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
		return "Tablet"
	}
	if useragent.New(uaString).Mobile() {
		return "Mobile"
	}
	return "Desktop"
}
