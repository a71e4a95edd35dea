// Package sniffer finds the preview image a listing page advertises for itself.
package sniffer

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Preview meta tags in order of preference.
var previewSelectors = []string{
	`meta[property="og:image:secure_url"]`,
	`meta[property="og:image"]`,
	`meta[name="og:image"]`,
	`meta[name="twitter:image"]`,
	`meta[property="twitter:image"]`,
	`meta[name="twitter:image:src"]`,
	`link[rel="image_src"]`,
}

var listingHints = []string{"listing", "photo", "property", "gallery", "hero", "primary", "main"}

var decorativeHints = []string{"logo", "icon", "sprite", "avatar", "badge", "pixel", "tracking", "placeholder", "spinner"}

const minImageWidth = 200

// ExtractPreviewImage returns the absolute URL of the page's preview image, or "" when
// the page offers none. Open Graph and Twitter card tags win over inline images.
func ExtractPreviewImage(content []byte, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	base, _ := url.Parse(pageURL)

	for _, selector := range previewSelectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value := s.AttrOr("content", s.AttrOr("href", ""))
			if abs := resolve(base, value); abs != "" {
				found = abs
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	var found string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := s.AttrOr("data-src", s.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") || !listingLike(s, src) {
			return true
		}
		if abs := resolve(base, src); abs != "" {
			found = abs
			return false
		}
		return true
	})
	return found
}

func listingLike(s *goquery.Selection, src string) bool {
	if w, err := strconv.Atoi(s.AttrOr("width", "")); err == nil && w < minImageWidth {
		return false
	}

	descriptor := strings.ToLower(src + " " + s.AttrOr("class", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("alt", ""))
	for _, hint := range decorativeHints {
		if strings.Contains(descriptor, hint) {
			return false
		}
	}
	for _, hint := range listingHints {
		if strings.Contains(descriptor, hint) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
