package scraper

import (
	"strconv"
	"strings"
)

// imageCandidate carries the raw attributes of one rendered image element.
type imageCandidate struct {
	Src    string `json:"src"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

// minImageDimension filters out icons and logos when size attributes are
// present.
const minImageDimension = 50

// brandingDenylist holds asset paths of known search-engine chrome that must
// never be mistaken for a product image. Inherently fragile and environment
// specific; tune here, not in orchestration code.
var brandingDenylist = []string{
	"google.com/images/branding",
	"gstatic.com/ui",
	"google.com/images/nav_logo",
	"google.com/logos",
}

// plausible is the single predicate deciding whether a rendered image looks
// like a usable product image. Accepted forms are ordinary http(s) URLs and
// inline base64 image data.
func plausible(c imageCandidate) bool {
	if c.Src == "" {
		return false
	}
	if tooSmall(c.Width) || tooSmall(c.Height) {
		return false
	}
	for _, deny := range brandingDenylist {
		if strings.Contains(c.Src, deny) {
			return false
		}
	}
	return strings.HasPrefix(c.Src, "http") || strings.HasPrefix(c.Src, "data:image")
}

// tooSmall reports whether a size attribute is present, numeric, and under
// the minimum. Absent or unparsable attributes do not disqualify.
func tooSmall(attr string) bool {
	if attr == "" {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(attr))
	if err != nil {
		return false
	}
	return n < minImageDimension
}
