// Package compose turns rendered campaign HTML into the final outbound
// message body: tracking pixel injection, unsubscribe footer, and link
// rewriting. It is independent of the transport.
package compose

import (
	"fmt"
	"regexp"
	"strings"
)

var anchorRe = regexp.MustCompile(`(?i)<a[^>]+href=["']([^"']+)["'][^>]*>`)

// Compose produces the final HTML for one send. Order matters for
// correctness: the pixel and footer are appended first so their own URLs are
// never candidates for link rewriting.
func Compose(html, pixelURL, unsubscribeURL string, linkMap map[string]string) string {
	out := InjectPixel(html, pixelURL)
	out = AppendUnsubscribeFooter(out, unsubscribeURL)
	return RewriteLinks(out, linkMap)
}

// InjectPixel places a 1x1 invisible tracking image immediately before the
// closing body tag, or appends it if the fragment has no body tag.
func InjectPixel(html, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="" />`, pixelURL)
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// AppendUnsubscribeFooter adds the unsubscribe block before the closing body
// tag, or appends it if no such tag exists.
func AppendUnsubscribeFooter(html, unsubscribeURL string) string {
	footer := fmt.Sprintf(`
    <div style="margin-top: 20px; padding: 10px; font-size: 12px; color: #666; border-top: 1px solid #eee;">
      <p>If you no longer wish to receive these emails, you can <a href="%s">unsubscribe here</a>.</p>
    </div>
  `, unsubscribeURL)
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", footer+"</body>", 1)
	}
	return html + footer
}

// RewriteLinks replaces every anchor href whose literal URL is a key in
// linkMap with the mapped tracking URL. Matching is exact-string on the URL,
// never normalized or prefix-based, so unrelated links that merely share a
// prefix are left alone.
func RewriteLinks(html string, linkMap map[string]string) string {
	out := html
	for original, tracked := range linkMap {
		for _, quote := range []string{`"`, `'`} {
			out = strings.ReplaceAll(out,
				"href="+quote+original+quote,
				`href="`+tracked+`"`)
		}
	}
	return out
}

// ExtractLinks returns the anchor hrefs in the HTML in document order, with
// duplicates removed. Used to build the link map for one send.
func ExtractLinks(html string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, m := range anchorRe.FindAllStringSubmatch(html, -1) {
		u := m[1]
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}
