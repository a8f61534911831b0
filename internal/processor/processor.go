package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// SummaryLimit is the rune cap applied to extracted summaries.
const SummaryLimit = 300

var stripPolicy = bluemonday.StrictPolicy()

// trackingParams are dropped during link canonicalization. Keys ending in
// "_" are prefixes.
var trackingParams = []string{
	"utm_", "fbclid", "gclid", "dclid", "msclkid", "mc_cid", "mc_eid",
	"_ga", "_hsenc", "_hsmi", "mkt_tok", "igshid", "ref_src",
	"cmpid", "ocid", "sr_share",
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "_") && strings.HasPrefix(k, p) {
			return true
		}
		if k == p {
			return true
		}
	}
	return false
}

// CanonicalLink normalizes a link so that copies of the same page reached
// through different campaigns compare equal: lowercase scheme and host,
// default port and fragment removed, tracking parameters dropped, remaining
// query sorted. Unparsable input is returned trimmed.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	for k := range q {
		if isTrackingParam(k) {
			q.Del(k)
		}
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	return u.String()
}

// NormalizeTitle lowercases, drops punctuation and collapses whitespace.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// StableID derives the item identifier from its content, never from the
// source that reported it.
func StableID(title, link string) string {
	return hashKey(NormalizeTitle(title) + "\n" + CanonicalLink(link))
}

func hashKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// CleanText strips markup, decodes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to limit runes and appends an ellipsis when it did.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return strings.TrimSpace(string(rs[:limit])) + "…"
}

// Summary cleans s and caps it at SummaryLimit runes.
func Summary(s string) string {
	return truncateRunes(CleanText(s), SummaryLimit)
}

// titleTokens is the token set used for similarity.
func titleTokens(title string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(NormalizeTitle(title)) {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b| over normalized title tokens.
func Jaccard(a, b string) float64 {
	ta, tb := titleTokens(a), titleTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func sortedUnion(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
