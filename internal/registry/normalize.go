package registry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Field names of the canonical record, as reported in validation errors.
const (
	FieldName              = "name"
	FieldLink              = "link"
	FieldWebsocketLink     = "websocketLink"
	FieldRegion            = "region"
	FieldImageURL          = "imageUrl"
	FieldUserCount         = "userCount"
	FieldRulesURL          = "rulesUrl"
	FieldDescriptionURL    = "descriptionUrl"
	FieldTermsOfServiceURL = "termsOfServiceUrl"
	FieldPrivacyPolicyURL  = "privacyPolicyUrl"
	FieldUpdatedAt         = "updatedAt"
)

// RequiredFields must be present and non-null after normalization, and are
// reported in this order when missing.
var RequiredFields = []string{
	FieldName,
	FieldLink,
	FieldWebsocketLink,
	FieldRegion,
	FieldImageURL,
	FieldUserCount,
}

// containerAliases are the keys historical clients have nested instance
// details under, in priority order.
var containerAliases = []string{
	"instanceDetails",
	"instance_details",
	"details",
	"instance",
	"metadata",
}

// fieldAliases lists the accepted spellings of each canonical field. At each
// level (container, then top level) the first non-null alias wins.
var fieldAliases = map[string][]string{
	FieldName:              {"name", "instanceName"},
	FieldLink:              {"link", "instanceLink", "url"},
	FieldWebsocketLink:     {"websocketLink", "websocket_link", "wsLink", "websocketUrl"},
	FieldRegion:            {"region", "geojson"},
	FieldImageURL:          {"imageUrl", "image_url", "image"},
	FieldUserCount:         {"userCount", "user_count", "users"},
	FieldRulesURL:          {"rulesUrl", "rules_url"},
	FieldDescriptionURL:    {"descriptionUrl", "description_url"},
	FieldTermsOfServiceURL: {"termsOfServiceUrl", "terms_of_service_url"},
	FieldPrivacyPolicyURL:  {"privacyPolicyUrl", "privacy_policy_url"},
}

// Normalize maps a registration payload onto the canonical Detail. All
// RequiredFields must resolve; the missing ones are listed in the error.
// Unknown keys, including any config object, are ignored.
func Normalize(payload map[string]interface{}) (Detail, error) {
	d, invalid := decodeDetail(payload)

	var missing []string
	for _, f := range RequiredFields {
		if !d.has(f) && !contains(invalid, f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Detail{}, NewMissingFieldsError(missing)
	}
	if len(invalid) > 0 {
		return Detail{}, NewValidationError("invalid field values", invalid...)
	}
	return d, nil
}

// NormalizeMetadata maps a fetched /metadata document onto a partial Detail
// for merging. Documents wrapped in a top-level "result" envelope are
// unwrapped first. No field is required. Fields with unusable values are
// left out of the Detail and their names returned as ignored.
func NormalizeMetadata(doc interface{}) (Detail, []string, error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return Detail{}, nil, NewValidationError("metadata document is not a JSON object")
	}
	if inner, ok := m["result"].(map[string]interface{}); ok {
		m = inner
	}

	d, ignored := decodeDetail(m)
	return d, ignored, nil
}

// CanonicalLink is the stored form of an instance link.
func CanonicalLink(link string) string {
	return strings.TrimRight(strings.TrimSpace(link), "/")
}

func decodeDetail(payload map[string]interface{}) (Detail, []string) {
	var (
		d       Detail
		invalid []string
	)
	container := findContainer(payload)

	str := func(field string, dst **string, transform func(string) string) {
		v, ok := resolve(container, payload, field)
		if !ok {
			return
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			invalid = append(invalid, field)
			return
		}
		s = transform(strings.TrimSpace(s))
		*dst = &s
	}

	str(FieldName, &d.Name, norm.NFC.String)
	str(FieldLink, &d.Link, CanonicalLink)
	str(FieldWebsocketLink, &d.WebsocketLink, identity)

	if v, ok := resolve(container, payload, FieldRegion); ok {
		r, err := ParseRegion(v)
		if err != nil {
			invalid = append(invalid, FieldRegion)
		} else {
			d.Region = r
		}
	}

	str(FieldImageURL, &d.ImageURL, identity)

	if v, ok := resolve(container, payload, FieldUserCount); ok {
		n, ok := toCount(v)
		if !ok {
			invalid = append(invalid, FieldUserCount)
		} else {
			d.UserCount = &n
		}
	}

	// Optional links are dropped when blank or not a string.
	optional := func(field string, dst **string) {
		v, ok := resolve(container, payload, field)
		if !ok {
			return
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			s = strings.TrimSpace(s)
			*dst = &s
		}
	}
	optional(FieldRulesURL, &d.RulesURL)
	optional(FieldDescriptionURL, &d.DescriptionURL)
	optional(FieldTermsOfServiceURL, &d.TermsOfServiceURL)
	optional(FieldPrivacyPolicyURL, &d.PrivacyPolicyURL)

	// updatedAt describes the submission, so only the top level counts. An
	// unrecognized format leaves it unset.
	if v, ok := payload[FieldUpdatedAt]; ok && v != nil {
		if ts, ok := toTime(v); ok {
			d.UpdatedAt = &ts
		}
	}

	return d, invalid
}

func findContainer(payload map[string]interface{}) map[string]interface{} {
	for _, key := range containerAliases {
		if m, ok := payload[key].(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func resolve(container, payload map[string]interface{}, field string) (interface{}, bool) {
	for _, src := range []map[string]interface{}{container, payload} {
		if src == nil {
			continue
		}
		for _, alias := range fieldAliases[field] {
			if v, ok := src[alias]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func (d Detail) has(field string) bool {
	switch field {
	case FieldName:
		return d.Name != nil
	case FieldLink:
		return d.Link != nil
	case FieldWebsocketLink:
		return d.WebsocketLink != nil
	case FieldRegion:
		return d.Region != nil
	case FieldImageURL:
		return d.ImageURL != nil
	case FieldUserCount:
		return d.UserCount != nil
	}
	return false
}

func toCount(v interface{}) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, i >= 0
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil && i >= 0
	default:
		return 0, false
	}
	if f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// updatedAtLayouts are the string forms accepted for updatedAt.
var updatedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		for _, layout := range updatedAtLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), true
			}
		}
	case json.Number:
		ms, err := t.Int64()
		return time.UnixMilli(ms).UTC(), err == nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), t == math.Trunc(t)
	}
	return time.Time{}, false
}

func identity(s string) string { return s }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
