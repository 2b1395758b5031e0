// Package event defines the click event record and the normalizer that
// builds one from raw request data.
package event

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Field limits enforced at the HTTP boundary.
const (
	MaxNameLen = 50
)

// ClickEvent is one recorded visit to a tracking URL. Rows are append-only;
// nothing updates or deletes them. Column names and JSON keys are the wire
// format the dashboard and map consume.
type ClickEvent struct {
	ID        int64    `gorm:"primaryKey" json:"id"`
	Code      string   `gorm:"type:varchar(16);index;not null" json:"code"`
	Name      *string  `gorm:"type:varchar(50)" json:"name"`
	IP        string   `gorm:"type:varchar(45);not null" json:"ip"`
	UserAgent string   `gorm:"column:ua;type:text;not null" json:"ua"`
	City      *string  `gorm:"type:text" json:"city"`
	Region    *string  `gorm:"type:text" json:"region"`
	Country   *string  `gorm:"type:text" json:"country"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	ISP       *string  `gorm:"column:isp;type:text" json:"isp"`
	ASN       *int64   `gorm:"column:asn" json:"asn"`
	Timestamp string   `gorm:"column:ts;type:varchar(35);not null" json:"ts"`
}

func (ClickEvent) TableName() string { return "logs" }

// Headers is the read-only view of request headers the normalizer needs.
// Satisfied by net/http.Header and by the fiber adapter in the server.
type Headers interface {
	Get(key string) string
}

// Clock supplies the capture timestamp; injected so normalization stays a
// pure function in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Header names, in the shapes the edge forwards them. The IP candidates are
// checked in order; the geo set is best-effort enrichment and any of it may
// be missing.
const (
	headerConnectingIP = "cf-connecting-ip"
	headerRealIP       = "x-real-ip"
	headerForwardedFor = "x-forwarded-for"

	headerCity       = "cf-ipcity"
	headerRegion     = "cf-region"
	headerRegionCode = "cf-region-code"
	headerCountry    = "cf-ipcountry"
	headerLat        = "cf-iplatitude"
	headerLon        = "cf-iplongitude"
	headerISP        = "cf-as-organization"
	headerASN        = "cf-asn"

	// SentinelIP is stored when no candidate header carries a client address.
	SentinelIP = "0.0.0.0"

	unknownUA = "Unknown"
)

// Normalizer turns raw request data into a ClickEvent.
type Normalizer struct {
	clock Clock
}

func NewNormalizer() Normalizer {
	return Normalizer{clock: realClock{}}
}

func NewNormalizerWithClock(c Clock) Normalizer {
	return Normalizer{clock: c}
}

// Normalize builds the event for one visit to code. The caller has already
// validated code (non-empty, at most 16 chars). name is the optional label
// from the visit URL and is truncated to 50 chars; empty becomes null.
// The returned event always carries a resolved IP, a non-empty user agent
// and a fresh RFC 3339 UTC timestamp. No side effects.
func (n Normalizer) Normalize(code, name string, h Headers) ClickEvent {
	ua := h.Get("user-agent")
	if ua == "" {
		ua = unknownUA
	}

	return ClickEvent{
		Code:      code,
		Name:      optionalString(truncate(name, MaxNameLen)),
		IP:        clientIP(h),
		UserAgent: ua,
		City:      optionalString(h.Get(headerCity)),
		Region:    firstOptional(h.Get(headerRegion), h.Get(headerRegionCode)),
		Country:   optionalString(h.Get(headerCountry)),
		Lat:       safeNum(h.Get(headerLat)),
		Lon:       safeNum(h.Get(headerLon)),
		ISP:       optionalString(h.Get(headerISP)),
		ASN:       safeInt(h.Get(headerASN)),
		Timestamp: n.clock.Now().UTC().Format(time.RFC3339),
	}
}

// clientIP resolves the best-available client address: the edge's
// connecting-IP header, then the real-IP header, then the first entry of the
// forwarded-for list, else the sentinel.
func clientIP(h Headers) string {
	if ip := strings.TrimSpace(h.Get(headerConnectingIP)); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(h.Get(headerRealIP)); ip != "" {
		return ip
	}
	if fwd := h.Get(headerForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return SentinelIP
}

// safeNum parses s into a finite float64, or nil. Malformed or non-finite
// input must never reach the store.
func safeNum(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func safeInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstOptional(values ...string) *string {
	for _, v := range values {
		if v != "" {
			return &v
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
