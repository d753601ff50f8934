// Package hls implements enough of the HTTP Live Streaming format to turn
// a streaming URL into a single local file: master/media playlist parsing,
// variant selection, AES-128 key handling, and sequential reassembly.
package hls

import (
	"bufio"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

const (
	tagStreamInf = "#EXT-X-STREAM-INF:"
	tagKey       = "#EXT-X-KEY:"
	tagMap       = "#EXT-X-MAP:"
)

// KeyMethod identifies a segment encryption method
type KeyMethod string

const (
	MethodNone   KeyMethod = "NONE"
	MethodAES128 KeyMethod = "AES-128"
)

// Variant is one rendition referenced by a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int64
	Resolution string
}

// EncryptionKey describes the key applying to a run of segments.
type EncryptionKey struct {
	Method KeyMethod
	KeyURL string
	IV     []byte // explicit IV when the tag carries one, else nil
}

// IsMaster reports whether the playlist text is a master playlist.
func IsMaster(text string) bool {
	return strings.Contains(text, tagStreamInf)
}

// ParseVariants extracts the variant streams of a master playlist. The URI
// of each variant is the next non-empty, non-comment line after its
// stream-inf tag, resolved against base.
func ParseVariants(text string, base *url.URL) []Variant {
	var variants []Variant
	var pending *Variant

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, tagStreamInf) {
			attrs := line[len(tagStreamInf):]
			v := Variant{Resolution: attrValue(attrs, "RESOLUTION")}
			if bw := attrValue(attrs, "BANDWIDTH"); bw != "" {
				v.Bandwidth, _ = strconv.ParseInt(bw, 10, 64)
			}
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			pending.URL = resolveURL(base, line)
			variants = append(variants, *pending)
			pending = nil
		}
	}
	return variants
}

// SelectBestVariant returns the variant with the highest bandwidth; ties
// keep the first one encountered. Returns nil for an empty list.
func SelectBestVariant(variants []Variant) *Variant {
	var best *Variant
	for i := range variants {
		if best == nil || variants[i].Bandwidth > best.Bandwidth {
			best = &variants[i]
		}
	}
	return best
}

// ParseSegments extracts the ordered segment URLs of a media playlist.
// This order is authoritative for final file assembly.
func ParseSegments(text string, base *url.URL) []string {
	var segments []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, resolveURL(base, line))
	}
	return segments
}

// ParseEncryptionKey scans all key tags in order and keeps the last one
// seen, modelling the applies-until-superseded semantics of the format.
// A METHOD=NONE tag clears the key. Returns nil when no key applies.
func ParseEncryptionKey(text string, base *url.URL) *EncryptionKey {
	var key *EncryptionKey
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, tagKey) {
			continue
		}
		attrs := line[len(tagKey):]
		method := KeyMethod(attrValue(attrs, "METHOD"))
		if method == MethodNone {
			key = nil
			continue
		}
		k := &EncryptionKey{Method: method}
		if uri := attrValue(attrs, "URI"); uri != "" {
			k.KeyURL = resolveURL(base, uri)
		}
		if iv := attrValue(attrs, "IV"); iv != "" {
			k.IV = parseIV(iv)
		}
		key = k
	}
	return key
}

// ParseInitSegment returns the URL of the first initialization-map tag, or
// empty when the playlist has none.
func ParseInitSegment(text string, base *url.URL) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, tagMap) {
			continue
		}
		if uri := attrValue(line[len(tagMap):], "URI"); uri != "" {
			return resolveURL(base, uri)
		}
	}
	return ""
}

// attrValue looks up one attribute in a tag's attribute list, handling both
// quoted and unquoted value syntax. Malformed input yields "".
func attrValue(attrs, name string) string {
	rest := attrs
	for rest != "" {
		eq := strings.Index(rest, "=")
		if eq < 0 {
			return ""
		}
		k := strings.TrimLeft(rest[:eq], ", \t")
		rest = rest[eq+1:]

		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return ""
			}
			val = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.Index(rest, ",")
			if end < 0 {
				val = rest
				rest = ""
			} else {
				val = rest[:end]
				rest = rest[end+1:]
			}
		}
		if k == name {
			return val
		}
	}
	return ""
}

// parseIV decodes an IV attribute of the form 0x<hex>. Anything malformed
// yields nil so the sequence-number derivation applies instead.
func parseIV(s string) []byte {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	iv, err := hex.DecodeString(s)
	if err != nil || len(iv) != 16 {
		return nil
	}
	return iv
}

// resolveURL resolves a playlist URI against the playlist's own URL.
// Absolute URIs pass through unchanged.
func resolveURL(base *url.URL, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	rel, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if base == nil {
		return uri
	}
	return base.ResolveReference(rel).String()
}
