// Package parser provides line-oriented HLS manifest parsing.
//
// Only the tag subset needed to download a video is understood. Platforms
// deliver manifests with quirks (audio groups that may be missing, init
// segments that may be missing, the variant URI on the tag line itself), so
// parsing is lenient: unusable declarations are dropped, never reported as
// errors. Strict validation is available separately through ValidateMaster and
// ValidateMedia.
package parser

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/segment"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/grafov/m3u8"
)

const (
	tagMedia       = "#EXT-X-MEDIA:"
	tagStreamInf   = "#EXT-X-STREAM-INF:"
	tagMap         = "#EXT-X-MAP:"
	attrURI        = "URI"
	attrGroupID    = "GROUP-ID"
	attrType       = "TYPE"
	attrAudio      = "AUDIO"
	attrResolution = "RESOLUTION"
)

var attrRegex = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^",]*)`)

// parseAttributes decodes an HLS attribute list, unquoting quoted values.
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(list, -1) {
		attrs[m[1]] = strings.Trim(m[2], `"`)
	}
	return attrs
}

// lines returns the manifest lines with surrounding whitespace removed.
// Line length is unbounded.
func lines(text string) []string {
	out := strings.Split(text, "\n")
	for i, line := range out {
		out[i] = strings.TrimSpace(line)
	}
	return out
}

// AudioGroups collects the audio declarations of a top-level manifest,
// keyed by group id. A later declaration of the same group wins.
func AudioGroups(text string) map[string]string {
	groups := make(map[string]string)
	for _, line := range lines(text) {
		if !strings.HasPrefix(line, tagMedia) {
			continue
		}
		attrs := parseAttributes(line[len(tagMedia):])
		if t, ok := attrs[attrType]; ok && t != "AUDIO" {
			continue
		}
		group, uri := attrs[attrGroupID], attrs[attrURI]
		if group == "" || uri == "" {
			continue
		}
		groups[group] = uri
	}
	return groups
}

// Variants extracts the video variants of a top-level manifest.
//
// The video manifest path is taken from a URI attribute on the STREAM-INF
// line when present, otherwise from the next non-empty line. Declarations
// without a resolution or a video path are discarded and counted in the
// report. Audio is matched through the declaring group only when the manifest
// declares audio groups at all.
func Variants(text, hostRoot string) ([]*variant.Variant, variant.Report) {
	groups := AudioGroups(text)
	all := lines(text)

	var (
		variants []*variant.Variant
		report   variant.Report
	)

	for i, line := range all {
		if !strings.HasPrefix(line, tagStreamInf) {
			continue
		}
		report.Declared++

		attrs := parseAttributes(line[len(tagStreamInf):])
		videoPath := attrs[attrURI]
		if videoPath == "" {
			videoPath = nextURI(all[i+1:])
		}

		res, err := variant.ParseResolution(attrs[attrResolution])
		if err != nil || videoPath == "" {
			report.Discarded++
			continue
		}

		v := &variant.Variant{
			Resolution: res,
			VideoURL:   hostRoot + videoPath,
		}
		if len(groups) > 0 {
			if audioPath, ok := groups[attrs[attrAudio]]; ok {
				v.AudioURL = hostRoot + audioPath
			}
		}
		variants = append(variants, v)
	}

	return variants, report
}

// nextURI returns the first non-empty line if it is not a tag.
func nextURI(rest []string) string {
	for _, line := range rest {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return ""
		}
		return line
	}
	return ""
}

// Segments extracts the ordered segment list of a media manifest along with
// the name suggested by its init segment.
//
// Recognised lines are EXT-X-MAP tags with a URI attribute and bare paths
// starting with "/". Everything else is ignored.
func Segments(text, hostRoot string) (segment.List, string) {
	var (
		list segment.List
		name string
	)

	for _, line := range lines(text) {
		switch {
		case strings.HasPrefix(line, tagMap):
			uri := parseAttributes(line[len(tagMap):])[attrURI]
			if uri == "" {
				continue
			}
			if name == "" {
				name = SuggestedName(uri)
			}
			list = append(list, segment.Segment{
				URL:      hostRoot + uri,
				Sequence: len(list),
				Init:     true,
			})
		case strings.HasPrefix(line, "/"):
			list = append(list, segment.Segment{
				URL:      hostRoot + line,
				Sequence: len(list),
			})
		}
	}

	return list, name
}

// SuggestedName returns the basename of uri without query or extension.
func SuggestedName(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	base := path.Base(uri)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// ValidateMaster checks that text decodes as a master playlist.
func ValidateMaster(text string) error {
	return validate(text, m3u8.MASTER)
}

// ValidateMedia checks that text decodes as a media playlist.
func ValidateMedia(text string) error {
	return validate(text, m3u8.MEDIA)
}

func validate(text string, want m3u8.ListType) error {
	_, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return hlserr.Wrap(hlserr.ErrParse, "decode playlist", err)
	}
	if listType != want {
		return hlserr.Wrap(hlserr.ErrParse, fmt.Sprintf("expected %s playlist, got %s", listName(want), listName(listType)), nil)
	}
	return nil
}

func listName(t m3u8.ListType) string {
	switch t {
	case m3u8.MASTER:
		return "master"
	case m3u8.MEDIA:
		return "media"
	default:
		return "unknown"
	}
}
