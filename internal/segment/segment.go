// Package segment defines data structures for HLS media segments.
package segment

// Segment represents a single fetchable chunk of a track.
type Segment struct {
	// URL is the absolute segment URL (host root + manifest path)
	URL string

	// Sequence is the position in the media manifest, starting at 0
	Sequence int

	// Init marks the initialization segment (EXT-X-MAP); it always
	// precedes the regular segments it applies to
	Init bool
}

// List is an ordered sequence of segments in playback order.
type List []Segment

// URLs returns the segment URLs in playback order.
func (l List) URLs() []string {
	urls := make([]string, len(l))
	for i, seg := range l {
		urls[i] = seg.URL
	}
	return urls
}

// InitSegment returns the first initialization segment, if any.
func (l List) InitSegment() (Segment, bool) {
	for _, seg := range l {
		if seg.Init {
			return seg, true
		}
	}
	return Segment{}, false
}
