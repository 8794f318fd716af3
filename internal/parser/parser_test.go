package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const host = "https://video.example.com"

const masterWithAudio = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:NAME="Audio",TYPE=AUDIO,GROUP-ID="audio-0",AUTOSELECT=YES,URI="/amplify_video/1/pl/mp4a/128000/audio.m3u8"
#EXT-X-MEDIA:NAME="Subs",TYPE=SUBTITLES,GROUP-ID="subs",URI="/amplify_video/1/pl/subs.m3u8"
#EXT-X-STREAM-INF:AVERAGE-BANDWIDTH=250000,BANDWIDTH=300000,RESOLUTION=640x360,CODECS="mp4a.40.2,avc1.4D401E",AUDIO="audio-0"
/amplify_video/1/pl/avc1/640x360/video.m3u8
#EXT-X-STREAM-INF:AVERAGE-BANDWIDTH=900000,BANDWIDTH=1000000,RESOLUTION=1280x720,CODECS="mp4a.40.2,avc1.640020",AUDIO="audio-9"
/amplify_video/1/pl/avc1/1280x720/video.m3u8
`

func TestAudioGroups(t *testing.T) {
	groups := AudioGroups(masterWithAudio)

	assert.Equal(t, map[string]string{
		"audio-0": "/amplify_video/1/pl/mp4a/128000/audio.m3u8",
	}, groups)
}

func TestAudioGroups_LastDeclarationWins(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio-0",URI="/first.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio-0",URI="/second.m3u8"
`
	assert.Equal(t, "/second.m3u8", AudioGroups(text)["audio-0"])
}

func TestVariants_AudioGrouping(t *testing.T) {
	variants, report := Variants(masterWithAudio, host)
	require.Len(t, variants, 2)

	assert.Equal(t, host+"/amplify_video/1/pl/avc1/640x360/video.m3u8", variants[0].VideoURL)
	assert.Equal(t, host+"/amplify_video/1/pl/mp4a/128000/audio.m3u8", variants[0].AudioURL)
	assert.Equal(t, 640, variants[0].Resolution.Width)

	// audio-9 is never declared
	assert.Equal(t, host+"/amplify_video/1/pl/avc1/1280x720/video.m3u8", variants[1].VideoURL)
	assert.Empty(t, variants[1].AudioURL)

	assert.Equal(t, 2, report.Declared)
	assert.Equal(t, 0, report.Discarded)
}

func TestVariants_NoAudioGroups(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=480x270,AUDIO="audio-0"
/pl/480x270.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080
/pl/1920x1080.m3u8
`
	variants, _ := Variants(text, host)
	require.Len(t, variants, 2)
	for _, v := range variants {
		assert.False(t, v.HasAudio(), "variant %s should be video-only", v.VideoURL)
	}
}

func TestVariants_DiscardsIncompleteDeclarations(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000
/pl/no-resolution.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
#EXT-X-STREAM-INF:BANDWIDTH=900000,RESOLUTION=1280x720

/pl/720.m3u8
`
	variants, report := Variants(text, host)
	require.Len(t, variants, 1)
	assert.Equal(t, host+"/pl/720.m3u8", variants[0].VideoURL)
	assert.Equal(t, 3, report.Declared)
	assert.Equal(t, 2, report.Discarded)
}

func TestVariants_URIOnTagLine(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="/a/audio.m3u8"
#EXT-X-STREAM-INF:RESOLUTION=1280x720,AUDIO="aud",URI="/v/720.m3u8"
#EXT-X-STREAM-INF:RESOLUTION=640x360,AUDIO="aud",URI="/v/360.m3u8"
`
	variants, report := Variants(text, host)
	require.Len(t, variants, 2)
	assert.Equal(t, host+"/v/720.m3u8", variants[0].VideoURL)
	assert.Equal(t, host+"/a/audio.m3u8", variants[0].AudioURL)
	assert.Equal(t, host+"/v/360.m3u8", variants[1].VideoURL)
	assert.Equal(t, 0, report.Discarded)
}

func TestVariants_Empty(t *testing.T) {
	variants, report := Variants("#EXTM3U\n#EXT-X-VERSION:3\n", host)
	assert.Empty(t, variants)
	assert.Equal(t, 0, report.Declared)
}

func TestVariants_CRLF(t *testing.T) {
	text := "#EXTM3U\r\n#EXT-X-STREAM-INF:RESOLUTION=320x180\r\n/pl/180.m3u8\r\n"
	variants, _ := Variants(text, host)
	require.Len(t, variants, 1)
	assert.Equal(t, host+"/pl/180.m3u8", variants[0].VideoURL)
}

func TestVariants_LongLineDoesNotStopParsing(t *testing.T) {
	text := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:RESOLUTION=640x360,CODECS=\"" + strings.Repeat("a", 2<<20) + "\"\n" +
		"/pl/360.m3u8\n" +
		"#EXT-X-STREAM-INF:RESOLUTION=1280x720\n" +
		"/pl/720.m3u8\n"

	variants, report := Variants(text, host)
	require.Len(t, variants, 2)
	assert.Equal(t, 2, report.Declared)
	assert.Equal(t, host+"/pl/720.m3u8", variants[1].VideoURL)
}

func TestSegments(t *testing.T) {
	text := `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:3
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-MAP:URI="/a/b/clip_123.mp4"
#EXTINF:3.000,
/a/b/0/3000/clip_123.m4s
#EXTINF:3.000,
/a/b/3000/6000/clip_123.m4s

#EXTINF:1.500,
/a/b/6000/7500/clip_123.m4s
#EXT-X-ENDLIST
`
	list, name := Segments(text, host)
	assert.Equal(t, "clip_123", name)
	require.Len(t, list, 4)

	assert.True(t, list[0].Init)
	assert.Equal(t, host+"/a/b/clip_123.mp4", list[0].URL)
	for i, seg := range list {
		assert.Equal(t, i, seg.Sequence)
	}
	assert.False(t, list[1].Init)
	assert.Equal(t, host+"/a/b/3000/6000/clip_123.m4s", list[2].URL)
}

func TestSegments_NoInitSegment(t *testing.T) {
	text := `#EXTM3U
#EXTINF:4.0,
/seg/1.ts
#EXTINF:4.0,
relative-is-ignored.ts
#EXTINF:4.0,
/seg/2.ts
`
	list, name := Segments(text, host)
	assert.Empty(t, name)
	assert.Equal(t, []string{host + "/seg/1.ts", host + "/seg/2.ts"}, list.URLs())
}

func TestSegments_LongLineDoesNotStopParsing(t *testing.T) {
	text := "#EXTM3U\n" +
		"#EXT-X-PROGRAM-DATE-TIME:" + strings.Repeat("x", 2<<20) + "\n" +
		"/seg/1.ts\n" +
		"/seg/2.ts\n"

	list, _ := Segments(text, host)
	assert.Equal(t, []string{host + "/seg/1.ts", host + "/seg/2.ts"}, list.URLs())
}

func TestSegments_Empty(t *testing.T) {
	list, name := Segments("#EXTM3U\n#EXT-X-ENDLIST\n", host)
	assert.Empty(t, list)
	assert.Empty(t, name)
}

func TestSuggestedName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"/a/b/clip_123.mp4", "clip_123"},
		{"clip.mp4", "clip"},
		{"/a/b/clip.mp4?tag=12", "clip"},
		{"/a/b/noext", "noext"},
		{"", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SuggestedName(tt.uri), "uri %q", tt.uri)
	}
}

func TestValidateMaster(t *testing.T) {
	require.NoError(t, ValidateMaster(masterWithAudio))

	err := ValidateMaster("not a valid m3u8 file")
	require.Error(t, err)
	assert.True(t, errors.Is(err, hlserr.ErrParse))

	media := `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXTINF:4.0,
/seg/1.ts
#EXT-X-ENDLIST
`
	err = ValidateMaster(media)
	require.Error(t, err)
	assert.ErrorIs(t, err, hlserr.ErrParse)
	assert.Contains(t, err.Error(), "expected master playlist")
	assert.NoError(t, ValidateMedia(media))
}
