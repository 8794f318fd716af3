package variant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"1920x1080", Resolution{1920, 1080}, false},
		{"640x360", Resolution{640, 360}, false},
		{"1920", Resolution{}, true},
		{"x1080", Resolution{}, true},
		{"1920xabc", Resolution{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestNewSet_SortsByAreaDescending(t *testing.T) {
	set := NewSet([]*Variant{
		{Resolution: Resolution{1920, 1080}, VideoURL: "a"},
		{Resolution: Resolution{640, 360}, VideoURL: "b"},
		{Resolution: Resolution{1280, 720}, VideoURL: "c"},
	})

	var got []string
	for _, v := range set.Variants {
		got = append(got, v.Resolution.String())
	}
	assert.Equal(t, []string{"1920x1080", "1280x720", "640x360"}, got)
}

func TestSet_SortKeepsTieOrder(t *testing.T) {
	set := NewSet([]*Variant{
		{Resolution: Resolution{720, 1280}, VideoURL: "portrait"},
		{Resolution: Resolution{1280, 720}, VideoURL: "landscape"},
		{Resolution: Resolution{1920, 1080}, VideoURL: "big"},
	})

	assert.Equal(t, "big", set.Variants[0].VideoURL)
	assert.Equal(t, "portrait", set.Variants[1].VideoURL)
	assert.Equal(t, "landscape", set.Variants[2].VideoURL)
}

func TestSet_At(t *testing.T) {
	set := NewSet([]*Variant{{Resolution: Resolution{1, 1}, VideoURL: "a"}})

	v, err := set.At(0)
	require.NoError(t, err)
	assert.Equal(t, "a", v.VideoURL)

	_, err = set.At(1)
	assert.Error(t, err)
	_, err = set.At(-1)
	assert.Error(t, err)
}

func TestVariant_HasAudio(t *testing.T) {
	assert.False(t, (&Variant{VideoURL: "v"}).HasAudio())
	assert.True(t, (&Variant{VideoURL: "v", AudioURL: "a"}).HasAudio())
}

func TestVariant_AcquireHonorsContext(t *testing.T) {
	v := &Variant{VideoURL: "v"}
	require.NoError(t, v.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, v.Acquire(ctx), context.DeadlineExceeded)

	v.Release()
	require.NoError(t, v.Acquire(context.Background()))
	v.Release()

	done, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, v.Acquire(done), context.Canceled)
	require.NoError(t, v.Acquire(context.Background()), "a failed acquire must not hold the variant")
	v.Release()
}
