package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	got := make([]string, 200)
	for i := range got {
		got[i] = New()
	}
	assert.True(t, sort.StringsAreSorted(got))
	assert.Len(t, got[0], 26)
}

func TestTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	ts, err := Time(NewAt(at).String())
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
