package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	catRead := Event{Pid: 100, Tid: 101, Comm: "cat", Syscall: "read", Nr: 0}
	bashWrite := Event{Pid: 200, Tid: 200, Comm: "bash", Syscall: "write", Nr: 1}

	tests := []struct {
		name  string
		comm  string
		where string
		event Event
		want  bool
	}{
		{"empty accepts", "", "", catRead, true},
		{"comm substring", "ca", "", catRead, true},
		{"comm mismatch", "ca", "", bashWrite, false},
		{"comm case sensitive", "CAT", "", catRead, false},
		{"where on syscall", "", `syscall == "read"`, catRead, true},
		{"where on syscall mismatch", "", `syscall == "read"`, bashWrite, false},
		{"where on pid", "", `pid > 150`, bashWrite, true},
		{"where on nr", "", `nr in [0, 2]`, catRead, true},
		{"where with tid", "", `tid != pid`, catRead, true},
		{"comm and where", "bash", `syscall startsWith "wr"`, bashWrite, true},
		{"comm passes where fails", "bash", `nr == 0`, bashWrite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.comm, tt.where)
			require.NoError(t, err)

			got, err := f.Match(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_InvalidExpression(t *testing.T) {
	_, err := New("", `pid ==`)
	assert.Error(t, err)

	_, err = New("", `comm + 1`)
	assert.Error(t, err, "non-bool expressions are rejected")

	_, err = New("", `unknown_field == 1`)
	assert.Error(t, err)
}

func TestFilter_Empty(t *testing.T) {
	var nilFilter *Filter
	assert.True(t, nilFilter.Empty())

	ok, err := nilFilter.Match(Event{})
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := New("", "")
	require.NoError(t, err)
	assert.True(t, f.Empty())

	f, err = New("x", "")
	require.NoError(t, err)
	assert.False(t, f.Empty())
}
