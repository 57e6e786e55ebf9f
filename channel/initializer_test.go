// File: channel/initializer_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/transport/embedded"
)

func TestInitializer_InstallsAndRemovesItself(t *testing.T) {
	var recs []*recorder
	initializer := channel.NewInitializer(func(ch *channel.Channel) error {
		r := &recorder{}
		recs = append(recs, r)
		return ch.Pipeline().AddLast("rec", r).Cause()
	})

	// shared by two channels
	for i := 0; i < 2; i++ {
		ch, err := embedded.New(initializer)
		require.NoError(t, err)
		assert.Equal(t, []string{"rec"}, ch.Pipeline().Names())
		require.Len(t, recs, i+1)
		assert.Equal(t, []string{"registered", "active"}, recs[i].events,
			"installed handlers see the registration")
		require.NoError(t, ch.FinishAndReleaseAll())
	}
}

func TestInitializer_AddedAfterRegistration(t *testing.T) {
	ch, err := embedded.New()
	require.NoError(t, err)

	calls := 0
	initializer := channel.NewInitializer(func(ch *channel.Channel) error {
		calls++
		return ch.Pipeline().AddLast("late", &sink{}).Cause()
	})
	require.NoError(t, ch.Pipeline().AddLast("init", initializer).Cause())
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"late"}, ch.Pipeline().Names())
}

func TestInitializer_FailureClosesChannel(t *testing.T) {
	boom := errors.New("bad config")
	ch, err := embedded.New(channel.NewInitializer(func(*channel.Channel) error { return boom }))
	require.NoError(t, err)
	assert.ErrorIs(t, ch.CheckException(), boom)
	assert.False(t, ch.IsOpen())
}
