package adapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "reportbot/internal/transport"
)

func TestMapErrorForbidden(t *testing.T) {
	cases := []error{
		tele.ErrBlockedByUser,
		tele.ErrKickedFromGroup,
		fmt.Errorf("telegram: Forbidden: bot is not a member of the channel chat (403)"),
	}
	for _, in := range cases {
		err := mapError("sendMessage", "111", in)
		assert.True(t, kit.IsForbidden(err), in.Error())

		var se *kit.SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "111", se.Target)
		assert.ErrorIs(t, err, in)
	}
}

func TestMapErrorOther(t *testing.T) {
	err := mapError("sendMessage", "111", tele.ErrChatNotFound)
	assert.False(t, kit.IsForbidden(err))

	err = mapError("sendMessage", "111", errors.New("dial tcp: connection refused"))
	assert.False(t, kit.IsForbidden(err))
	var se *kit.SendError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, se.Code)

	assert.NoError(t, mapError("sendMessage", "111", nil))
}
