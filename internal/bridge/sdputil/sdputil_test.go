package sdputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioAnswer() string {
	return strings.Join([]string{
		"v=0",
		"o=- 1747380000 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=setup:actpass",
		"a=mid:0",
		"a=ice-ufrag:someufrag",
		"a=ice-pwd:somelongpassword",
		"a=rtpmap:111 opus/48000/2",
		"",
	}, "\r\n")
}

func TestRewriteSetupActive(t *testing.T) {
	in := audioAnswer()

	out, err := RewriteSetupActive(in)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "a=setup:active"))
	assert.NotContains(t, out, "a=setup:actpass")

	// Nothing but the setup attribute may change.
	restored := strings.Replace(out, "a=setup:active", "a=setup:actpass", 1)
	assert.Equal(t, in, restored)
}

func TestRewriteSetupActiveRewritesOnlyFirst(t *testing.T) {
	in := audioAnswer() + "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=setup:actpass\r\na=mid:1\r\n"

	out, err := RewriteSetupActive(in)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "a=setup:active"))
	assert.Equal(t, 1, strings.Count(out, "a=setup:actpass"))
}

func TestRewriteSetupActiveMissingAttribute(t *testing.T) {
	in := strings.ReplaceAll(audioAnswer(), "a=setup:actpass\r\n", "")

	_, err := RewriteSetupActive(in)
	assert.ErrorIs(t, err, ErrNoActPass)
}

func TestRewriteSetupActiveRejectsGarbage(t *testing.T) {
	_, err := RewriteSetupActive("not an sdp")
	assert.Error(t, err)
}

func TestHasAudio(t *testing.T) {
	assert.True(t, HasAudio(audioAnswer()))
	assert.False(t, HasAudio("not an sdp"))

	video := strings.ReplaceAll(audioAnswer(), "m=audio", "m=video")
	assert.False(t, HasAudio(video))
}
