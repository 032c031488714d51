// Package sdputil contains the small amount of SDP inspection and
// rewriting the bridge performs on engine-produced descriptions.
package sdputil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	setupActPass = "a=setup:actpass"
	setupActive  = "a=setup:active"
)

// ErrNoActPass is returned when an answer carries no actpass setup
// attribute to rewrite.
var ErrNoActPass = errors.New("no actpass setup attribute in answer")

// RewriteSetupActive rewrites the first (and only expected) occurrence of
// the DTLS role attribute "setup:actpass" to "setup:active". The provider
// requires the bridge to take the active transport role. No other byte of
// the description is touched.
func RewriteSetupActive(answer string) (string, error) {
	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(answer)); err != nil {
		return "", fmt.Errorf("parse answer: %w", err)
	}

	if !strings.Contains(answer, setupActPass) {
		return "", ErrNoActPass
	}

	return strings.Replace(answer, setupActPass, setupActive, 1), nil
}

// HasAudio reports whether the description carries at least one audio
// media section.
func HasAudio(raw string) bool {
	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return false
	}
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			return true
		}
	}
	return false
}
