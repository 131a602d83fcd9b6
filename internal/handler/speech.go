package handler

import (
	"strings"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

const maxSpeechLength = 500

func parseVolume(v string) (world.SpeechVolume, bool) {
	switch v {
	case "", "normal":
		return world.VolumeNormal, true
	case "whisper":
		return world.VolumeWhisper, true
	case "shout":
		return world.VolumeShout, true
	default:
		return world.VolumeNormal, false
	}
}

// HandleSpeak buffers an utterance for the next perception flush. Directed
// speech at a resident who answered within the conversation window keeps a
// conversation live, which slows both parties' need decay.
func HandleSpeak(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.SpeakMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" || len(text) > maxSpeechLength {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	volume, okVol := parseVolume(msg.Volume)
	if !okVol {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	var target *world.Resident
	if msg.To != "" {
		target = d.World.ByPassport(msg.To)
		if target == nil || target.Status != world.StatusAlive {
			fail(sess, req.RequestID, protocol.ReasonUnknownResident)
			return
		}
	}

	if !debitEnergy(sess, req, r, energyCostSpeak) {
		return
	}

	now := d.World.Clock.Now()
	act := world.SpeechAct{
		Speaker:     r.ID,
		SpeakerName: r.PreferredName,
		Text:        text,
		Volume:      volume,
		X:           r.X,
		Y:           r.Y,
		WorldTime:   now,
	}
	if target != nil {
		act.To = target.ID
		window := d.Config.Needs.ConversationWindow
		r.ConvPartner = target.ID
		r.ConvExpires = now + window
		// A reply within the window makes the exchange a live conversation
		// for both sides.
		if target.ConvPartner == r.ID && now < target.ConvExpires {
			target.ConvExpires = now + window
		}
	}
	d.World.AddSpeech(act)

	event(d, r, "speak", map[string]any{
		"text":   text,
		"volume": string(volume),
		"to":     msg.To,
	})
	ok(sess, req.RequestID, nil)
}
