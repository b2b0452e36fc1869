package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	audiomock "github.com/MrWong99/luna/pkg/audio/mock"
	"github.com/MrWong99/luna/pkg/provider/tts"
	ttsmock "github.com/MrWong99/luna/pkg/provider/tts/mock"
)

const waitTimeout = 2 * time.Second

func newPlayer(t *testing.T) (*Player, *ttsmock.Provider, *audiomock.Output) {
	t.Helper()
	synth := &ttsmock.Provider{
		SynthesizeResult: &tts.Speech{Audio: []byte("ID3 mp3 bytes"), ContentType: "audio/mpeg"},
	}
	out := &audiomock.Output{}
	return New(synth, out), synth, out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func nextEvent(t *testing.T, p *Player) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for playback event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, p *Player) {
	t.Helper()
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSpeak_BlankTextIsNoop(t *testing.T) {
	p, synth, _ := newPlayer(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		if p.Speak(context.Background(), text, "v1") {
			t.Errorf("Speak(%q) = true, want false", text)
		}
	}
	if p.Speaking() {
		t.Error("Speaking() = true after blank Speak")
	}
	if len(synth.Calls()) != 0 {
		t.Error("blank text reached the synthesizer")
	}
}

func TestSpeak_UnavailableIsNoop(t *testing.T) {
	synth := &ttsmock.Provider{}
	for name, p := range map[string]*Player{
		"no output":      New(synth, nil),
		"no synthesizer": New(nil, &audiomock.Output{}),
	} {
		if p.Available() {
			t.Errorf("%s: Available() = true", name)
		}
		if p.Speak(context.Background(), "hello", "v1") {
			t.Errorf("%s: Speak = true, want false", name)
		}
	}
	if len(synth.Calls()) != 0 {
		t.Error("unavailable player reached the synthesizer")
	}
}

func TestSpeak_PlaysToCompletion(t *testing.T) {
	p, synth, out := newPlayer(t)

	if !p.Speak(context.Background(), "  Hello there  ", "NLl76XZRVj1RVeXptX3h") {
		t.Fatal("Speak returned false")
	}
	if !p.Speaking() {
		t.Fatal("Speaking() must be true right after Speak")
	}

	waitUntil(t, func() bool { return out.Started() == 1 })
	calls := synth.Calls()
	if calls[0].Request.Text != "Hello there" || calls[0].Request.VoiceID != "NLl76XZRVj1RVeXptX3h" {
		t.Errorf("request = %+v", calls[0].Request)
	}
	if out.Clips[0].ContentType != "audio/mpeg" {
		t.Errorf("clip content type = %q", out.Clips[0].ContentType)
	}
	if !p.Speaking() {
		t.Error("Speaking() = false during playback")
	}

	out.Last().Finish(nil)
	ev := nextEvent(t, p)
	if ev.Kind != EventFinished || ev.Generation != p.Generation() {
		t.Fatalf("event = %+v", ev)
	}
	if p.Speaking() {
		t.Error("Speaking() = true after finish")
	}
	if out.Active() != 0 {
		t.Errorf("active handles = %d, want 0", out.Active())
	}
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	p, synth, out := newPlayer(t)
	synth.SynthesizeErr = &tts.StatusError{StatusCode: 401, Body: `{"detail":"invalid_api_key"}`}

	p.Speak(context.Background(), "hello", "v1")
	ev := nextEvent(t, p)
	if ev.Kind != EventFailed {
		t.Fatalf("kind = %v, want failed", ev.Kind)
	}
	if !errors.Is(ev.Err, ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", ev.Err)
	}
	var se *SynthesisError
	if !errors.As(ev.Err, &se) || se.StatusCode != 401 {
		t.Fatalf("SynthesisError = %+v, want StatusCode 401", se)
	}
	if se.Error() != "playback: synthesis failed: HTTP 401" {
		t.Errorf("Error() = %q", se.Error())
	}
	if p.Speaking() {
		t.Error("Speaking() = true after failure")
	}
	if out.Started() != 0 {
		t.Error("audio must not be acquired after a failed request")
	}
}

func TestSpeak_TransportFailureHasNoStatus(t *testing.T) {
	p, synth, _ := newPlayer(t)
	synth.SynthesizeErr = errors.New("dial tcp: no route to host")

	p.Speak(context.Background(), "hello", "v1")
	ev := nextEvent(t, p)
	var se *SynthesisError
	if !errors.As(ev.Err, &se) || se.StatusCode != 0 {
		t.Fatalf("err = %v, want SynthesisError without status", ev.Err)
	}
}

func TestSpeak_PlaybackStartFailure(t *testing.T) {
	p, _, out := newPlayer(t)
	out.PlayErr = errors.New("mp3: invalid frame header")

	p.Speak(context.Background(), "hello", "v1")
	ev := nextEvent(t, p)
	if ev.Kind != EventFailed || !errors.Is(ev.Err, ErrPlaybackFailed) {
		t.Fatalf("event = %+v, want playback failure", ev)
	}
	if p.Speaking() {
		t.Error("Speaking() = true after failure")
	}
}

func TestSpeak_PlaybackErrorMidway(t *testing.T) {
	p, _, out := newPlayer(t)

	p.Speak(context.Background(), "hello", "v1")
	waitUntil(t, func() bool { return out.Started() == 1 })
	out.Last().Finish(errors.New("device lost"))

	ev := nextEvent(t, p)
	if ev.Kind != EventFailed || !errors.Is(ev.Err, ErrPlaybackFailed) {
		t.Fatalf("event = %+v, want playback failure", ev)
	}
	if out.Active() != 0 {
		t.Errorf("active handles = %d, want 0", out.Active())
	}
}

func TestSpeak_LastCallWins(t *testing.T) {
	p, synth, out := newPlayer(t)

	p.Speak(context.Background(), "first", "v1")
	waitUntil(t, func() bool { return out.Started() == 1 })
	first := out.Last()

	p.Speak(context.Background(), "second", "v1")
	if !first.Stopped() {
		t.Fatal("previous handle was not stopped before the new request")
	}
	waitUntil(t, func() bool { return out.Started() == 2 })
	if out.Active() != 1 {
		t.Fatalf("active handles = %d, want exactly 1", out.Active())
	}

	out.Last().Finish(nil)
	ev := nextEvent(t, p)
	if ev.Kind != EventFinished || ev.Generation != p.Generation() {
		t.Fatalf("event = %+v, want finish of the latest generation", ev)
	}
	assertNoEvent(t, p)
	if got := len(synth.Calls()); got != 2 {
		t.Errorf("synth calls = %d, want 2", got)
	}
}

func TestSpeak_SupersededRequestIsDropped(t *testing.T) {
	p, synth, out := newPlayer(t)
	gate := make(chan struct{})
	synth.Gate = gate

	p.Speak(context.Background(), "slow", "v1")
	waitUntil(t, func() bool { return len(synth.Calls()) == 1 })
	firstCtx := synth.Calls()[0].Ctx

	p.Speak(context.Background(), "fast", "v1")
	if firstCtx.Err() == nil {
		t.Fatal("superseded request was not cancelled")
	}
	waitUntil(t, func() bool { return len(synth.Calls()) == 2 })
	close(gate)

	waitUntil(t, func() bool { return out.Started() == 1 })
	out.Last().Finish(nil)
	if ev := nextEvent(t, p); ev.Kind != EventFinished {
		t.Fatalf("event = %+v", ev)
	}
	assertNoEvent(t, p)
	if out.Started() != 1 {
		t.Errorf("playbacks started = %d, want 1", out.Started())
	}
}

func TestStop_Idempotent(t *testing.T) {
	p, _, out := newPlayer(t)
	p.Stop()

	p.Speak(context.Background(), "hello", "v1")
	waitUntil(t, func() bool { return out.Started() == 1 })

	p.Stop()
	p.Stop()

	if p.Speaking() {
		t.Error("Speaking() = true after Stop")
	}
	if !out.Last().Stopped() {
		t.Error("handle not stopped")
	}
	if out.Active() != 0 {
		t.Errorf("active handles = %d, want 0", out.Active())
	}
	assertNoEvent(t, p)
}

func TestStop_CancelsPendingRequest(t *testing.T) {
	p, synth, out := newPlayer(t)
	synth.Gate = make(chan struct{})

	p.Speak(context.Background(), "hello", "v1")
	waitUntil(t, func() bool { return len(synth.Calls()) == 1 })
	p.Stop()

	if synth.Calls()[0].Ctx.Err() == nil {
		t.Fatal("request context not cancelled by Stop")
	}
	assertNoEvent(t, p)
	if out.Started() != 0 {
		t.Error("audio acquired after Stop")
	}
}

func TestSynthesisError_Is(t *testing.T) {
	err := error(&SynthesisError{StatusCode: 500})
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Error("SynthesisError does not match ErrSynthesisFailed")
	}
	if errors.Is(err, ErrPlaybackFailed) {
		t.Error("SynthesisError must not match ErrPlaybackFailed")
	}
}
