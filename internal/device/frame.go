package device

import "github.com/pavelanni/dictation/internal/speech"

// Frame types sent to the client.
const (
	TypeSpeak         = "speak"
	TypeCancelSpeech  = "cancel_speech"
	TypeListen        = "listen"
	TypeStopListening = "stop_listening"
	TypePlayAudio     = "play_audio"
	TypeStopAudio     = "stop_audio"
	TypeNotice        = "notice"
	TypeState         = "state"
)

// Frame types received from the client.
const (
	TypeHello             = "hello"
	TypeSpeechEnd         = "speech_end"
	TypeAudioEnd          = "audio_end"
	TypeRecognitionResult = "recognition_result"
	TypeRecognitionError  = "recognition_error"
	TypeRecognitionEnd    = "recognition_end"
)

// Frame is one JSON message on the device channel. Only the fields relevant
// to Type are set.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// speak, listen
	Text  string  `json:"text,omitempty"`
	Lang  string  `json:"lang,omitempty"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`

	// play_audio; Data travels base64 encoded
	MIME string `json:"mime,omitempty"`
	Data []byte `json:"data,omitempty"`

	// notice
	Kind string `json:"kind,omitempty"`

	// speech_end, audio_end, recognition_error
	Error string `json:"error,omitempty"`

	// hello
	Voices []speech.Voice `json:"voices,omitempty"`

	// recognition_result
	Results []speech.RecognitionResult `json:"results,omitempty"`

	// state
	State any `json:"state,omitempty"`
}
