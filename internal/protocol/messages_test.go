package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lukasbauer/coach/internal/catalog"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    any
		wantErr error
	}{
		{
			name: "audio",
			raw:  `{"type":"audio_data","audio":"AAAA"}`,
			want: AudioData{Type: TypeAudioData, Audio: "AAAA"},
		},
		{
			name: "audio without payload parses",
			raw:  `{"type":"audio_data"}`,
			want: AudioData{Type: TypeAudioData},
		},
		{
			name: "reset",
			raw:  `{"type":"reset_conversation"}`,
			want: ResetConversation{Type: TypeResetConversation},
		},
		{
			name: "change config",
			raw:  `{"type":"change_config","personality":"esfj_caregiver","scenario":"custom","custom_scenario":"x"}`,
			want: ChangeConfig{Type: TypeChangeConfig, Personality: "esfj_caregiver", Scenario: "custom", CustomScenario: "x"},
		},
		{
			name: "end call",
			raw:  `{"type":"end_call"}`,
			want: EndCall{Type: TypeEndCall},
		},
		{
			name:    "unknown",
			raw:     `{"type":"dance"}`,
			wantErr: ErrUnsupportedType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClientMessage([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte("not json")); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestConfigEventFlattensSnapshot(t *testing.T) {
	b, err := json.Marshal(NewConfig(catalog.NewSnapshot()))
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, key := range []string{`"type":"config"`, `"personalities":`, `"scenarios":`, `"voice_library":`} {
		if !strings.Contains(s, key) {
			t.Errorf("config event missing %s", key)
		}
	}
}

func TestErrorOmitsEmptyCode(t *testing.T) {
	b, _ := json.Marshal(NewError("", "boom"))
	if strings.Contains(string(b), "code") {
		t.Errorf("empty code serialized: %s", b)
	}
}
