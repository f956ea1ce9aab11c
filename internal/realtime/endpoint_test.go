package realtime

import (
	"testing"

	"github.com/pkg/errors"
)

func TestChatEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		id      string
		token   string
		want    string
		wantErr bool
	}{
		{"default host", "", "42", "abc", "ws://localhost:8000/ws/support/chat/42/?token=abc", false},
		{"http base drops api path", "http://bank.test:8000/api", "42", "abc", "ws://bank.test:8000/ws/support/chat/42/?token=abc", false},
		{"https becomes wss", "https://bank.example.com/api/", "7", "abc", "wss://bank.example.com/ws/support/chat/7/?token=abc", false},
		{"bare host", "bank.test:9000", "7", "abc", "ws://bank.test:9000/ws/support/chat/7/?token=abc", false},
		{"token is escaped", "", "7", "a b&c=d", "ws://localhost:8000/ws/support/chat/7/?token=a+b%26c%3Dd", false},
		{"no token", "", "7", "", "ws://localhost:8000/ws/support/chat/7/", false},
		{"empty id", "", "", "abc", "", true},
		{"zero id", "", "0", "abc", "", true},
		{"negative id", "", "-1", "abc", "", true},
		{"path injection", "", "1/../2", "abc", "", true},
		{"hostless base", "http:///api", "1", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChatEndpoint(tt.base, tt.id, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ChatEndpoint() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChatEndpoint(): %v", err)
			}
			if got != tt.want {
				t.Errorf("ChatEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	got, err := NotificationsEndpoint("https://bank.example.com/api", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if want := "wss://bank.example.com/ws/notifications/?token=tok"; got != want {
		t.Errorf("NotificationsEndpoint() = %q, want %q", got, want)
	}
}

func TestValidateConversationID(t *testing.T) {
	for _, id := range []string{"1", "42", "ticket-7"} {
		if err := ValidateConversationID(id); err != nil {
			t.Errorf("ValidateConversationID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", " ", "0", "-9", "a?b", "a#b"} {
		if err := ValidateConversationID(id); !errors.Is(err, ErrInvalidConversation) {
			t.Errorf("ValidateConversationID(%q) = %v, want ErrInvalidConversation", id, err)
		}
	}
}
