package realtime

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultHost is used when no API base URL is configured.
const DefaultHost = "localhost:8000"

// ErrInvalidConversation is returned by Open for ids that cannot name a
// previously created conversation.
var ErrInvalidConversation = errors.New("realtime: invalid conversation id")

// Channel selects which socket endpoint a Manager binds to.
type Channel int

const (
	ChannelSupportChat Channel = iota
	ChannelNotifications
)

// ValidateConversationID rejects empty ids and non-positive numeric ids.
func ValidateConversationID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.Wrap(ErrInvalidConversation, "empty")
	}
	if strings.ContainsAny(id, "/?#") {
		return errors.Wrapf(ErrInvalidConversation, "%q", id)
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n <= 0 {
		return errors.Wrapf(ErrInvalidConversation, "%q", id)
	}
	return nil
}

// ChatEndpoint returns the support chat socket URL for conversationID:
// {ws|wss}://{host}/ws/support/chat/{id}/?token={token}.
func ChatEndpoint(apiBase, conversationID, token string) (string, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return "", err
	}
	return socketURL(apiBase, "/ws/support/chat/"+strings.TrimSpace(conversationID)+"/", token)
}

// NotificationsEndpoint returns the notification socket URL.
func NotificationsEndpoint(apiBase, token string) (string, error) {
	return socketURL(apiBase, "/ws/notifications/", token)
}

// socketURL derives the socket scheme and host from the API base URL. The
// base URL's own path (e.g. "/api") is not part of the socket path.
func socketURL(apiBase, path, token string) (string, error) {
	scheme, host := "ws", DefaultHost
	if base := strings.TrimSpace(apiBase); base != "" {
		if !strings.Contains(base, "://") {
			base = "http://" + base
		}
		u, err := url.Parse(base)
		if err != nil {
			return "", errors.Wrapf(err, "parse api base url %q", apiBase)
		}
		if u.Host == "" {
			return "", errors.Errorf("api base url %q has no host", apiBase)
		}
		host = u.Host
		if u.Scheme == "https" || u.Scheme == "wss" {
			scheme = "wss"
		}
	}

	u := url.URL{Scheme: scheme, Host: host, Path: path}
	if token != "" {
		u.RawQuery = url.Values{"token": []string{token}}.Encode()
	}
	return u.String(), nil
}
