package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), registers the connection, then dispatches inbound
// events:
//   - joinChat / leaveChat   -> room subscription for room-scoped events
//   - sendMessage            -> persist & fan out to all chat members
//   - markMessagesAsRead     -> advance read cursor & notify senders
//   - typing                 -> forward indicator to the chat room
func MakeHandler(
	hub *Hub,
	orch *Orchestrator,
	tokens *security.TokenService,
	users domain.UserRepository,
	allowedOrigins []string,
	logger *slog.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByID(ctx, userID)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connID := uuid.NewString()
		hub.Register(user.ID, connID, conn)
		orch.HandleConnect(ctx, user.ID, connID)
		logger.Info("ws connected", "user_id", user.ID, "conn_id", connID)
		defer func() {
			hub.Unregister(connID)
			orch.HandleDisconnect(user.ID, connID)
			logger.Info("ws disconnected", "user_id", user.ID, "conn_id", connID)
		}()

		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			eventType, _ := payload["type"].(string)
			chatID, _ := payload["chatId"].(string)

			switch eventType {

			case "joinChat":
				if chatID == "" {
					continue
				}
				if err := orch.JoinRoom(ctx, user.ID, connID, chatID); err != nil {
					hub.ToConn(connID, errorEvent("not a member of this chat"))
				}

			case "leaveChat":
				if chatID == "" {
					continue
				}
				orch.LeaveRoom(connID, chatID)

			case "sendMessage":
				content, _ := payload["content"].(string)
				contentType, _ := payload["contentType"].(string)
				fileURL, _ := payload["fileUrl"].(string)
				tempID, _ := payload["tempId"].(string)
				if chatID == "" || (content == "" && fileURL == "") {
					hub.ToConn(connID, errorEvent("sendMessage requires chatId and non-empty content or file"))
					continue
				}
				var fuPtr *string
				if fileURL != "" {
					fuPtr = &fileURL
				}
				orch.SendMessage(ctx, user.ID, connID, tempID, service.SendInput{
					ChatID:      chatID,
					Content:     content,
					ContentType: contentType,
					FileURL:     fuPtr,
				})

			case "markMessagesAsRead":
				// lastSeenMessageId may be omitted; the service then
				// acknowledges up to the chat's newest message.
				lastSeenID, _ := payload["lastSeenMessageId"].(string)
				if chatID == "" {
					hub.ToConn(connID, errorEvent("markMessagesAsRead requires chatId"))
					continue
				}
				orch.MarkRead(ctx, user.ID, connID, chatID, lastSeenID)

			case "typing":
				if chatID == "" {
					continue
				}
				isTyping, ok := payload["isTyping"].(bool)
				if !ok {
					isTyping = true
				}
				orch.Typing(ctx, user.ID, user.Name(), chatID, isTyping)

			default:
				logger.Debug("unknown ws event", "event", eventType, "user_id", user.ID)
			}
		}
	}
}
