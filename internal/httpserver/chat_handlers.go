package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
	"github.com/Alireza-Koohzad/Nova-chat/internal/ws"
)

type chatSummaryResponse struct {
	Chat        *domain.Chat    `json:"chat"`
	Members     []*domain.User  `json:"members"`
	LastMessage *domain.Message `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount"`
}

func handleListChats(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		summaries, err := chatSvc.ListForUser(r.Context(), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		res := make([]chatSummaryResponse, 0, len(summaries))
		for _, s := range summaries {
			res = append(res, chatSummaryResponse{
				Chat:        s.Chat,
				Members:     s.Members,
				LastMessage: s.LastMessage,
				UnreadCount: s.UnreadCount,
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		chat, err := chatSvc.GetChat(r.Context(), chi.URLParam(r, "chatID"), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

func handleCreatePrivateChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		chat, created, err := chatSvc.CreatePrivateChat(r.Context(), user.ID, chi.URLParam(r, "recipientID"))
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, chat)
	}
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

func handleCreateGroup(memberSvc *service.MembershipService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		user := CurrentUser(r)
		chat, memberIDs, err := memberSvc.CreateGroup(r.Context(), user.ID, service.CreateGroupInput{
			Name:      req.Name,
			MemberIDs: req.MemberIDs,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"chat":      chat,
			"memberIds": memberIDs,
		})
	}
}

func handleListMessages(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		msgs, err := chatSvc.Messages(r.Context(), chi.URLParam(r, "chatID"), user.ID, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		// Stored newest-first for paging; clients want chronological order.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type memberResponse struct {
	User     *domain.User `json:"user"`
	Role     string       `json:"role"`
	JoinedAt time.Time    `json:"joinedAt"`
}

func handleListMembers(memberSvc *service.MembershipService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		roster, err := memberSvc.Roster(r.Context(), chi.URLParam(r, "chatID"), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		res := make([]memberResponse, 0, len(roster))
		for _, m := range roster {
			res = append(res, memberResponse{
				User:     m.User,
				Role:     m.Member.Role,
				JoinedAt: m.Member.JoinedAt,
			})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

func handleAddMember(memberSvc *service.MembershipService, orch *ws.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		user := CurrentUser(r)
		change, err := memberSvc.AddMember(r.Context(), user.ID, chi.URLParam(r, "chatID"), req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		orch.BroadcastMembershipChange(ws.EventMemberAdded, change)
		writeJSON(w, http.StatusCreated, map[string]any{
			"chatId":    change.Chat.ID,
			"userId":    change.TargetID,
			"memberIds": change.MemberIDs,
		})
	}
}

func handleRemoveMember(memberSvc *service.MembershipService, orch *ws.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		change, err := memberSvc.RemoveMember(r.Context(), user.ID, chi.URLParam(r, "chatID"), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		orch.BroadcastMembershipChange(ws.EventMemberRemoved, change)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLeaveChat(memberSvc *service.MembershipService, orch *ws.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		change, err := memberSvc.Leave(r.Context(), user.ID, chi.URLParam(r, "chatID"))
		if err != nil {
			writeError(w, err)
			return
		}
		orch.BroadcastMembershipChange(ws.EventMemberLeft, change)
		writeJSON(w, http.StatusOK, map[string]any{
			"chatId":      change.Chat.ID,
			"chatDeleted": change.ChatDeleted,
			"promoted":    change.PromotedUserID,
		})
	}
}
