package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler drives one attempt session per websocket connection.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type restorePayload struct {
	Restore bool `json:"restore"`
}

type draftPayload struct {
	QuestionIndex int      `json:"questionIndex"`
	OptionID      string   `json:"optionId"`
	OptionIDs     []string `json:"optionIds"`
	Ordering      []string `json:"ordering"`
	Text          string   `json:"text"`
}

type resultPayload struct {
	Score         int   `json:"score"`
	Passed        *bool `json:"passed,omitempty"`
	PendingReview bool  `json:"pendingReview"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the connection into a session.
// Inbound: restore, draft, next, previous, submit, cancel.
// Outbound: state, question, result, error.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	testID := r.URL.Query().Get("testId")
	eventID := r.URL.Query().Get("eventId")
	attemptID := r.URL.Query().Get("attemptId")
	if userID == "" || testID == "" {
		http.Error(w, "missing userId or testId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.service.Begin(r.Context(), userID, testID, eventID, attemptID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer session.Cancel()

	updates, cancelWatch := session.Watch()
	defer cancelWatch()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: snap}:
				case <-closeSignals:
					return
				}
				if snap.Phase == app.PhaseCompleted {
					score := 0
					if snap.Score != nil {
						score = *snap.Score
					}
					select {
					case send <- outboundMessage[any]{Type: "result", Payload: resultPayload{
						Score:         score,
						Passed:        snap.Passed,
						PendingReview: snap.PendingReview,
					}}:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.pushQuestion(session, send)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if done := h.dispatch(r, session, inbound, send); done {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch handles a single inbound message; true means the connection is done.
func (h *WSHandler) dispatch(r *http.Request, session *app.Session, inbound inboundMessage, send chan outboundMessage[any]) bool {
	switch inbound.Type {
	case "restore":
		var payload restorePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			sendError(send, "invalid restore payload")
			return false
		}
		if err := session.ChooseRestore(r.Context(), payload.Restore); err != nil {
			sendError(send, err.Error())
			return false
		}
		h.pushQuestion(session, send)
	case "draft":
		var payload draftPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			sendError(send, "invalid draft payload")
			return false
		}
		err := session.SetDraft(payload.QuestionIndex, domain.Answer{
			OptionID:  payload.OptionID,
			OptionIDs: payload.OptionIDs,
			Ordering:  payload.Ordering,
			Text:      payload.Text,
		})
		if err != nil {
			sendError(send, err.Error())
		}
	case "next":
		if err := session.Next(r.Context()); err != nil {
			sendError(send, err.Error())
			return false
		}
		h.pushQuestion(session, send)
	case "previous":
		if err := session.Previous(r.Context()); err != nil {
			sendError(send, err.Error())
			return false
		}
		h.pushQuestion(session, send)
	case "submit":
		if _, err := session.Submit(r.Context()); err != nil {
			sendError(send, err.Error())
		}
	case "cancel":
		return true
	default:
		sendError(send, "unsupported message type")
	}
	return false
}

// pushQuestion sends the currently displayed question, if there is one.
func (h *WSHandler) pushQuestion(session *app.Session, send chan outboundMessage[any]) {
	view, err := session.CurrentQuestion()
	if err != nil {
		// Not in progress yet (restore pending) or already finished.
		if errors.Is(err, domain.ErrRestorePending) || errors.Is(err, domain.ErrAlreadyCompleted) {
			return
		}
		sendError(send, err.Error())
		return
	}
	send <- outboundMessage[any]{Type: "question", Payload: view}
}

func sendError(send chan outboundMessage[any], message string) {
	send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}
