//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/runtime"
)

// IChatService is the seam between transports (websocket today, possibly
// HTTP glue tomorrow) and the broker. Anything needing to publish into the
// relay receives this service by injection; nothing reaches for a global.
type IChatService interface {
	Connect(token string, sink contract.EventSink) (domain.SessionID, string, error)
	Disconnect(sessionID domain.SessionID)
	JoinRoom(sessionID domain.SessionID, conversationID string)
	LeaveRoom(sessionID domain.SessionID, conversationID string)
	SendMessage(sessionID domain.SessionID, senderID, conversationID, text string)
	Typing(sessionID domain.SessionID, userID, conversationID string, started bool)
	MarkRead(sessionID domain.SessionID, readerID, messageID string)
	GetOrCreateConversation(userA, userB string) (domain.Conversation, error)
	ListMessages(conversationID, userID string) ([]domain.Message, error)
}

type ChatService struct {
	broker *runtime.Broker
}

func NewChatService(broker *runtime.Broker) *ChatService {
	return &ChatService{broker: broker}
}

func (s *ChatService) Connect(token string, sink contract.EventSink) (domain.SessionID, string, error) {
	return s.broker.Connect(token, sink)
}

func (s *ChatService) Disconnect(sessionID domain.SessionID) {
	s.broker.Disconnect(sessionID)
}

func (s *ChatService) JoinRoom(sessionID domain.SessionID, conversationID string) {
	s.broker.JoinConversation(sessionID, conversationID)
}

func (s *ChatService) LeaveRoom(sessionID domain.SessionID, conversationID string) {
	s.broker.LeaveConversation(sessionID, conversationID)
}

func (s *ChatService) SendMessage(sessionID domain.SessionID, senderID, conversationID, text string) {
	s.broker.SendMessage(sessionID, senderID, conversationID, text)
}

func (s *ChatService) Typing(sessionID domain.SessionID, userID, conversationID string, started bool) {
	s.broker.Typing(sessionID, userID, conversationID, started)
}

func (s *ChatService) MarkRead(sessionID domain.SessionID, readerID, messageID string) {
	s.broker.MarkRead(sessionID, readerID, messageID)
}

func (s *ChatService) GetOrCreateConversation(userA, userB string) (domain.Conversation, error) {
	return s.broker.GetOrCreateConversation(userA, userB)
}

func (s *ChatService) ListMessages(conversationID, userID string) ([]domain.Message, error) {
	return s.broker.ListMessages(conversationID, userID)
}
