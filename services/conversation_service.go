package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
	"github.com/khiemvuong/e-commerce-saas-sub002/redis"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrSamePeerRole         = errors.New("conversation requires one buyer and one seller")
)

type CreateConversationDTO struct {
	PeerID uint `json:"peer_id" validate:"required"`
}

// ConversationService 会话读侧：列表、历史分页、已读清零。
// 消息本体由持久化 worker 落库，这里只读
type ConversationService struct {
	db  *gorm.DB
	rdb *redis.RedisClient
}

func NewConversationService(db *gorm.DB, rdb *redis.RedisClient) *ConversationService {
	return &ConversationService{db: db, rdb: rdb}
}

// CreateOrGetConversation 懒创建会话，买卖双方各一人
func (s *ConversationService) CreateOrGetConversation(caller *models.User, peerID uint) (*models.Conversation, error) {
	var peer models.User
	if err := s.db.First(&peer, peerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("peer not found")
		}
		return nil, err
	}
	if peer.Type == caller.Type {
		return nil, ErrSamePeerRole
	}

	buyerID, sellerID := caller.ID, peer.ID
	if caller.Type == models.RoleSeller {
		buyerID, sellerID = peer.ID, caller.ID
	}

	var conv models.Conversation
	err := s.db.Where("buyer_id = ? AND seller_id = ?", buyerID, sellerID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv = models.Conversation{BuyerID: buyerID, SellerID: sellerID}
		if err := s.db.Create(&conv).Error; err != nil {
			return nil, err
		}
		return &conv, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations 按角色取会话列表，标注对端在线状态和持久未读数
func (s *ConversationService) ListConversations(ctx context.Context, caller *models.User) ([]models.ConversationWithMeta, error) {
	peerSide := "conversations.seller_id"
	ownSide := "conversations.buyer_id"
	if caller.Type == models.RoleSeller {
		peerSide, ownSide = ownSide, peerSide
	}

	var results []models.ConversationWithMeta
	err := s.db.Table("conversations").
		Select("conversations.*, users.username AS peer_name").
		Joins(fmt.Sprintf("LEFT JOIN users ON users.id = %s", peerSide)).
		Where(fmt.Sprintf("%s = ?", ownSide), caller.ID).
		Order("conversations.updated_at DESC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	peerRole := models.OppositeRole(caller.Type)
	for i := range results {
		convID := fmt.Sprint(results[i].ID)

		count, err := s.rdb.UnseenCount(ctx, caller.Type, convID)
		if err == nil {
			results[i].UnseenCount = count
		}

		peerID := results[i].SellerID
		if caller.Type == models.RoleSeller {
			peerID = results[i].BuyerID
		}
		online, err := s.rdb.IsOnline(ctx, peerRole, fmt.Sprint(peerID))
		if err == nil {
			results[i].PeerOnline = online
		}
	}
	return results, nil
}

// GetMessages 按发送顺序分页拉历史，批量落库保证了会话内的相对顺序
func (s *ConversationService) GetMessages(caller *models.User, conversationID string, limit, offset int) ([]models.ChatMessage, error) {
	if _, err := s.requireParticipant(caller, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var messages []models.ChatMessage
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkConversationSeen 清掉调用方角色在该会话的持久未读数
func (s *ConversationService) MarkConversationSeen(ctx context.Context, caller *models.User, conversationID string) error {
	if _, err := s.requireParticipant(caller, conversationID); err != nil {
		return err
	}
	return s.rdb.ClearUnseen(ctx, caller.Type, conversationID)
}

func (s *ConversationService) requireParticipant(caller *models.User, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.BuyerID != caller.ID && conv.SellerID != caller.ID {
		return nil, ErrNotParticipant
	}
	return &conv, nil
}
