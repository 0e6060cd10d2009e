package models

import "time"

// 买卖双方的会话，固定两人：一个买家 + 一个卖家
type Conversation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BuyerID   uint      `json:"buyer_id" gorm:"uniqueIndex:idx_buyer_seller"`
	SellerID  uint      `json:"seller_id" gorm:"uniqueIndex:idx_buyer_seller"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConversationWithMeta struct {
	Conversation
	PeerName    string `json:"peer_name" gorm:"column:peer_name"`
	PeerOnline  bool   `json:"peer_online" gorm:"-"`
	UnseenCount int64  `json:"unseen_count" gorm:"-"`
}
