package cart

import (
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"
)

// NoticeKind classifies a non-fatal, user-visible cart message.
type NoticeKind string

const (
	NoticeClamped       NoticeKind = "clamped"
	NoticeCouponInvalid NoticeKind = "coupon_invalid"
	NoticeLineDropped   NoticeKind = "line_dropped"
)

// Notice is a warning attached to a cart operation
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Key     string     `json:"key,omitempty"`
	Message string     `json:"message"`
}

func clampNotice(key models.LineKey, requested, capacity int) Notice {
	util.CartClampsTotal.Inc()
	return Notice{
		Kind:    NoticeClamped,
		Key:     key.String(),
		Message: fmt.Sprintf("only %d available, requested %d", capacity, requested),
	}
}

func couponNotice() Notice {
	return Notice{Kind: NoticeCouponInvalid, Message: "invalid or expired coupon"}
}

func droppedNotice(key models.LineKey) Notice {
	return Notice{Kind: NoticeLineDropped, Key: key.String(), Message: "product no longer available"}
}

func lapsedNotice(key models.LineKey) Notice {
	return Notice{Kind: NoticeLineDropped, Key: key.String(), Message: "reservation expired and the stock is gone"}
}
