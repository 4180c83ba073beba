package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	refunddomain "github.com/smallbiznis/payrail/internal/payment/refund/domain"
)

type createRefundRequest struct {
	PaymentID string         `json:"payment_id" binding:"required"`
	Amount    int64          `json:"amount"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) HandleCreateRefund(c *gin.Context) {
	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(req.PaymentID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	refund, err := s.refundSvc.Create(c.Request.Context(), refunddomain.CreateRefundRequest{
		PaymentID: paymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
		Token:     bearerToken(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, refund)
}

func (s *Server) HandleGetRefund(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, refunddomain.ErrRefundNotFound)
		return
	}

	refund, err := s.refundSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

func (s *Server) HandleListRefunds(c *gin.Context) {
	id, err := paymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	refunds, err := s.refundSvc.ListByPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}
