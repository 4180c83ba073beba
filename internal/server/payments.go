package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

type createPaymentRequest struct {
	OrderID         string         `json:"order_id" binding:"required"`
	Amount          int64          `json:"amount" binding:"required"`
	Currency        string         `json:"currency" binding:"required"`
	PaymentMethodID string         `json:"payment_method_id"`
	Description     string         `json:"description"`
	Metadata        map[string]any `json:"metadata"`
	IdempotencyKey  string         `json:"idempotency_key"`
}

func (s *Server) HandleCreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = req.IdempotencyKey
	}

	payment, err := s.paymentSvc.Create(c.Request.Context(), paymentdomain.CreatePaymentRequest{
		OrderID:         req.OrderID,
		UserID:          userID(c),
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodID,
		Description:     req.Description,
		Metadata:        req.Metadata,
		IdempotencyKey:  key,
		Token:           bearerToken(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (s *Server) HandleGetPayment(c *gin.Context) {
	id, err := paymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ownedBy(c, payment) {
		AbortWithError(c, paymentdomain.ErrForbidden)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (s *Server) HandleProcessPayment(c *gin.Context) {
	id, err := paymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.Process(c.Request.Context(), id, bearerToken(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

type cancelPaymentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) HandleCancelPayment(c *gin.Context) {
	id, err := paymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelPaymentRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := s.paymentSvc.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (s *Server) HandleListTransactions(c *gin.Context) {
	id, err := paymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions, err := s.paymentSvc.Transactions(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func paymentID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return 0, paymentdomain.ErrPaymentNotFound
	}
	return id, nil
}

// ownedBy enforces ownership when the gateway asserted a caller identity.
func ownedBy(c *gin.Context, payment *paymentdomain.Payment) bool {
	caller := userID(c)
	return caller == "" || caller == payment.UserID
}

type listPaymentsQuery struct {
	OrderID string `form:"order_id"`
	Status  string `form:"status"`
	Limit   int    `form:"limit"`
}

// HandleListPayments lists the caller's payments, newest first.
func (s *Server) HandleListPayments(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payments, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListPaymentsFilter{
		UserID:  userID(c),
		OrderID: query.OrderID,
		Status:  paymentdomain.Status(strings.ToLower(strings.TrimSpace(query.Status))),
		Limit:   query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}
