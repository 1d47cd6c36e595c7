package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gw/options-chain/internal/orders"
)

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestLimit)
}

func (s *Server) connect(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.sess.Connect(ctx); err != nil {
		s.log.Warnw("connect failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "connected": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connected": s.sess.Connected()})
}

func (s *Server) disconnect(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.sess.Disconnect(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Disconnected"})
}

func (s *Server) options(c *gin.Context) {
	p := s.sess.Snapshot()
	code := http.StatusOK
	if p.Error != "" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, p)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Status())
}

func (s *Server) placeSingle(c *gin.Context) {
	var req orders.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, fmt.Sprintf("invalid body: %v", err))
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	id, err := s.ledger.PlaceSingle(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orderId": id})
}

func (s *Server) placeMultiLeg(c *gin.Context) {
	var req orders.MultiLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if len(req.Legs) == 0 {
		s.badRequest(c, "legs must not be empty")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	res, err := s.ledger.PlaceMultiLeg(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	children := res.ChildIDs
	if children == nil {
		children = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orderId": res.OrderID, "childIds": children})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.ledger.Cancel(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("Order %d cancellation requested", id)})
}

func (s *Server) orderStatus(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	rep, err := s.ledger.Status(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"orderId":   rep.OrderID,
		"status":    rep.Status,
		"filled":    rep.Filled,
		"remaining": rep.Remaining,
	})
}

func (s *Server) orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{
			Error:   "OrderNotFound",
			Message: fmt.Sprintf("order %q not found", c.Param("id")),
		})
		return 0, false
	}
	return id, true
}
