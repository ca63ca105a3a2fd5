package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"kawadi-core/internal/handler/response"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
	"kawadi-core/pkg/validator"
)

// pathID reads a positive numeric path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, errno.ErrValidation.WithMessage(name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return false
	}
	return true
}

// parseMoney reads an amount already checked by the money tag.
func parseMoney(c *gin.Context, field, s string) (money.Money, bool) {
	m, err := money.Parse(s)
	if err != nil {
		response.Error(c, errno.ErrValidation.WithMessage(field+" is not a valid amount"))
		return money.Zero, false
	}
	return m, true
}
