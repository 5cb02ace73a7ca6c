package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// httpStatus 错误码 -> HTTP 状态码
func httpStatus(err error) int {
	switch errs.Code(err) {
	case xerr.ErrConflict:
		return http.StatusConflict
	case xerr.ErrValidation, xerr.ErrPermanent:
		return http.StatusUnprocessableEntity
	case xerr.ErrTransient:
		return http.StatusServiceUnavailable
	case xerr.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("api error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"code": errs.Code(err), "error": err.Error()})
}

// failWith 失败时同时返回实体的最新状态
func failWith(c *gin.Context, err error, data any) {
	c.JSON(httpStatus(err), gin.H{"code": errs.Code(err), "error": err.Error(), "data": data})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"data": data})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryUint(c *gin.Context, key string) uint64 {
	v, _ := strconv.ParseUint(c.Query(key), 10, 64)
	return v
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}

// queryBool 未传时返回 nil
func queryBool(c *gin.Context, key string) *bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return nil
	}
	return &v
}
