package xerr

const (
	SERVER_COMMON_ERROR = 100001
	REQUEST_PARAM_ERROR = 100002
	DB_ERROR            = 100004

	ErrInternalServer = 500 // HTTP 500

	ErrBadRequest       = 1000 // HTTP 400
	ErrInvalidInput     = 1001 // HTTP 400
	ErrMissingParameter = 1002 // HTTP 400
	ErrInvalidJSON      = 1003 // HTTP 400

	ErrNotFound         = 1300 // HTTP 404
	ErrResourceNotFound = 1301 // HTTP 404

	// 流水线错误分类
	ErrConflict   = 2001 // HTTP 409 重复 URL / 重复富化 / 同日重复抓取，调用方按 no-op 处理
	ErrValidation = 2002 // HTTP 422 状态迁移前置条件不满足，实体状态不变
	ErrTransient  = 2003 // HTTP 503 限流、网络错误，可由编排层重试
	ErrPermanent  = 2004 // HTTP 422 载荷损坏、内容被拒，不自动重试
)
