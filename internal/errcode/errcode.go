package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 是面向调用方的结构化错误码。
// Code 为业务码，Status 为 HTTP 状态码，Msg 为可直接展示的文案。
type Error struct {
	Code   int
	Msg    string
	Status int
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Msg) }

// Is 按业务码比较，便于 errors.Is 识别 WithMsg 派生出的错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMsg 复制错误码并替换文案。
func (e *Error) WithMsg(format string, args ...any) *Error {
	return &Error{Code: e.Code, Status: e.Status, Msg: fmt.Sprintf(format, args...)}
}

var (
	// 通用
	ServerError  = &Error{Code: 500100, Status: http.StatusInternalServerError, Msg: "服务端异常"}
	BindError    = &Error{Code: 500101, Status: http.StatusBadRequest, Msg: "参数校验异常"}
	Unauthorized = &Error{Code: 500105, Status: http.StatusUnauthorized, Msg: "admin token 无效"}

	// 准入拒绝：限流、未登录、验证码/路径不匹配
	RequestIllegal     = &Error{Code: 500102, Status: http.StatusBadRequest, Msg: "请求非法"}
	VerifyFail         = &Error{Code: 500103, Status: http.StatusBadRequest, Msg: "验证码校验失败"}
	AccessLimitReached = &Error{Code: 500104, Status: http.StatusTooManyRequests, Msg: "访问太频繁"}
	SessionError       = &Error{Code: 500210, Status: http.StatusUnauthorized, Msg: "Session不存在或者已经失效"}
	Overloaded         = &Error{Code: 500106, Status: http.StatusServiceUnavailable, Msg: "系统繁忙，请稍后再试"}

	// 商品与订单
	ItemNotFound   = &Error{Code: 500300, Status: http.StatusNotFound, Msg: "商品不存在"}
	OrderNotExist  = &Error{Code: 500400, Status: http.StatusNotFound, Msg: "订单不存在"}
	SaleNotStarted = &Error{Code: 500504, Status: http.StatusBadRequest, Msg: "秒杀尚未开始"}

	// 库存耗尽与重复购买
	SeckillOver    = &Error{Code: 500500, Status: http.StatusBadRequest, Msg: "商品已经秒杀完毕"}
	RepeatSeckill  = &Error{Code: 500501, Status: http.StatusBadRequest, Msg: "不能重复秒杀"}
	SeckillFail    = &Error{Code: 500502, Status: http.StatusInternalServerError, Msg: "秒杀失败"}
	ParamIllegal   = &Error{Code: 500503, Status: http.StatusBadRequest, Msg: "秒杀请求参数异常"}
	EnqueueFailure = &Error{Code: 500505, Status: http.StatusInternalServerError, Msg: "排队失败，请重试"}
)

// From 将任意错误映射为错误码；非 *Error 一律视为服务端异常。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ServerError
}
