// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"time"

	"code.hybscloud.com/respdrive/resp"
	"github.com/sirupsen/logrus"
)

// Logging returns a Middleware that logs each command's token, its
// wall-clock latency, and whether it resolved to an error or a server Error
// Frame, via log. This is the chain's illustrative ambient observer
// (spec.md §4.8's "cross-cutting add-on layered above the core"), not part
// of the core itself.
func Logging(log *logrus.Entry) Middleware {
	if log == nil {
		log = logrus.WithField("component", "middleware")
	}
	return func(ctx *Context, next Next) (resp.Value, error) {
		start := time.Now()
		v, err := next(ctx)
		entry := log.WithField("token", ctx.Token).WithField("elapsed", time.Since(start))
		switch {
		case err != nil:
			entry.WithError(err).Warn("command failed")
		case v.IsError():
			entry.WithField("server_error", v.ErrorMessage()).Warn("command returned a server error")
		default:
			entry.Debug("command completed")
		}
		return v, err
	}
}
