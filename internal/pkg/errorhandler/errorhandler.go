// Package errorhandler logs handler failures before answering with the
// error envelope.
package errorhandler

import (
	"context"
	"net/http"

	"github.com/techpack/techpack-api/internal/pkg/logger"
	"github.com/techpack/techpack-api/internal/pkg/response"
)

// Internal logs err with the request logger and answers 500 with err's
// message (stack in development).
func Internal(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	logger.FromContext(ctx).Error().Err(err).Msg(msg)
	response.InternalErrorWithErr(w, err)
}
