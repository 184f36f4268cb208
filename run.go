// Package lenecho 组装配置、日志与 reactor。依赖 poll/epoll，只支持 linux 与 darwin。
package lenecho

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/legamerdc/lenecho/config"
	"github.com/legamerdc/lenecho/internal/logging"
	"github.com/legamerdc/lenecho/server"
)

// Run 按配置构建 logger 与 reactor，阻塞直到 ctx 结束。
// h 为 nil 时原样回显。只有 setup 类错误会返回。
func Run(ctx context.Context, cfg *config.Config, h server.Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "lenecho: logger")
	}
	defer logger.Sync()

	sc := cfg.Server.ToServer()
	sc.Handler = h
	sc.Logger = logger
	s, err := server.New(sc)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return err
	}
	if err := s.Serve(ctx); !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
