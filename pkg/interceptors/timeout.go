// interceptors содержит серверные unary-интерсепторы gRPC, общие для сервиса:
// восстановление после паник, логирование, ограничение частоты
// и дедлайн по умолчанию.
package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// WithTimeout навешивает таймаут d на контекст запроса, если дедлайна ещё нет.
// d <= 0 делает интерсептор прозрачным; существующий дедлайн не переопределяется.
func WithTimeout(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}

		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return handler(ctx, req)
	}
}
