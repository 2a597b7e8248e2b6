package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/pribylovaa/portal-auth/internal/ratelimit"
	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// ClassifyFunc сопоставляет полному имени метода класс ограничения.
// ok=false — метод не ограничивается (например, health).
type ClassifyFunc func(fullMethod string) (class ratelimit.Class, ok bool)

// RateLimit — unary-интерсептор ограничения частоты вызовов по адресу клиента.
//
// Поведение повторяет HTTP-мидлвар:
//   - l == nil или classify == nil делает интерсептор прозрачным;
//   - отказ: codes.ResourceExhausted с errdetails.RetryInfo, handler не вызывается;
//   - отказ хранилища бакетов: вызов пропускается, ошибка пишется в лог;
//   - для политик со SkipSuccessful вызов без ошибки возвращает единицу квоты.
//
// Адрес берётся из peer; x-forwarded-for из metadata учитывается только при trustProxy.
func RateLimit(l *ratelimit.Limiter, classify ClassifyFunc, trustProxy bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if l == nil || classify == nil {
			return handler(ctx, req)
		}

		class, ok := classify(info.FullMethod)
		if !ok {
			return handler(ctx, req)
		}

		id := PeerIdentity(ctx, trustProxy)

		err := l.Allow(ctx, class, id)
		var exceeded *ratelimit.ExceededError
		switch {
		case errors.As(err, &exceeded):
			log.From(ctx).Info("ratelimit_exceeded",
				slog.String("class", string(class)),
				slog.String("client", redact.IP(id)),
			)
			return nil, exhausted(exceeded)
		case err != nil:
			log.From(ctx).Warn("ratelimit_store_failed",
				slog.String("class", string(class)),
				slog.String("client", redact.IP(id)),
				slog.String("err", err.Error()),
			)
			return handler(ctx, req)
		}

		resp, herr := handler(ctx, req)
		if herr == nil {
			if p, _ := l.Policy(class); p.SkipSuccessful {
				if err := l.Release(context.WithoutCancel(ctx), class, id); err != nil {
					log.From(ctx).Warn("ratelimit_release_failed",
						slog.String("class", string(class)),
						slog.String("err", err.Error()),
					)
				}
			}
		}

		return resp, herr
	}
}

// PeerIdentity возвращает идентификатор клиента для бакетов.
func PeerIdentity(ctx context.Context, trustProxy bool) string {
	if trustProxy {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-forwarded-for"); len(v) > 0 {
				first, _, _ := strings.Cut(v[0], ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
	}

	p, ok := peer.FromContext(ctx)
	if !ok || p == nil || p.Addr == nil {
		return "unknown"
	}

	addr := p.Addr.String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}

func exhausted(e *ratelimit.ExceededError) error {
	st := status.New(codes.ResourceExhausted, "too many requests")
	retry := &errdetails.RetryInfo{
		RetryDelay: durationpb.New(e.RetryAfter),
	}

	if withDetails, err := st.WithDetails(retry); err == nil {
		st = withDetails
	}

	return st.Err()
}
