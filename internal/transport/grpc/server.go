// grpc содержит реализацию gRPC-сервиса auth.v1.AuthService.
// Здесь выполняется только маппинг данных и ошибок сервисного слоя в gRPC;
// валидация и бизнес-логика находятся в пакете service.
//
// Сообщения — Go-структуры, сериализуемые JSON-кодеком (content-subtype
// "json"); ServiceDesc объявлен вручную в service_desc.go.
//
// Маппинг ошибок:
//   - ErrValidation и производные -> codes.InvalidArgument
//     (нарушения политики паролей — в деталях errdetails.BadRequest);
//   - ErrEmailTaken -> codes.AlreadyExists;
//   - ErrInvalidCredentials, ErrInvalidToken, ErrTokenExpired -> codes.Unauthenticated;
//   - иные ошибки -> codes.Internal с единым безопасным сообщением.
//
// ValidateToken при невалидном или просроченном токене RPC-ошибку не
// возвращает, а отдаёт {valid:false}.
package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/portal-auth/internal/models"
	"github.com/pribylovaa/portal-auth/internal/service"
	"github.com/pribylovaa/portal-auth/pkg/log"
)

// Service — операции сервисного слоя, нужные gRPC-серверу.
type Service interface {
	Register(ctx context.Context, email, password, name string) (*models.AuthResult, error)
	Login(ctx context.Context, email, password string) (*models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

type AuthServer struct {
	service Service
}

// NewAuthServer создаёт gRPC-сервер авторизации поверх сервисного слоя.
func NewAuthServer(svc Service) *AuthServer {
	return &AuthServer{service: svc}
}

var _ AuthServiceServer = (*AuthServer)(nil)

// Register регистрирует пользователя и возвращает пару токенов.
func (s *AuthServer) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	const op = "transport.grpc.Register"

	res, err := s.service.Register(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		return nil, toStatus(ctx, op, err)
	}

	return authResponse(res.User.ID, res.Tokens), nil
}

// Login аутентифицирует пользователя и возвращает новую пару токенов.
func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	const op = "transport.grpc.Login"

	res, err := s.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus(ctx, op, err)
	}

	return authResponse(res.User.ID, res.Tokens), nil
}

// Refresh выпускает новую пару по refresh-токену (ротация).
func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*AuthResponse, error) {
	const op = "transport.grpc.Refresh"

	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token is required")
	}

	pair, err := s.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(ctx, op, err)
	}

	return authResponse(uuid.Nil, pair), nil
}

// Logout завершает все сессии владельца access-токена.
func (s *AuthServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	const op = "transport.grpc.Logout"

	p, err := s.service.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return nil, toStatus(ctx, op, err)
	}

	if err := s.service.Logout(ctx, p.UserID); err != nil {
		return nil, toStatus(ctx, op, err)
	}

	return &LogoutResponse{Ok: true}, nil
}

// ValidateToken проверяет access-токен. Невалидный токен — не ошибка RPC.
func (s *AuthServer) ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error) {
	const op = "transport.grpc.ValidateToken"

	p, err := s.service.Authenticate(ctx, req.AccessToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return &ValidateTokenResponse{Valid: false}, nil
		}

		return nil, toStatus(ctx, op, err)
	}

	return &ValidateTokenResponse{
		Valid:     true,
		UserID:    p.UserID.String(),
		Email:     p.Email,
		ExpiresAt: p.ExpiresAt.Unix(),
	}, nil
}

func authResponse(uid uuid.UUID, p *models.TokenPair) *AuthResponse {
	resp := &AuthResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt.Unix(),
		RefreshExpiresAt: p.RefreshExpiresAt.Unix(),
	}
	if uid != uuid.Nil {
		resp.UserID = uid.String()
	}

	return resp
}

// toStatus переводит ошибку сервисного слоя в gRPC-статус.
// Детали внутренних ошибок остаются в логе.
func toStatus(ctx context.Context, op string, err error) error {
	var weak *service.WeakPasswordError
	if errors.As(err, &weak) {
		st := status.New(codes.InvalidArgument, "password does not meet requirements")
		br := &errdetails.BadRequest{}
		for _, v := range weak.Violations {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       "password",
				Description: v,
			})
		}

		if withDetails, derr := st.WithDetails(br); derr == nil {
			st = withDetails
		}

		return st.Err()
	}

	switch {
	case errors.Is(err, service.ErrPasswordTooLong):
		return status.Error(codes.InvalidArgument, "password is too long")
	case errors.Is(err, service.ErrInvalidEmail):
		return status.Error(codes.InvalidArgument, "invalid email format")
	case errors.Is(err, service.ErrValidation):
		return status.Error(codes.InvalidArgument, "invalid input")
	case errors.Is(err, service.ErrEmailTaken):
		return status.Error(codes.AlreadyExists, "email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, service.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	}

	log.From(ctx).Error("grpc_internal_error",
		slog.String("op", op),
		slog.String("err", err.Error()),
	)

	return status.Error(codes.Internal, "internal server error")
}
