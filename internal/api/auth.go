package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/token"
)

const hostRefKey = "host_ref"

type hostRefCtxKey struct{}

// requireHost authenticates the bearer token of a host.
func (a *API) requireHost(c *gin.Context) {
	ref, err := verifyBearer(a.tokens, c.GetHeader("Authorization"))
	if err != nil {
		abort(c, err)
		return
	}

	c.Set(hostRefKey, ref)
	c.Next()
}

func hostRef(c *gin.Context) string {
	return c.GetString(hostRefKey)
}

// HostAuthInterceptor authenticates the bearer token in the authorization metadata of
// HostControl calls. Other services pass through.
func HostAuthInterceptor(tokens *token.Issuer) grpc.UnaryServerInterceptor {
	prefix := "/" + hostControlService + "/"

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}

		ref, err := verifyBearer(tokens, header)
		if err != nil {
			return nil, err
		}

		return handler(context.WithValue(ctx, hostRefCtxKey{}, ref), req)
	}
}

func hostRefFromContext(ctx context.Context) (string, error) {
	ref, _ := ctx.Value(hostRefCtxKey{}).(string)
	if ref == "" {
		return "", errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing host token"))
	}

	return ref, nil
}

func verifyBearer(tokens *token.Issuer, header string) (string, error) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing host token"))
	}

	return tokens.VerifyHost(strings.TrimSpace(tok))
}
