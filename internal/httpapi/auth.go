package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zodiaclab/starledger/pkg/wallet"
)

const (
	contextKeyAccountID = "account_id"
	bearerPrefix        = "Bearer "
)

// sessionMiddleware authenticates requests with an HMAC-signed session
// token issued by the bot after verifying the Telegram user. The token
// subject carries the account id.
func sessionMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session token"))
			return
		}
		rawToken := strings.TrimPrefix(header, bearerPrefix)

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(rawToken, &claims,
			func(token *jwt.Token) (interface{}, error) {
				if _, isHMAC := token.Method.(*jwt.SigningMethodHMAC); !isHMAC {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return signingKey, nil
			},
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session token"))
			return
		}

		accountID, err := wallet.NewAccountID(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
			return
		}
		ctx.Set(contextKeyAccountID, accountID)
		ctx.Next()
	}
}

func accountIDFromContext(ctx *gin.Context) (wallet.AccountID, bool) {
	value, exists := ctx.Get(contextKeyAccountID)
	if !exists {
		return wallet.AccountID{}, false
	}
	accountID, isAccountID := value.(wallet.AccountID)
	return accountID, isAccountID
}
